package tcfg

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sisatech/toml"

	"github.com/tinix-os/tinix/pkg/disk"
	"github.com/tinix-os/tinix/pkg/elog"
	"github.com/tinix-os/tinix/pkg/mem"
	"github.com/tinix-os/tinix/pkg/proc"
)

// Config is the simulator's tunable configuration, loaded from a TOML file.
// Anything left unset falls back to the compiled-in defaults.
type Config struct {
	Disk DiskSettings `toml:"disk"`
	Proc ProcSettings `toml:"proc"`
	Mem  MemSettings  `toml:"mem"`
}

// DiskSettings ..
type DiskSettings struct {
	Image string `toml:"image,omitempty"`
}

// ProcSettings ..
type ProcSettings struct {
	TimeSlice        int `toml:"time-slice,omitzero"`
	DefaultTotalTime int `toml:"default-total-time,omitzero"`
}

// MemSettings ..
type MemSettings struct {
	PageFrames   int `toml:"page-frames,omitzero"`
	VirtualPages int `toml:"virtual-pages,omitzero"`
}

// Default returns a Config carrying the compiled-in defaults.
func Default() *Config {
	return &Config{
		Disk: DiskSettings{
			Image: disk.DefaultImageName,
		},
		Proc: ProcSettings{
			TimeSlice:        proc.DefaultTimeSlice,
			DefaultTotalTime: 10,
		},
		Mem: MemSettings{
			PageFrames:   mem.PageFrames,
			VirtualPages: mem.DefaultVirtualPages,
		},
	}
}

// DefaultPath returns the per-user configuration file location.
func DefaultPath() (string, error) {

	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "resolving home directory")
	}

	return filepath.Join(home, ".tinix", "conf.toml"), nil

}

// Load reads a Config from path.
func Load(path string) (*Config, error) {

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config '%s'", path)
	}

	cfg := new(Config)
	err = toml.Unmarshal(data, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing config '%s'", path)
	}

	return cfg, nil

}

// LoadOrDefault reads the config at path if it exists, falling back to
// defaults otherwise. Unset fields are filled in either way.
func LoadOrDefault(path string, log elog.View) (*Config, error) {

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		log.Debugf("no config at '%s', using defaults", path)
		return Default(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "checking config '%s'", path)
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	WithDefaults(cfg, log)
	return cfg, nil

}

// WithDefaults fills any unset fields with the compiled-in defaults.
func WithDefaults(cfg *Config, log elog.View) {

	if cfg.Disk.Image == "" {
		log.Debugf("using default disk image '%s'", disk.DefaultImageName)
		cfg.Disk.Image = disk.DefaultImageName
	}

	if cfg.Proc.TimeSlice <= 0 {
		log.Debugf("using default time slice (%d)", proc.DefaultTimeSlice)
		cfg.Proc.TimeSlice = proc.DefaultTimeSlice
	}

	if cfg.Proc.DefaultTotalTime <= 0 {
		cfg.Proc.DefaultTotalTime = 10
	}

	if cfg.Mem.PageFrames <= 0 {
		cfg.Mem.PageFrames = mem.PageFrames
	}

	if cfg.Mem.VirtualPages <= 0 {
		cfg.Mem.VirtualPages = mem.DefaultVirtualPages
	}

}
