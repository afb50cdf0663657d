package tcfg

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinix-os/tinix/pkg/disk"
	"github.com/tinix-os/tinix/pkg/elog"
	"github.com/tinix-os/tinix/pkg/mem"
	"github.com/tinix-os/tinix/pkg/proc"
)

func TestDefaults(t *testing.T) {

	cfg := Default()

	assert.Equal(t, disk.DefaultImageName, cfg.Disk.Image)
	assert.Equal(t, proc.DefaultTimeSlice, cfg.Proc.TimeSlice)
	assert.Equal(t, mem.PageFrames, cfg.Mem.PageFrames)
	assert.Equal(t, mem.DefaultVirtualPages, cfg.Mem.VirtualPages)

}

func TestLoad(t *testing.T) {

	dir, err := ioutil.TempDir("", "tinix-tcfg-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "conf.toml")
	data := `[disk]
image = "/tmp/other.img"

[proc]
time-slice = 5
`
	require.NoError(t, ioutil.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/other.img", cfg.Disk.Image)
	assert.Equal(t, 5, cfg.Proc.TimeSlice)

	// unset sections come back zeroed until defaults are applied
	assert.Equal(t, 0, cfg.Mem.PageFrames)

	WithDefaults(cfg, elog.Discard)
	assert.Equal(t, mem.PageFrames, cfg.Mem.PageFrames)
	assert.Equal(t, 5, cfg.Proc.TimeSlice)

}

func TestLoadOrDefault(t *testing.T) {

	dir, err := ioutil.TempDir("", "tinix-tcfg-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg, err := LoadOrDefault(filepath.Join(dir, "missing.toml"), elog.Discard)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

}
