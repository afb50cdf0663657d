package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tinix-os/tinix/pkg/elog"
	"github.com/tinix-os/tinix/pkg/kernel"
	"github.com/tinix-os/tinix/pkg/shell"
	"github.com/tinix-os/tinix/pkg/tcfg"
)

var log elog.View

var (
	flagJSON    bool
	flagVerbose bool
	flagDebug   bool
	flagConfig  string
	flagImage   string
)

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	flags.BoolVarP(&flagJSON, "json", "j", false, "enable json output")
	flags.StringVar(&flagConfig, "config", "", "path to a config file (default ~/.tinix/conf.toml)")
	flags.StringVar(&flagImage, "image", "", "path to the disk image (overrides config)")
}

func commandInit() {

	// setup logging across all commands
	addGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		log = elog.NewCLI(elog.Options{
			Verbose: flagVerbose,
			Debug:   flagDebug,
			JSON:    flagJSON,
		})
		return nil
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(fsCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(catCmd)

}

var rootCmd = &cobra.Command{
	Use:   "tinix",
	Short: "Tinix's command-line interface",
	Long: `Tinix is a pedagogical operating-system simulator: a round-robin process
scheduler, paged virtual memory, exclusive device allocation, and a
block-structured file system over a file-backed disk image, driven from an
interactive shell.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "View CLI version information",
	Long:  "View CLI version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		log.Printf("version: %s", release)
		log.Printf("ref: %s", commit)
		log.Printf("released: %s", date)
	},
}

func bootKernel() (*kernel.Kernel, error) {

	cfg, err := tcfg.LoadOrDefault(flagConfig, log)
	if err != nil {
		return nil, err
	}

	if flagImage != "" {
		cfg.Disk.Image = flagImage
	}

	return kernel.New(cfg, log)

}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start the interactive simulator shell",
	Long: `Start the interactive simulator shell over the configured disk image.
The image is created and zero-filled on first use.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {

		k, err := bootKernel()
		if err != nil {
			return err
		}
		defer k.Close()

		sh := shell.New(k, log)
		return sh.Run()

	},
}

var execCmd = &cobra.Command{
	Use:   "exec SCRIPT",
	Short: "Run a script of shell commands",
	Long: `Run a script of shell commands against the configured disk image. Blank
lines and '#' comments are skipped; each command is echoed as it runs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		k, err := bootKernel()
		if err != nil {
			return err
		}
		defer k.Close()

		sh := shell.New(k, log)
		err = sh.RunScript(args[0])
		if err != nil {
			return fmt.Errorf("script '%s': %w", args[0], err)
		}

		return nil

	},
}
