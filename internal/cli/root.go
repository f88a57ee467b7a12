// Package cli provides the command-line interface for xensuspend.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xenpm/xensuspend/internal/config"
)

var (
	cfgFile   string
	verbose   bool
	logFormat string

	// logger is set up by the root command before any subcommand runs.
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "xensuspend",
	Short: "xensuspend - dependency-ordered suspend and resume for Xen hosts",
	Long: `xensuspend suspends every guest of a Xen host in an order that respects
which guests provide disk and network backends to which, puts the host to
sleep, and resumes everything in reverse once it wakes.

Run "xensuspend daemon" on the control domain to let guests request a host
suspend by writing "suspend" to their control/system-suspend-req node.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		switch cmd.Name() {
		case "version", "completion", "help":
			return nil
		}
		if err := config.Load(cfgFile); err != nil {
			return err
		}
		if errs := config.Validate(config.Global); len(errs) > 0 {
			fmt.Fprint(cmd.ErrOrStderr(), config.FormatValidationErrors(errs))
			if config.HasFatal(errs) {
				return fmt.Errorf("invalid configuration")
			}
		}
		logger = newLogger(cmd.ErrOrStderr(), config.Global.LogLevel, config.Global.LogFormat, verbose)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

// bindFlags makes each named flag of fs override its config key when set
// on the command line.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default /etc/xensuspend/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	bindFlags(flags, map[string]string{"log-format": "log_format"})

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(suspendCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)
}
