package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all xensuspend configuration.
type Config struct {
	// StorePath is the xenstored socket or xenbus device.
	StorePath string `mapstructure:"store_path"`

	// XLPath is the toolstack binary used to drive guests.
	XLPath string `mapstructure:"xl_path"`

	// PowerStatePath is the file written to put the host to sleep.
	PowerStatePath string `mapstructure:"power_state_path"`

	// SleepState is the value written to PowerStatePath.
	SleepState string `mapstructure:"sleep_state"`

	// SuspendTimeout bounds the wait for each guest to suspend.
	SuspendTimeout time.Duration `mapstructure:"suspend_timeout"`

	// PollInterval is how often guest status is checked while waiting.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// SettleDelay separates consecutive guests during resume.
	SettleDelay time.Duration `mapstructure:"settle_delay"`

	// RecomputeResumeOrder rebuilds the dependency graph after wake-up.
	RecomputeResumeOrder bool `mapstructure:"recompute_resume_order"`

	// RollbackOnFailure resumes already-suspended guests when a suspend fails.
	RollbackOnFailure bool `mapstructure:"rollback_on_failure"`

	// StateFile records the outcome of the last cycle.
	StateFile string `mapstructure:"state_file"`

	// PIDFile is locked by the running daemon.
	PIDFile string `mapstructure:"pid_file"`

	// MetricsListen is the daemon's metrics address (empty = disabled).
	MetricsListen string `mapstructure:"metrics_listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is text or json.
	LogFormat string `mapstructure:"log_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StorePath:            "/var/run/xenstored/socket",
		XLPath:               "xl",
		PowerStatePath:       "/sys/power/state",
		SleepState:           "mem",
		SuspendTimeout:       60 * time.Second,
		PollInterval:         time.Second,
		SettleDelay:          3 * time.Second,
		RecomputeResumeOrder: true,
		RollbackOnFailure:    false,
		StateFile:            DefaultStateFile,
		PIDFile:              DefaultPIDFile,
		MetricsListen:        "",
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// Global holds the loaded configuration.
var Global *Config

// Load reads configuration from defaults, then the config file, then
// the environment. configFile overrides the search path; a named file
// must exist.
func Load(configFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("store_path", defaults.StorePath)
	viper.SetDefault("xl_path", defaults.XLPath)
	viper.SetDefault("power_state_path", defaults.PowerStatePath)
	viper.SetDefault("sleep_state", defaults.SleepState)
	viper.SetDefault("suspend_timeout", defaults.SuspendTimeout)
	viper.SetDefault("poll_interval", defaults.PollInterval)
	viper.SetDefault("settle_delay", defaults.SettleDelay)
	viper.SetDefault("recompute_resume_order", defaults.RecomputeResumeOrder)
	viper.SetDefault("rollback_on_failure", defaults.RollbackOnFailure)
	viper.SetDefault("state_file", defaults.StateFile)
	viper.SetDefault("pid_file", defaults.PIDFile)
	viper.SetDefault("metrics_listen", defaults.MetricsListen)
	viper.SetDefault("log_level", defaults.LogLevel)
	viper.SetDefault("log_format", defaults.LogFormat)

	// Config file settings
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir)
	}

	// Environment variable support: XENSUSPEND_SUSPEND_TIMEOUT, XENSUSPEND_XL_PATH, etc.
	viper.SetEnvPrefix("XENSUSPEND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Read config file (optional unless named explicitly)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Unmarshal into struct
	Global = &Config{}
	if err := viper.Unmarshal(Global); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	return nil
}

// ConfigFileUsed returns the path of the config file being used, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
