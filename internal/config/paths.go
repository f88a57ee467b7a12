// Package config provides configuration management for xensuspend.
package config

import (
	"os"
	"path/filepath"
)

// Default locations. The daemon runs as root on the control domain, so
// these are system paths rather than per-user ones.
const (
	DefaultConfigDir = "/etc/xensuspend"
	DefaultStateFile = "/var/lib/xensuspend/state.json"
	DefaultPIDFile   = "/var/run/xensuspend.pid"
)

// EnsureDirectories creates the parent directories of the state and PID
// files if they don't exist.
func (c *Config) EnsureDirectories() error {
	for _, p := range []string{c.StateFile, c.PIDFile} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
	}
	return nil
}
