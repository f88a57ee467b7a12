// Package testutil provides in-memory stand-ins for the control-plane
// store and the hypervisor, shared by xensuspend tests.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/xenpm/xensuspend/internal/config"
)

// DiscardLogger returns a logger that drops everything. Goroutines that
// outlive a test may still log through it safely.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestConfig returns a Config suitable for testing. File paths live
// under t.TempDir() and the timing knobs are shrunk to milliseconds.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.StorePath = filepath.Join(dir, "xenstored", "socket")
	cfg.PowerStatePath = filepath.Join(dir, "power", "state")
	cfg.StateFile = filepath.Join(dir, "lib", "state.json")
	cfg.PIDFile = filepath.Join(dir, "run", "xensuspend.pid")
	cfg.SuspendTimeout = 50 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.SettleDelay = time.Millisecond
	return cfg
}
