package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/xenpm/xensuspend/internal/config"
	"github.com/xenpm/xensuspend/internal/controlplane"
	"github.com/xenpm/xensuspend/internal/lifecycle"
	"github.com/xenpm/xensuspend/internal/metrics"
	"github.com/xenpm/xensuspend/internal/orchestrator"
	"github.com/xenpm/xensuspend/internal/state"
	"github.com/xenpm/xensuspend/internal/topology"
	"github.com/xenpm/xensuspend/pkg/hypervisor"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// preflight logs host checks and fails on fatal ones.
func preflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	fatal := 0
	for _, f := range hypervisor.Preflight(ctx, cfg.XLPath) {
		if f.Fatal {
			fatal++
			logger.Error("preflight", "check", f.Check, "problem", f.Message)
			continue
		}
		logger.Warn("preflight", "check", f.Check, "problem", f.Message)
	}
	if fatal > 0 {
		return fmt.Errorf("%d preflight check(s) failed", fatal)
	}
	return nil
}

// newOrchestrator wires the xl driver, sysfs host power and xenstore
// discovery into an Orchestrator. m may be nil.
func newOrchestrator(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*orchestrator.Orchestrator, error) {
	driver, err := hypervisor.NewDriver(cfg.XLPath)
	if err != nil {
		return nil, fmt.Errorf("guest driver: %w", err)
	}
	power, err := hypervisor.NewHostPower(cfg.PowerStatePath, cfg.SleepState)
	if err != nil {
		return nil, fmt.Errorf("host power: %w", err)
	}
	guests := lifecycle.NewDriver(driver, driver, power, lifecycle.Config{
		PollInterval:   cfg.PollInterval,
		SuspendTimeout: cfg.SuspendTimeout,
	}, logger)

	return orchestrator.New(newBuilder(cfg, logger), guests, orchestratorConfig(cfg), logger,
		orchestrator.WithRecorder(state.NewStateFile(cfg.StateFile)),
		orchestrator.WithCycleLock(state.NewCycleLock(state.LockPathFor(cfg.StateFile))),
		orchestrator.WithMetrics(m),
	), nil
}

// newPlanner returns an Orchestrator that can only plan; it needs no
// toolstack.
func newPlanner(cfg *config.Config, logger *slog.Logger) *orchestrator.Orchestrator {
	return orchestrator.New(newBuilder(cfg, logger), nil, orchestratorConfig(cfg), logger)
}

func newBuilder(cfg *config.Config, logger *slog.Logger) *topology.Builder {
	return topology.NewBuilder(controlplane.XenstoreDialer(cfg.StorePath), logger)
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		SuspendTimeout:       cfg.SuspendTimeout,
		SettleDelay:          cfg.SettleDelay,
		RecomputeResumeOrder: cfg.RecomputeResumeOrder,
		RollbackOnFailure:    cfg.RollbackOnFailure,
	}
}
