package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xenpm/xensuspend/internal/config"
	"github.com/xenpm/xensuspend/internal/controlplane"
	"github.com/xenpm/xensuspend/internal/daemon"
	"github.com/xenpm/xensuspend/internal/metrics"
	"github.com/xenpm/xensuspend/internal/version"
)

// monitorDialAttempts covers xenstored starting after us at boot.
const monitorDialAttempts = 10

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch for guests and run a suspend cycle when one asks for it",
	Long: `Run in the foreground, watching XenStore. Every guest gets a
control/system-suspend-req node it may write to; writing "suspend" there
suspends the whole host. Stop with SIGINT or SIGTERM.

Detaching and restarts are left to the service manager.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	flags := daemonCmd.Flags()
	flags.String("pidfile", config.DefaultPIDFile, "path to PID file")
	flags.String("metrics-listen", "", "serve /metrics, /live and /ready on this address")
	bindFlags(flags, map[string]string{"pidfile": "pid_file", "metrics-listen": "metrics_listen"})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := config.Global
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	release, err := acquirePIDFile(cfg.PIDFile)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if err := preflight(ctx, cfg, logger); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orch, err := newOrchestrator(cfg, logger, m)
	if err != nil {
		return err
	}
	d := daemon.New(controlplane.XenstoreDialer(cfg.StorePath), orch, logger,
		daemon.WithMetrics(m),
		daemon.WithMonitorDialer(controlplane.RetryingXenstoreDialer(cfg.StorePath, monitorDialAttempts)),
	)

	logger.Info("starting daemon", "version", version.String(), "pid_file", cfg.PIDFile, "store", cfg.StorePath)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(ctx) })
	if cfg.MetricsListen != "" {
		srv := metrics.NewServer(cfg.MetricsListen, reg, d.Ready, logger)
		g.Go(func() error { return srv.Run(ctx) })
	}
	return g.Wait()
}
