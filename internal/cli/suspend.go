package cli

import (
	"github.com/spf13/cobra"

	"github.com/xenpm/xensuspend/internal/config"
)

var suspendCmd = &cobra.Command{
	Use:   "suspend",
	Short: "Suspend all guests and the host now, resume them on wake-up",
	Long: `Run one full cycle: suspend every guest in dependency order, put the host
to sleep, and resume the guests in reverse order once the host wakes.

The command returns after the resume phase.`,
	Args: cobra.NoArgs,
	RunE: runSuspend,
}

func init() {
	suspendCmd.Flags().Duration("timeout", 0, "per-guest suspend timeout (default from config, 60s)")
	bindFlags(suspendCmd.Flags(), map[string]string{"timeout": "suspend_timeout"})
}

func runSuspend(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	cfg := config.Global
	if err := preflight(ctx, cfg, logger); err != nil {
		return err
	}
	orch, err := newOrchestrator(cfg, logger, nil)
	if err != nil {
		return err
	}
	return orch.RunFullSuspendCycle(ctx)
}
