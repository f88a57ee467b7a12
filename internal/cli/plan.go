package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xenpm/xensuspend/internal/config"
	"github.com/xenpm/xensuspend/internal/topology"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the guest dependency graph and the suspend and resume order",
	Long: `Read the backend topology from XenStore and print which guests depend on
which, and the order a suspend cycle would use. Nothing is suspended.`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	g, order, err := newPlanner(config.Global, logger).PlanSuspend(ctx)
	if g != nil {
		if rerr := renderPlan(cmd.OutOrStdout(), g, order); rerr != nil {
			return rerr
		}
	}
	return err
}

// renderPlan prints the graph and, when order is known, both orders.
func renderPlan(w io.Writer, g topology.Graph, order topology.Order) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GUEST\tDEPENDS ON")
	for _, id := range g.Guests() {
		deps := g[id].Sorted()
		names := make([]string, len(deps))
		for i, d := range deps {
			names[i] = d.String()
		}
		list := strings.Join(names, ", ")
		if list == "" {
			list = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\n", id, list)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if order == nil {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Suspend order: %s\n", order)
	fmt.Fprintf(w, "Resume order:  %s\n", order.Reverse())
	return nil
}
