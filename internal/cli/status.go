package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xenpm/xensuspend/internal/config"
	"github.com/xenpm/xensuspend/internal/controlplane"
	"github.com/xenpm/xensuspend/internal/state"
	"github.com/xenpm/xensuspend/pkg/hypervisor"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show guests, daemon state and the last suspend cycle",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

// statusReport is everything the status command prints.
type statusReport struct {
	DaemonPID int
	Guests    []guestRow
	GuestsErr error
	Last      *state.PersistentState
}

type guestRow struct {
	ID    hypervisor.GuestID
	Name  string
	State string
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	cfg := config.Global

	var r statusReport
	if running, pid := isDaemonRunning(cfg.PIDFile); running {
		r.DaemonPID = pid
	}
	r.Guests, r.GuestsErr = collectGuests(ctx, cfg)

	last, err := state.NewStateFile(cfg.StateFile).Load()
	if err != nil {
		logger.Warn("could not read cycle history", "err", err)
	}
	r.Last = last

	renderStatus(cmd.OutOrStdout(), r)
	return nil
}

// collectGuests lists the guests in XenStore and asks the toolstack for
// each one's state. A missing toolstack leaves the state unknown.
func collectGuests(ctx context.Context, cfg *config.Config) ([]guestRow, error) {
	conn, err := controlplane.XenstoreDialer(cfg.StorePath)(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := controlplane.ListGuests(ctx, conn)
	conn.Close()
	if err != nil {
		return nil, err
	}

	driver, derr := hypervisor.NewDriver(cfg.XLPath)
	rows := make([]guestRow, 0, len(ids))
	for _, id := range ids {
		row := guestRow{ID: id, Name: "-", State: "unknown"}
		if derr == nil {
			st, err := driver.Status(ctx, id)
			switch {
			case err == nil:
				row.Name, row.State = st.Name, st.State()
			case ctx.Err() != nil:
				return rows, ctx.Err()
			default:
				row.State = "error: " + err.Error()
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func renderStatus(w io.Writer, r statusReport) {
	if r.DaemonPID > 0 {
		fmt.Fprintf(w, "Daemon:  running (PID %d)\n", r.DaemonPID)
	} else {
		fmt.Fprintln(w, "Daemon:  not running")
	}
	fmt.Fprintln(w)

	if r.GuestsErr != nil {
		fmt.Fprintf(w, "Guests:  unavailable (%v)\n", r.GuestsErr)
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "GUEST\tNAME\tSTATE")
		for _, g := range r.Guests {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", g.ID, g.Name, g.State)
		}
		tw.Flush()
	}
	fmt.Fprintln(w)

	last := r.Last
	if last == nil || last.CycleCount == 0 {
		fmt.Fprintln(w, "Last cycle: none")
		return
	}
	result := "ok"
	if !last.CleanCycle {
		result = "failed: " + last.LastError
	}
	order := make([]string, len(last.LastOrder))
	for i, id := range last.LastOrder {
		order[i] = fmt.Sprint(id)
	}
	fmt.Fprintf(w, "Last cycle: %s\n", last.LastCycleID)
	fmt.Fprintf(w, "  Started:  %s\n", formatTime(last.LastSuspend))
	fmt.Fprintf(w, "  Finished: %s\n", formatTime(last.LastResume))
	fmt.Fprintf(w, "  Result:   %s\n", result)
	fmt.Fprintf(w, "  Order:    %s\n", strings.Join(order, " "))
	fmt.Fprintf(w, "Cycles:     %d (%d failed)\n", last.CycleCount, last.FailedCount)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
