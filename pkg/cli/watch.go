package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskboard/pkg/cache"
	"github.com/harrisonrobin/taskboard/pkg/logging"
	"github.com/harrisonrobin/taskboard/pkg/overdue"
	"github.com/harrisonrobin/taskboard/pkg/tracker"
)

var watchOnce bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll tasks and announce ones that become overdue",
	Long: `watch polls the task source at the configured refresh interval and prints
each task the first time it is seen overdue. Announced tasks are remembered in
~/.config/taskboard/overdue.json so restarts do not repeat them.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "check once and exit")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tr, cfg, err := openTracker(ctx)
	if err != nil {
		return err
	}
	defer tr.Close()

	table, err := overdue.NewTable()
	if err != nil {
		return fmt.Errorf("failed to open overdue table: %w", err)
	}

	snap, err := tr.Wait(ctx)
	if err != nil {
		return err
	}
	announce(cmd.OutOrStdout(), table, snap)
	if watchOnce {
		return nil
	}

	interval := cfg.RefreshInterval.Std()
	if interval <= 0 {
		interval = tracker.DefaultRefreshInterval
	}
	tr.Start(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			announce(cmd.OutOrStdout(), table, tr.Snapshot())
		}
	}
}

func announce(out io.Writer, table *overdue.Table, snap cache.Snapshot) {
	if snap.State != cache.Ready {
		if snap.Err != nil {
			logging.Logger.WithError(snap.Err).Warn("Skipping overdue check")
		}
		return
	}
	now := time.Now()
	for _, t := range table.Sweep(snap.Tasks, now) {
		fmt.Fprintf(out, "Overdue: %s (due %s) [%s]\n", t.Title, t.CompletionDate, t.ID)
	}
	if err := table.Save(); err != nil {
		logging.Logger.Warnf("failed to save overdue table: %v", err)
	}
}
