package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotaledger/quotaledger/internal/engine"
	"github.com/quotaledger/quotaledger/internal/models"
)

// overCmd lists over-limit entries.
var overCmd = &cobra.Command{
	Use:   "over",
	Short: "List entries whose consumption exceeds their limit",
	Long: `List quota and budget entries whose cached consumption exceeds their
limit, as of the last reconciliation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			records, err := e.ListOverBudget(ctx)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, records)
			}
			return printOverage(cmd, records)
		})
	},
}

var syncFlags struct {
	State bool
}

// syncCmd runs one reconciliation cycle.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation cycle now",
	Long: `Fetch authoritative usage from the oracle for every ledger entry and
overwrite cached consumption. With --state, print the persisted report
of the last cycle instead of running one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if syncFlags.State {
				status := e.SyncState()
				if globalFlags.JSON {
					return writeJSON(cmd, status)
				}
				if status.LastReport == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No reconciliation has run yet.")
					return nil
				}
				return printReport(cmd, status.LastReport)
			}

			report, err := e.TriggerSync(ctx)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, report)
			}
			return printReport(cmd, report)
		})
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFlags.State, "state", false, "Show the last report without syncing")

	RootCmd.AddCommand(overCmd, syncCmd)
}

func printOverage(cmd *cobra.Command, records []models.OverageRecord) error {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No entries over limit.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tID\tGROUP\tUSER\tLIMIT\tCONSUMED\tOVER")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.EntryKind, r.EntryID, dash(r.GroupRef), dash(r.OwnerRef), r.Limit, r.Consumed, r.Overage)
	}
	return w.Flush()
}

func printReport(cmd *cobra.Command, r *models.SyncReport) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Reconciled %d pairs in %s: %d synced, %d over, %d drifted, %d failed, %d stale reservations discarded\n",
		r.Pairs, r.Duration(), r.Synced, r.Over, r.Drifted, r.Failed, r.StaleDiscarded)
	if len(r.Errors) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PAIR\tENTRY\tERROR")
	for _, pe := range r.Errors {
		fmt.Fprintf(w, "%s\t%s\t%s\n", pe.Pair, pe.EntryID, pe.Error)
	}
	return w.Flush()
}
