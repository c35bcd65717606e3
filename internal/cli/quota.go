package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotaledger/quotaledger/internal/engine"
	"github.com/quotaledger/quotaledger/internal/models"
)

// quotaCmd groups the quota entry operations.
var quotaCmd = &cobra.Command{
	Use:     "quota",
	Aliases: []string{"q", "quotas"},
	Short:   "Manage quota entries and run admission checks",
	Long: `Create, inspect, modify and delete quota entries.

An entry with neither --group nor --user is global, one with only
--group applies to the whole group, and one with both applies to a
single user within the group.

Examples:
  quotaledger quota create --group gpu --limit 40
  quotaledger quota create --group gpu --user alice --limit 8
  quotaledger quota list --group gpu
  quotaledger quota check --user alice --flavor g1.small --count 2`,
}

var quotaFlags struct {
	All    bool
	Group  string
	User   string
	Limit  int64
	Yes    bool
	Flavor string
	Count  uint32
	DryRun bool
}

var quotaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quota entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := models.QuotaFilter{All: quotaFlags.All, Group: quotaFlags.Group, User: quotaFlags.User}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			quotas, err := e.ListQuota(ctx, filter)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, quotas)
			}
			return printQuotas(cmd, quotas)
		})
	},
}

var quotaGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one quota entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			q, err := e.GetQuota(ctx, args[0])
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, q)
			}
			return printQuotas(cmd, []*models.QuotaEntry{q})
		})
	},
}

var quotaCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a quota entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := models.CreateQuotaRequest{GroupRef: quotaFlags.Group, OwnerRef: quotaFlags.User, Limit: quotaFlags.Limit}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			q, err := e.CreateQuota(ctx, req)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, q)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s quota %s (limit %d)\n", q.Scope, q.ID, q.Limit)
			return nil
		})
	},
}

var quotaModifyCmd = &cobra.Command{
	Use:   "modify ID",
	Short: "Change the limit or references of a quota entry",
	Long: `Change the limit or references of a quota entry. Only the flags given
are applied; --group "" or --user "" clears a reference, which may
change the entry's scope.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch models.QuotaPatch
		if cmd.Flags().Changed("limit") {
			patch.Limit = &quotaFlags.Limit
		}
		if cmd.Flags().Changed("group") {
			patch.GroupRef = &quotaFlags.Group
		}
		if cmd.Flags().Changed("user") {
			patch.OwnerRef = &quotaFlags.User
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			q, err := e.ModifyQuota(ctx, args[0], patch)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, q)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated quota %s\n", q.ID)
			return nil
		})
	},
}

var quotaDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a quota entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !quotaFlags.Yes && !confirm(cmd, fmt.Sprintf("Delete quota %s?", args[0])) {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if err := e.DeleteQuota(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted quota %s\n", args[0])
			return nil
		})
	},
}

var quotaCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Ask whether a user may take count units of a flavor",
	Long: `Run an admission check. An allowed check holds reservations until they
are confirmed, released, or discarded by reconciliation; --dry-run
releases them immediately. A denial is reported, not treated as an error.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			d, err := e.CheckAdmission(ctx, quotaFlags.User, quotaFlags.Flavor, quotaFlags.Count)
			if err != nil {
				return err
			}
			if quotaFlags.DryRun {
				for _, id := range d.Reservations {
					if err := e.ReleaseReservation(ctx, id); err != nil {
						return fmt.Errorf("release %s: %w", id, err)
					}
				}
			}
			if globalFlags.JSON {
				return writeJSON(cmd, d)
			}
			printDecision(cmd, d)
			return nil
		})
	},
}

func init() {
	quotaListCmd.Flags().BoolVar(&quotaFlags.All, "all", false, "List every entry")
	quotaListCmd.Flags().StringVar(&quotaFlags.Group, "group", "", "Entries that apply to the group")
	quotaListCmd.Flags().StringVar(&quotaFlags.User, "user", "", "Entries that apply to the user")

	for _, c := range []*cobra.Command{quotaCreateCmd, quotaModifyCmd} {
		c.Flags().StringVar(&quotaFlags.Group, "group", "", "Group reference")
		c.Flags().StringVar(&quotaFlags.User, "user", "", "User reference")
		c.Flags().Int64Var(&quotaFlags.Limit, "limit", 0, "Maximum consumption")
	}
	_ = quotaCreateCmd.MarkFlagRequired("limit")

	quotaDeleteCmd.Flags().BoolVarP(&quotaFlags.Yes, "yes", "y", false, "Skip confirmation")

	quotaCheckCmd.Flags().StringVar(&quotaFlags.User, "user", "", "Requesting user")
	quotaCheckCmd.Flags().StringVar(&quotaFlags.Flavor, "flavor", "", "Flavor name or id")
	quotaCheckCmd.Flags().Uint32Var(&quotaFlags.Count, "count", 1, "Units requested")
	quotaCheckCmd.Flags().BoolVar(&quotaFlags.DryRun, "dry-run", false, "Release reservations after deciding")
	_ = quotaCheckCmd.MarkFlagRequired("user")
	_ = quotaCheckCmd.MarkFlagRequired("flavor")

	quotaCmd.AddCommand(quotaListCmd, quotaGetCmd, quotaCreateCmd, quotaModifyCmd, quotaDeleteCmd, quotaCheckCmd)
	RootCmd.AddCommand(quotaCmd)
}

func printQuotas(cmd *cobra.Command, quotas []*models.QuotaEntry) error {
	out := cmd.OutOrStdout()
	if len(quotas) == 0 {
		fmt.Fprintln(out, "No quota entries found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCOPE\tGROUP\tUSER\tLIMIT\tCONSUMED\tOUTSTANDING\tSYNCED")
	for _, q := range quotas {
		synced := "never"
		if q.SyncedAt != nil {
			synced = q.SyncedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			q.ID, q.Scope, dash(q.GroupRef), dash(q.OwnerRef), q.Limit, q.Consumed, q.Outstanding, synced)
	}
	return w.Flush()
}

func printDecision(cmd *cobra.Command, d *models.Decision) {
	out := cmd.OutOrStdout()
	if d.Allowed {
		fmt.Fprintf(out, "ALLOWED %s x%d for %s (remaining %s)\n", d.Flavor, d.Count, d.User, formatRemaining(d.Remaining))
		for _, id := range d.Reservations {
			fmt.Fprintf(out, "  reservation %s\n", id)
		}
		return
	}
	fmt.Fprintf(out, "DENIED %s x%d for %s: %s limit (remaining %s)\n",
		d.Flavor, d.Count, d.User, d.LimitingFactor, formatRemaining(d.Remaining))
	if d.Reason != "" {
		fmt.Fprintf(out, "  %s\n", d.Reason)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
