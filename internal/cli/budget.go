package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotaledger/quotaledger/internal/engine"
	"github.com/quotaledger/quotaledger/internal/models"
)

// budgetCmd groups the per-user budget operations.
var budgetCmd = &cobra.Command{
	Use:     "budget",
	Aliases: []string{"b", "budgets"},
	Short:   "Manage per-user budgets",
}

var budgetFlags struct {
	User     string
	Limit    int64
	Consumed int64
	Yes      bool
}

var budgetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List budgets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			budgets, err := e.ListBudgets(ctx, budgetFlags.User)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, budgets)
			}
			return printBudgets(cmd, budgets)
		})
	},
}

var budgetGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			b, err := e.GetBudget(ctx, args[0])
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, b)
			}
			return printBudgets(cmd, []*models.BudgetEntry{b})
		})
	},
}

var budgetCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a budget for a user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			b, err := e.CreateBudget(ctx, budgetFlags.User, budgetFlags.Limit)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created budget %s for %s (limit %d)\n", b.ID, b.OwnerRef, b.Limit)
			return nil
		})
	},
}

var budgetModifyCmd = &cobra.Command{
	Use:   "modify ID",
	Short: "Change the limit or cached consumption of a budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch models.BudgetPatch
		if cmd.Flags().Changed("limit") {
			patch.Limit = &budgetFlags.Limit
		}
		if cmd.Flags().Changed("consumed") {
			patch.Consumed = &budgetFlags.Consumed
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			b, err := e.ModifyBudget(ctx, args[0], patch)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated budget %s\n", b.ID)
			return nil
		})
	},
}

var budgetDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !budgetFlags.Yes && !confirm(cmd, fmt.Sprintf("Delete budget %s?", args[0])) {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if err := e.DeleteBudget(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted budget %s\n", args[0])
			return nil
		})
	},
}

func init() {
	budgetListCmd.Flags().StringVar(&budgetFlags.User, "user", "", "Only the user's budget")

	budgetCreateCmd.Flags().StringVar(&budgetFlags.User, "user", "", "Budget owner")
	budgetCreateCmd.Flags().Int64Var(&budgetFlags.Limit, "limit", 0, "Maximum consumption")
	_ = budgetCreateCmd.MarkFlagRequired("user")
	_ = budgetCreateCmd.MarkFlagRequired("limit")

	budgetModifyCmd.Flags().Int64Var(&budgetFlags.Limit, "limit", 0, "Maximum consumption")
	budgetModifyCmd.Flags().Int64Var(&budgetFlags.Consumed, "consumed", 0, "Cached consumption")

	budgetDeleteCmd.Flags().BoolVarP(&budgetFlags.Yes, "yes", "y", false, "Skip confirmation")

	budgetCmd.AddCommand(budgetListCmd, budgetGetCmd, budgetCreateCmd, budgetModifyCmd, budgetDeleteCmd)
	RootCmd.AddCommand(budgetCmd)
}

func printBudgets(cmd *cobra.Command, budgets []*models.BudgetEntry) error {
	out := cmd.OutOrStdout()
	if len(budgets) == 0 {
		fmt.Fprintln(out, "No budgets found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tLIMIT\tCONSUMED\tOUTSTANDING")
	for _, b := range budgets {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", b.ID, b.OwnerRef, b.Limit, b.Consumed, b.Outstanding)
	}
	return w.Flush()
}
