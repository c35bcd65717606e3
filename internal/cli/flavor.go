package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotaledger/quotaledger/internal/engine"
	"github.com/quotaledger/quotaledger/internal/models"
)

// flavorCmd groups the flavor catalog operations.
var flavorCmd = &cobra.Command{
	Use:     "flavor",
	Aliases: []string{"f", "flavors"},
	Short:   "Manage flavor to group mappings",
}

var flavorFlags struct {
	Name  string
	Group string
}

var flavorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flavors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			flavors, err := e.ListFlavors(ctx, flavorFlags.Group)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, flavors)
			}
			return printFlavors(cmd, flavors)
		})
	},
}

var flavorGetCmd = &cobra.Command{
	Use:   "get NAME|ID",
	Short: "Show one flavor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			f, err := e.GetFlavor(ctx, args[0])
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, f)
			}
			return printFlavors(cmd, []*models.Flavor{f})
		})
	},
}

var flavorCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Map a flavor to a resource group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			f, err := e.CreateFlavor(ctx, flavorFlags.Name, flavorFlags.Group)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, f)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created flavor %s -> %s (%s)\n", f.Name, f.GroupRef, f.ID)
			return nil
		})
	},
}

var flavorDeleteCmd = &cobra.Command{
	Use:   "delete NAME|ID",
	Short: "Remove a flavor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if err := e.DeleteFlavor(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted flavor %s\n", args[0])
			return nil
		})
	},
}

func init() {
	flavorListCmd.Flags().StringVar(&flavorFlags.Group, "group", "", "Only flavors of the group")

	flavorCreateCmd.Flags().StringVar(&flavorFlags.Name, "name", "", "Flavor name")
	flavorCreateCmd.Flags().StringVar(&flavorFlags.Group, "group", "", "Resource group")
	_ = flavorCreateCmd.MarkFlagRequired("name")
	_ = flavorCreateCmd.MarkFlagRequired("group")

	flavorCmd.AddCommand(flavorListCmd, flavorGetCmd, flavorCreateCmd, flavorDeleteCmd)
	RootCmd.AddCommand(flavorCmd)
}

func printFlavors(cmd *cobra.Command, flavors []*models.Flavor) error {
	out := cmd.OutOrStdout()
	if len(flavors) == 0 {
		fmt.Fprintln(out, "No flavors found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tGROUP")
	for _, f := range flavors {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.ID, f.Name, f.GroupRef)
	}
	return w.Flush()
}
