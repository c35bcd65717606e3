package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotaledger/quotaledger/internal/engine"
)

// reservationCmd groups reservation settlement.
var reservationCmd = &cobra.Command{
	Use:     "reservation",
	Aliases: []string{"r", "reservations"},
	Short:   "Inspect and settle reservations",
}

var reservationGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a live reservation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			r, err := e.GetReservation(ctx, args[0])
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return writeJSON(cmd, r)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s %s  delta %d  created %s\n",
				r.ID, r.EntryKind, r.EntryID, r.Delta, r.CreatedAt.Format("2006-01-02 15:04:05"))
			return nil
		})
	},
}

var reservationReleaseCmd = &cobra.Command{
	Use:   "release ID",
	Short: "Return a reservation's units to its entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if err := e.ReleaseReservation(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released reservation %s\n", args[0])
			return nil
		})
	},
}

var reservationConfirmCmd = &cobra.Command{
	Use:   "confirm ID",
	Short: "Turn a reservation into consumption",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if err := e.ConfirmReservation(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Confirmed reservation %s\n", args[0])
			return nil
		})
	},
}

func init() {
	reservationCmd.AddCommand(reservationGetCmd, reservationReleaseCmd, reservationConfirmCmd)
	RootCmd.AddCommand(reservationCmd)
}
