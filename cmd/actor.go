package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newActorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actor",
		Short: "Inspect or reset reservation actors directly",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect <actor-id>",
		Short: "Print an actor's durable state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.svc.Inspect(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rollback <actor-id>",
		Short: "Disarm an actor and erase its state; the catalog row is left alone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.Rollback(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back actor %s\n", args[0])
			return nil
		},
	})
	return cmd
}
