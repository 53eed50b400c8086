package cmd

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "courtres",
		Short:         "Schedules tennis court reservations and books them the moment the booking window opens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newSealCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newServerCmd())
	root.AddCommand(newReservationCmd())
	root.AddCommand(newActorCmd())
	root.AddCommand(newLoginCheckCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
