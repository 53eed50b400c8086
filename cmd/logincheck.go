package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/courtres/internal/obs"
	"github.com/example/courtres/internal/portal"
	"github.com/example/courtres/internal/reservation"
)

func newLoginCheckCmd() *cobra.Command {
	var shop string
	c := &cobra.Command{
		Use:   "login-check",
		Short: "Log in to the portal with the configured credentials and report the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			pc, err := cfg.PortalConfig()
			if err != nil {
				return err
			}
			pc.Diagnostics = true
			client, err := portal.New(pc, log.Named("portal"), obs.NewMetrics())
			if err != nil {
				return err
			}
			names, err := client.CheckLogin(cmdContext(cmd), shop)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "login ok shop=%s cookies=%s\n", shop, strings.Join(names, ","))
			return nil
		},
	}
	c.Flags().StringVar(&shop, "shop", reservation.DefaultShopID, "portal shop id")
	return c
}
