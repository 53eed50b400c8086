package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/courtres/internal/db"
	"github.com/example/courtres/internal/migrate"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the catalog schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, d *db.DB, log *zap.Logger) error {
				return migrate.Up(ctx, d, log)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, d *db.DB, log *zap.Logger) error {
				return migrate.Down(ctx, d, log)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, d *db.DB, _ *zap.Logger) error {
				ss, err := migrate.List(ctx, d)
				if err != nil {
					return err
				}
				for _, s := range ss {
					state := "pending"
					if s.Applied {
						state = "applied"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%05d %-8s %s\n", s.Version, state, s.File)
				}
				return nil
			})
		},
	})
	return cmd
}

func withDB(ctx context.Context, fn func(ctx context.Context, d *db.DB, log *zap.Logger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Ping(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return fn(ctx, d, log)
}
