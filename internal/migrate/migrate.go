package migrate

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/example/courtres/internal/db"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Files returns the embedded migration sources.
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

func provider(d *db.DB) (*goose.Provider, func() error, error) {
	sqlDB := d.SQL()
	p, err := goose.NewProvider(goose.DialectPostgres, sqlDB, Files())
	if err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return p, sqlDB.Close, nil
}

func Up(ctx context.Context, d *db.DB, log *zap.Logger) error {
	p, done, err := provider(d)
	if err != nil {
		return err
	}
	defer done()

	results, err := p.Up(ctx)
	for _, r := range results {
		if r.Empty {
			continue
		}
		log.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("file", r.Source.Path),
			zap.Duration("took", r.Duration))
	}
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, d *db.DB, log *zap.Logger) error {
	p, done, err := provider(d)
	if err != nil {
		return err
	}
	defer done()

	r, err := p.Down(ctx)
	if err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	if r != nil && r.Source != nil {
		log.Info("migration rolled back", zap.Int64("version", r.Source.Version), zap.String("file", r.Source.Path))
	}
	return nil
}

type Status struct {
	Version int64
	File    string
	Applied bool
}

func List(ctx context.Context, d *db.DB) ([]Status, error) {
	p, done, err := provider(d)
	if err != nil {
		return nil, err
	}
	defer done()

	ss, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate status: %w", err)
	}
	out := make([]Status, 0, len(ss))
	for _, s := range ss {
		out = append(out, Status{
			Version: s.Source.Version,
			File:    s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}
