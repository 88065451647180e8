package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var embedMigrations embed.FS

// migrate applies the embedded migrations for dialect from dir.
func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) (int64, error) {
	fsys, err := fs.Sub(embedMigrations, dir)
	if err != nil {
		return 0, fmt.Errorf("open migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("create migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return 0, fmt.Errorf("run migrations: %w", err)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get migration version: %w", err)
	}
	return version, nil
}
