// Package db is the sqlite transfer journal: one row per completed download.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"github.com/torfstack/ftpsync/internal/logging"
	"github.com/torfstack/ftpsync/internal/util"
	_ "modernc.org/sqlite"
)

var (
	dbName = "journal.sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type Database struct {
	db *sql.DB
}

// DefaultPath is used when no journal path is configured.
func DefaultPath() string {
	return filepath.Join(util.ConfigDir, dbName)
}

func New(ctx context.Context, path string) (*Database, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("could not create directory for database: %w", err)
	}
	sqlDb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	d := &Database{sqlDb}
	err = d.runMigrations(ctx)
	if err != nil {
		_ = sqlDb.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}
	return d, nil
}

func (d *Database) runMigrations(ctx context.Context) error {
	err := goose.SetDialect("sqlite")
	if err != nil {
		return fmt.Errorf("could not set dialect 'sqlite': %w", err)
	}
	goose.SetLogger(logging.JournalLoggerGoose{})
	goose.SetBaseFS(embedMigrations)

	if err = goose.UpContext(ctx, d.db, "migrations"); err != nil {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *Database) Queries() *Queries {
	return &Queries{db: d.db}
}
