package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationsFS embed.FS

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// runMigrations applies every pending migration under migrations/<dir> using goose.
// Each migration runs in its own transaction; goose tracks applied versions in goose_db_version.
func runMigrations(ctx context.Context, db *sql.DB, dialect, dir string) error {
	sub, err := fs.Sub(migrationsFS, "migrations/"+dir)
	if err != nil {
		return fmt.Errorf("accessing embedded migrations: %w", err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(sub)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Migrate applies pending Postgres migrations through a database/sql view of the pool.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	// db borrows connections from the pool; the pool itself is released by Close.
	db := stdlib.OpenDBFromPool(s.pool)
	return runMigrations(ctx, db, "postgres", "postgres")
}

// Migrate applies pending SQLite migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, "sqlite3", "sqlite")
}
