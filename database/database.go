// Package database provides database initialization and connection management.
package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// InMemory is the path that opens a private in-memory database.
const InMemory = ":memory:"

// DB is the shared database handle. It is constructed once at startup and
// passed to every repository.
type DB struct {
	*sqlx.DB
	path string
}

// Open opens the SQLite database at path and runs migrations.
// Returns an error if the database cannot be opened or migrations fail.
func Open(path string) (*DB, error) {
	slog.Info("opening database", "path", path)

	dsn := path + "?_foreign_keys=on&_busy_timeout=5000"
	if path == InMemory {
		dsn = "file::memory:?_foreign_keys=on"
	}

	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == InMemory {
		// every new connection would otherwise see an empty database
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(conn.DB); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("database ready", "path", path)
	return &DB{DB: conn, path: path}, nil
}

// Ping checks the connection, used by the health endpoint.
func (d *DB) Ping(ctx context.Context) error {
	var one int
	return d.GetContext(ctx, &one, "SELECT 1")
}

// Path returns the path the database was opened with.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	slog.Info("closing database connection")
	return d.DB.Close()
}
