package database

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Driver names a supported backing store. SQLite is the default,
// single-file deployment; Postgres is for a shared multi-instance
// deployment, mirroring the teacher's dual-driver database package.
type Driver string

const (
	DriverSQLite   Driver = "sqlite3"
	DriverPostgres Driver = "pgx"
)

// DB wraps the database connection and provides access to repositories.
type DB struct {
	conn       *sql.DB
	Repository *Repository
}

// Config holds database configuration.
type Config struct {
	// Driver selects the backing store. Empty defaults to DriverSQLite.
	Driver Driver
	// DSN is the driver-specific connection string: a file path for
	// sqlite3, a "postgres://..." URL for pgx.
	DSN string
}

// New opens a connection (SQLite by default) and brings the schema up
// to date via goose migrations before returning.
func New(config Config) (*DB, error) {
	driver := config.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	dsn := config.DSN
	if driver == DriverSQLite {
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000", dsn)
	}

	conn, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open database: %w", err)
	}

	conn.SetMaxOpenConns(15)
	conn.SetMaxIdleConns(8)
	conn.SetConnMaxIdleTime(45 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persistence: ping database: %w", err)
	}

	if driver == DriverSQLite {
		for _, pragma := range []string{
			"PRAGMA foreign_keys = ON",
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 30000",
		} {
			if _, err := conn.Exec(pragma); err != nil {
				conn.Close()
				return nil, fmt.Errorf("persistence: set pragma %q: %w", pragma, err)
			}
		}
	}

	if err := migrate(conn, driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persistence: migrate: %w", err)
	}

	return &DB{conn: conn, Repository: NewRepository(conn)}, nil
}

// migrate runs every not-yet-applied migration under migrations/ via
// goose, using goose's own dialect-aware schema_migrations bookkeeping
// rather than the ad hoc version table the teacher's original
// hand-rolled runner used (which stripped goose annotations instead of
// acting on them despite the dependency being in go.mod).
func migrate(conn *sql.DB, driver Driver) error {
	goose.SetBaseFS(embedMigrations)
	defer goose.SetBaseFS(nil)

	dialect := "sqlite3"
	if driver == DriverPostgres {
		dialect = "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect %s: %w", dialect, err)
	}

	return goose.Up(conn, "migrations")
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Connection returns the underlying database connection.
func (db *DB) Connection() *sql.DB {
	return db.conn
}
