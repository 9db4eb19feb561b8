// Package store is the durable state layer: an embedded sqlite database
// holding agents, tasks, and sessions. All mutations flow through the
// repositories here; the cache and event bus are updated by callers
// after a successful write.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB owns the sqlite connection and hands out repositories.
type DB struct {
	conn *sql.DB
	path string

	agents   *AgentRepository
	tasks    *TaskRepository
	sessions *SessionRepository
}

// NewDB opens (or creates) the database at path, applies pragmas, and
// runs pending migrations. The parent directory is created with 0700.
// An existing database file is copied to <path>.bak before migrations.
func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	if err := backupExisting(path); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if err := runMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Info(log.CatStore, "database ready", "path", path)
	return &DB{
		conn:     conn,
		path:     path,
		agents:   newAgentRepository(conn),
		tasks:    newTaskRepository(conn),
		sessions: newSessionRepository(conn),
	}, nil
}

// backupExisting copies an existing database file to <path>.bak so a
// failed migration never destroys the only copy.
func backupExisting(path string) error {
	src, err := os.Open(path) //nolint:gosec // G304: path is the configured database location
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening database for backup: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(path+".bak", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // G304
	if err != nil {
		return fmt.Errorf("creating backup file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}
	return nil
}

func runMigrations(conn *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("preparing migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("initializing migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Agents returns the agent repository.
func (d *DB) Agents() *AgentRepository { return d.agents }

// Tasks returns the task repository.
func (d *DB) Tasks() *TaskRepository { return d.tasks }

// Sessions returns the session repository.
func (d *DB) Sessions() *SessionRepository { return d.sessions }

// ListAgents returns every agent row.
func (d *DB) ListAgents() ([]*domain.Agent, error) { return d.agents.List() }

// ListTasks returns every task row.
func (d *DB) ListTasks() ([]*domain.Task, error) { return d.tasks.List() }

// ListSessions returns every session row.
func (d *DB) ListSessions() ([]*domain.Session, error) { return d.sessions.List() }

// Connection returns the underlying *sql.DB.
func (d *DB) Connection() *sql.DB { return d.conn }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes the connection.
func (d *DB) Close() error { return d.conn.Close() }
