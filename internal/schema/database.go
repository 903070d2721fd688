// Package schema declares the versioned collection set and owns the SQLite
// database handle the backends run on.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"

	"github.com/dmitrijs2005/canvasvault/internal/filex"
	"github.com/dmitrijs2005/canvasvault/internal/logging"
	"github.com/dmitrijs2005/canvasvault/internal/schema/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// DefaultFileName is the database file name inside the data directory.
const DefaultFileName = "CleansheetDB.sqlite"

var ErrDatabaseClosed = errors.New("database is not open")

var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// Database is a lazily opened handle on one SQLite file. It is safe for
// concurrent use.
type Database struct {
	path string
	log  logging.Logger

	mu sync.RWMutex
	db *sql.DB
}

type Option func(*Database)

func WithLogger(l logging.Logger) Option { return func(d *Database) { d.log = l } }

func NewDatabase(path string, opts ...Option) *Database {
	d := &Database{path: path, log: logging.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Database) Path() string { return d.path }

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// Open creates the file if needed and migrates it to Version. Opening an
// open database is a no-op.
func (d *Database) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		return nil
	}
	if d.path == "" {
		return fmt.Errorf("open database: empty path")
	}

	if err := filex.EnsureParentDir(d.path); err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(d.path))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	// One connection makes every transaction exclusive and keeps the
	// per-connection pragmas in force.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("open database: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	if err := os.Chmod(d.path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return fmt.Errorf("set database permissions: %w", err)
	}

	d.db = db
	d.log.Info(ctx, "database opened", "path", d.path)
	return nil
}

func newProvider(db *sql.DB) (*goose.Provider, error) {
	return goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	provider, err := newProvider(db)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close is idempotent.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

func (d *Database) IsOpen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db != nil
}

// DB returns the open handle or ErrDatabaseClosed.
func (d *Database) DB() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, ErrDatabaseClosed
	}
	return d.db, nil
}

// Version reports the applied migration version.
func (d *Database) Version(ctx context.Context) (int64, error) {
	db, err := d.DB()
	if err != nil {
		return 0, err
	}
	provider, err := newProvider(db)
	if err != nil {
		return 0, fmt.Errorf("init migrations: %w", err)
	}
	v, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Size returns the bytes used by the database file and its WAL.
func (d *Database) Size() (int64, error) {
	var total int64
	for _, p := range []string{d.path, d.path + "-wal"} {
		fi, err := os.Stat(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += fi.Size()
	}
	return total, nil
}

// DeleteDatabase closes the handle and removes the database files. All
// records are lost.
func (d *Database) DeleteDatabase(ctx context.Context) error {
	if err := d.Close(); err != nil {
		return fmt.Errorf("close before delete: %w", err)
	}
	if err := filex.RemoveWithSiblings(d.path, "-wal", "-shm", "-journal"); err != nil {
		return err
	}
	d.log.Warn(ctx, "database deleted", "path", d.path)
	return nil
}
