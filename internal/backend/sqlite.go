package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/canvasvault/internal/common"
	"github.com/dmitrijs2005/canvasvault/internal/dbx"
	"github.com/dmitrijs2005/canvasvault/internal/logging"
	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
	"github.com/google/uuid"
)

// Database is the handle the SQLite backend runs on; *schema.Database
// implements it.
type Database interface {
	DB() (*sql.DB, error)
	Path() string
	Size() (int64, error)
}

type SQLiteBackend struct {
	db    Database
	log   logging.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*SQLiteBackend)

func WithLogger(l logging.Logger) Option { return func(b *SQLiteBackend) { b.log = l } }

// WithClock overrides the time source used for created/lastModified.
func WithClock(now func() time.Time) Option { return func(b *SQLiteBackend) { b.now = now } }

// WithIDGenerator overrides GenerateID.
func WithIDGenerator(f func() string) Option { return func(b *SQLiteBackend) { b.newID = f } }

func NewSQLite(db Database, opts ...Option) *SQLiteBackend {
	b := &SQLiteBackend{
		db:    db,
		log:   logging.NewNop(),
		now:   time.Now,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) GenerateID() string { return b.newID() }

func (b *SQLiteBackend) CollectionNames() []string { return schema.Names() }

func (b *SQLiteBackend) sqlDB() (*sql.DB, error) {
	db, err := b.db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlatformUnavailable, err)
	}
	return db, nil
}

// conn resolves the collection and the handle to run on, honoring the
// transaction scope carried by ctx.
func (b *SQLiteBackend) conn(ctx context.Context, collection string) (dbx.DBTX, schema.Collection, error) {
	c, ok := schema.Lookup(collection)
	if !ok {
		return nil, schema.Collection{}, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	if err := checkScope(ctx, collection); err != nil {
		return nil, c, err
	}
	db, err := b.sqlDB()
	if err != nil {
		return nil, c, err
	}
	return dbx.Conn(ctx, db), c, nil
}

// withTx runs fn inside the transaction carried by ctx or a new one.
func (b *SQLiteBackend) withTx(ctx context.Context, collection string, fn func(ctx context.Context, tx dbx.DBTX, c schema.Collection) error) error {
	_, c, err := b.conn(ctx, collection)
	if err != nil {
		return err
	}
	db, err := b.sqlDB()
	if err != nil {
		return err
	}
	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, tx, c)
	})
}

func table(c schema.Collection) string {
	return `"` + c.Name + `"`
}

func (b *SQLiteBackend) Get(ctx context.Context, collection, key string) (models.Record, error) {
	conn, c, err := b.conn(ctx, collection)
	if err != nil {
		return nil, err
	}
	return getRecord(ctx, conn, c, key)
}

func getRecord(ctx context.Context, conn dbx.DBTX, c schema.Collection, key string) (models.Record, error) {
	var data string
	err := conn.QueryRowContext(ctx, `SELECT data FROM `+table(c)+` WHERE pk = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s[%s]: %w", c.Name, key, err)
	}
	return decode(c, data)
}

func decode(c schema.Collection, data string) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s record: %w", c.Name, err)
	}
	return rec, nil
}

func (b *SQLiteBackend) Exists(ctx context.Context, collection, key string) (bool, error) {
	conn, c, err := b.conn(ctx, collection)
	if err != nil {
		return false, err
	}
	return exists(ctx, conn, c, key)
}

func exists(ctx context.Context, conn dbx.DBTX, c schema.Collection, key string) (bool, error) {
	var one int
	err := conn.QueryRowContext(ctx, `SELECT 1 FROM `+table(c)+` WHERE pk = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s[%s]: %w", c.Name, key, err)
	}
	return true, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, collection string, rec models.Record) (string, error) {
	var key string
	err := b.withTx(ctx, collection, func(ctx context.Context, tx dbx.DBTX, c schema.Collection) error {
		var err error
		key, err = b.write(ctx, tx, c, rec, false, common.FormatTimestamp(b.now()))
		return err
	})
	return key, err
}

func (b *SQLiteBackend) Add(ctx context.Context, collection string, rec models.Record) (string, error) {
	var key string
	err := b.withTx(ctx, collection, func(ctx context.Context, tx dbx.DBTX, c schema.Collection) error {
		var err error
		key, err = b.write(ctx, tx, c, rec, true, common.FormatTimestamp(b.now()))
		return err
	})
	return key, err
}

// write upserts (or with insertOnly, inserts) one record. Put keeps the
// record's created stamp, else the stored one, else now; Add always stamps
// created with now.
func (b *SQLiteBackend) write(ctx context.Context, tx dbx.DBTX, c schema.Collection, in models.Record, insertOnly bool, now string) (string, error) {
	if in == nil {
		return "", fmt.Errorf("%w: nil record", ErrInvalidQuery)
	}
	rec := in.Clone()

	key, ok := rec.Key(c.PrimaryKey)
	if !ok {
		if !c.AutoID {
			return "", fmt.Errorf("%w: %s requires %q", ErrMissingKey, c.Name, c.PrimaryKey)
		}
		key = b.newID()
		rec[c.PrimaryKey] = key
	}

	var stored sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT json_extract(data, '$.created') FROM `+table(c)+` WHERE pk = ?`, key).Scan(&stored)
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read %s[%s]: %w", c.Name, key, err)
	}

	if insertOnly {
		if found {
			return "", fmt.Errorf("%w: %s[%s]", ErrDuplicateKey, c.Name, key)
		}
		rec[models.FieldCreated] = now
	} else if rec.String(models.FieldCreated) == "" {
		if found && stored.Valid && stored.String != "" {
			rec[models.FieldCreated] = stored.String
		} else {
			rec[models.FieldCreated] = now
		}
	}
	rec[models.FieldLastModified] = now

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s[%s]: %w", c.Name, key, err)
	}

	var persona sql.NullString
	if p := rec.PersonaID(); p != "" {
		persona = sql.NullString{String: p, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO `+table(c)+` (pk, persona_id, data) VALUES (?, ?, ?)
		ON CONFLICT(pk) DO UPDATE SET persona_id = excluded.persona_id, data = excluded.data
	`, key, persona, string(data))
	if err != nil {
		return "", fmt.Errorf("failed to put %s[%s]: %w", c.Name, key, err)
	}
	return key, nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, collection, key string) error {
	conn, c, err := b.conn(ctx, collection)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM `+table(c)+` WHERE pk = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s[%s]: %w", c.Name, key, err)
	}
	return nil
}

func (b *SQLiteBackend) ClearTable(ctx context.Context, collection string) error {
	conn, c, err := b.conn(ctx, collection)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM `+table(c)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", c.Name, err)
	}
	b.log.Info(ctx, "collection cleared", "collection", c.Name)
	return nil
}

// ClearAll empties every collection in one transaction.
func (b *SQLiteBackend) ClearAll(ctx context.Context) error {
	names := schema.Names()
	return b.Transaction(ctx, names, func(ctx context.Context) error {
		for _, name := range names {
			if err := b.ClearTable(ctx, name); err != nil {
				return err
			}
		}
		return nil
	})
}
