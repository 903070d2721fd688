// Package storage is the single entry point the application uses for
// persisted data. It composes the SQLite backend with the encryption
// middleware so that callers only ever handle plaintext records.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/canvasvault/internal/backend"
	"github.com/dmitrijs2005/canvasvault/internal/common"
	"github.com/dmitrijs2005/canvasvault/internal/encrypted"
	"github.com/dmitrijs2005/canvasvault/internal/events"
	"github.com/dmitrijs2005/canvasvault/internal/logging"
	"github.com/dmitrijs2005/canvasvault/internal/metrics"
	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
)

// DefaultPersona is used when neither the caller nor a backup names one.
const DefaultPersona = "member"

var (
	ErrUninitialized = errors.New("storage service is not initialized")
	ErrNotFound      = fmt.Errorf("record %w", common.ErrorNotFound)
)

// Cipher encrypts records at rest and can prove it works before the
// service accepts traffic.
type Cipher interface {
	encrypted.Cipher
	SelfTest(ctx context.Context) error
}

// InitResult describes the storage stack after Initialize.
type InitResult struct {
	Backend       string `json:"backend"`
	SchemaVersion int64  `json:"schemaVersion"`
	Path          string `json:"path"`
}

type Service struct {
	db     *schema.Database
	cipher Cipher

	log         logging.Logger
	bus         *events.Bus
	metrics     *metrics.Metrics
	now         func() time.Time
	backendOpts []backend.Option

	mu    sync.RWMutex
	store *encrypted.Backend
}

type Option func(*Service)

func WithLogger(l logging.Logger) Option { return func(s *Service) { s.log = l } }

func WithBus(b *events.Bus) Option { return func(s *Service) { s.bus = b } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock sets the time source for lastModified/created stamps and export
// dates.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithBackendOptions passes extra options to the SQLite backend.
func WithBackendOptions(opts ...backend.Option) Option {
	return func(s *Service) { s.backendOpts = append(s.backendOpts, opts...) }
}

func New(db *schema.Database, cipher Cipher, opts ...Option) *Service {
	s := &Service{db: db, cipher: cipher, log: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize opens the database, verifies that encryption works and wires
// the backend stack. Calling it again on an initialized service is a no-op.
func (s *Service) Initialize(ctx context.Context) (*InitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		return s.initResult(ctx)
	}

	if err := s.db.Open(ctx); err != nil {
		s.log.Error(ctx, "open database failed", "path", s.db.Path(), "error", err)
		return nil, fmt.Errorf("%w: %w", backend.ErrPlatformUnavailable, err)
	}
	if err := s.cipher.SelfTest(ctx); err != nil {
		_ = s.db.Close()
		return nil, err
	}

	opts := append([]backend.Option{backend.WithLogger(s.log), backend.WithClock(s.now)}, s.backendOpts...)
	inner := backend.NewSQLite(s.db, opts...)
	s.store = encrypted.New(inner, s.cipher,
		encrypted.WithBus(s.bus),
		encrypted.WithLogger(s.log),
		encrypted.WithMetrics(s.metrics),
	)

	res, err := s.initResult(ctx)
	if err != nil {
		s.store = nil
		_ = s.db.Close()
		return nil, err
	}
	s.log.Info(ctx, "storage initialized", "backend", res.Backend, "schema_version", res.SchemaVersion)
	s.bus.Publish(events.Initialized, *res)
	return res, nil
}

func (s *Service) initResult(ctx context.Context) (*InitResult, error) {
	v, err := s.db.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	return &InitResult{Backend: s.store.Name(), SchemaVersion: v, Path: s.db.Path()}, nil
}

func (s *Service) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store != nil
}

// Close releases the database. The service can be initialized again.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	s.store = nil
	err := s.db.Close()
	s.bus.Publish(events.Closed, s.db.Path())
	return err
}

// DeleteDatabase closes the service and removes the database file. All
// records are lost.
func (s *Service) DeleteDatabase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = nil
	if err := s.db.DeleteDatabase(ctx); err != nil {
		return err
	}
	s.log.Warn(ctx, "database deleted", "path", s.db.Path())
	s.bus.Publish(events.Closed, s.db.Path())
	return nil
}

func (s *Service) backend() (*encrypted.Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, ErrUninitialized
	}
	return s.store, nil
}

func (s *Service) observe(op, collection string, start time.Time, errp *error) {
	s.metrics.ObserveOperation(op, collection, start, *errp)
}

func (s *Service) Get(ctx context.Context, collection, key string) (rec models.Record, err error) {
	defer s.observe("get", collection, time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	return b.Get(ctx, collection, key)
}

func (s *Service) GetAll(ctx context.Context, collection string, opts backend.QueryOptions) (recs []models.Record, err error) {
	defer s.observe("get_all", collection, time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	return b.GetAll(ctx, collection, opts)
}

func (s *Service) Put(ctx context.Context, collection string, rec models.Record) (key string, err error) {
	defer s.observe("put", collection, time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return "", err
	}
	return b.Put(ctx, collection, rec)
}

func (s *Service) Add(ctx context.Context, collection string, rec models.Record) (key string, err error) {
	defer s.observe("add", collection, time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return "", err
	}
	return b.Add(ctx, collection, rec)
}

func (s *Service) Delete(ctx context.Context, collection, key string) (err error) {
	defer s.observe("delete", collection, time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return err
	}
	return b.Delete(ctx, collection, key)
}

func (s *Service) Exists(ctx context.Context, collection, key string) (ok bool, err error) {
	defer s.observe("exists", collection, time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, collection, key)
}

func (s *Service) BulkPut(ctx context.Context, collection string, recs []models.Record) (keys []string, err error) {
	defer s.observe("bulk_put", collection, time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	return b.BulkPut(ctx, collection, recs)
}

func (s *Service) BulkAdd(ctx context.Context, collection string, recs []models.Record) (keys []string, err error) {
	defer s.observe("bulk_add", collection, time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	return b.BulkAdd(ctx, collection, recs)
}

func (s *Service) BulkDelete(ctx context.Context, collection string, keys []string) (err error) {
	defer s.observe("bulk_delete", collection, time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return err
	}
	return b.BulkDelete(ctx, collection, keys)
}

func (s *Service) BulkGet(ctx context.Context, collection string, keys []string) (recs []models.Record, err error) {
	defer s.observe("bulk_get", collection, time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	return b.BulkGet(ctx, collection, keys)
}

func (s *Service) Count(ctx context.Context, collection string, opts backend.QueryOptions) (n int, err error) {
	defer s.observe("count", collection, time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return 0, err
	}
	return b.Count(ctx, collection, opts)
}

// Transaction runs fn atomically across collections. Service calls made
// inside fn must use the context fn receives.
func (s *Service) Transaction(ctx context.Context, collections []string, fn func(ctx context.Context) error) (err error) {
	defer s.observe("transaction", "", time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return err
	}
	return b.Transaction(ctx, collections, fn)
}

func (s *Service) ClearTable(ctx context.Context, collection string) (err error) {
	defer s.observe("clear_table", collection, time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return err
	}
	if err := b.ClearTable(ctx, collection); err != nil {
		return err
	}
	s.log.Info(ctx, "collection cleared", "collection", collection)
	return nil
}

func (s *Service) ClearAll(ctx context.Context) (err error) {
	defer s.observe("clear_all", "", time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return err
	}
	if err := b.ClearAll(ctx); err != nil {
		return err
	}
	s.log.Warn(ctx, "all collections cleared")
	return nil
}

// Usage reports storage consumption. When Estimated is set the figures
// come from summing serialized records and leave out index overhead.
func (s *Service) Usage(ctx context.Context) (u backend.Usage, err error) {
	defer s.observe("usage", "", time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return backend.Usage{}, err
	}
	u, err = b.Usage(ctx)
	if err != nil {
		return backend.Usage{}, err
	}
	s.metrics.SetUsage(u.Used)
	return u, nil
}

func (s *Service) GenerateID() (string, error) {
	b, err := s.backend()
	if err != nil {
		return "", err
	}
	return b.GenerateID(), nil
}

// Collections lists every collection name.
func (s *Service) Collections() []string { return schema.Names() }
