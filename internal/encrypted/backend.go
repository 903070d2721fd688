// Package encrypted is a backend.Backend middleware that encrypts designated
// record fields on the way down and decrypts them on the way up.
package encrypted

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/canvasvault/internal/backend"
	"github.com/dmitrijs2005/canvasvault/internal/cryptox"
	"github.com/dmitrijs2005/canvasvault/internal/events"
	"github.com/dmitrijs2005/canvasvault/internal/logging"
	"github.com/dmitrijs2005/canvasvault/internal/metrics"
	"github.com/dmitrijs2005/canvasvault/internal/models"
)

// Cipher is the part of *cryptox.Cipher the middleware needs.
type Cipher interface {
	EncryptValue(ctx context.Context, v any) (string, error)
	Decrypt(ctx context.Context, envelope string) (string, error)
}

// DecryptFailure is the payload of events.DecryptFailed.
type DecryptFailure struct {
	Collection string
	Key        string
	Field      string
}

type Backend struct {
	inner   backend.Backend
	cipher  Cipher
	policy  Policy
	bus     *events.Bus
	log     logging.Logger
	metrics *metrics.Metrics
}

var _ backend.Backend = (*Backend)(nil)

type Option func(*Backend)

func WithPolicy(p Policy) Option { return func(b *Backend) { b.policy = p } }

func WithBus(bus *events.Bus) Option { return func(b *Backend) { b.bus = bus } }

func WithLogger(l logging.Logger) Option { return func(b *Backend) { b.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(b *Backend) { b.metrics = m } }

func New(inner backend.Backend, cipher Cipher, opts ...Option) *Backend {
	b := &Backend{inner: inner, cipher: cipher, policy: DefaultPolicy(), log: logging.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return "encrypted-" + b.inner.Name() }

// Inner exposes the wrapped backend for raw access to stored envelopes.
func (b *Backend) Inner() backend.Backend { return b.inner }

func (b *Backend) IsEncrypted(collection string) bool { return b.policy.covers(collection) }

func (b *Backend) encryptRecord(ctx context.Context, collection string, rec models.Record) (models.Record, error) {
	if rec == nil || !b.policy.covers(collection) {
		return rec, nil
	}

	out := rec.Clone()
	delete(out, FieldMarker)
	delete(out, FieldPayload)

	if b.policy.WholeValue[collection] {
		if flag, _ := out["encrypted"].(bool); flag {
			env, err := b.cipher.EncryptValue(ctx, out["value"])
			b.metrics.Crypto("encrypt", err)
			if err != nil {
				return nil, fmt.Errorf("encrypt %s value: %w", collection, err)
			}
			delete(out, "value")
			out[FieldPayload] = env
		}
		return out, nil
	}

	var marked []any
	for _, field := range b.policy.Fields {
		v, ok := out[field]
		if !ok || v == nil {
			continue
		}
		env, err := b.cipher.EncryptValue(ctx, v)
		b.metrics.Crypto("encrypt", err)
		if err != nil {
			return nil, fmt.Errorf("encrypt %s.%s: %w", collection, field, err)
		}
		out[field] = env
		marked = append(marked, field)
	}
	if len(marked) > 0 {
		out[FieldMarker] = marked
	}
	return out, nil
}

// decryptValue reverses EncryptValue. Envelopes whose plaintext is not JSON
// are returned as the raw string.
func (b *Backend) decryptValue(ctx context.Context, env string) (any, error) {
	plain, err := b.cipher.Decrypt(ctx, env)
	b.metrics.Crypto("decrypt", err)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(plain), &v); err != nil {
		return plain, nil
	}
	return v, nil
}

func (b *Backend) decryptRecord(ctx context.Context, collection string, rec models.Record) (models.Record, error) {
	if rec == nil || !b.policy.covers(collection) {
		return rec, nil
	}

	out := rec.Clone()

	if env, ok := out[FieldPayload].(string); ok {
		v, err := b.decryptValue(ctx, env)
		if err != nil {
			return nil, b.decryptFailed(ctx, collection, rec, FieldPayload, err)
		}
		delete(out, FieldPayload)
		out["value"] = v
	}

	marked, _ := out[FieldMarker].([]any)
	for _, f := range marked {
		field, _ := f.(string)
		env, ok := out[field].(string)
		if field == "" || !ok || env == "" {
			continue
		}
		v, err := b.decryptValue(ctx, env)
		if err != nil {
			return nil, b.decryptFailed(ctx, collection, rec, field, err)
		}
		out[field] = v
	}
	delete(out, FieldMarker)
	return out, nil
}

func (b *Backend) decryptFailed(ctx context.Context, collection string, rec models.Record, field string, err error) error {
	key := recordKey(rec)
	b.log.Warn(ctx, "decrypt failed", "collection", collection, "key", key, "field", field)
	b.bus.Publish(events.DecryptFailed, DecryptFailure{Collection: collection, Key: key, Field: field})
	if !errors.Is(err, cryptox.ErrDecryption) {
		err = fmt.Errorf("%w: %w", cryptox.ErrDecryption, err)
	}
	return fmt.Errorf("decrypt %s[%s].%s: %w", collection, key, field, err)
}

func recordKey(rec models.Record) string {
	if k, ok := rec.Key(models.FieldID); ok {
		return k
	}
	k, _ := rec.Key(models.FieldKey)
	return k
}

func (b *Backend) Get(ctx context.Context, collection, key string) (models.Record, error) {
	rec, err := b.inner.Get(ctx, collection, key)
	if err != nil || rec == nil {
		return rec, err
	}
	return b.decryptRecord(ctx, collection, rec)
}

func (b *Backend) GetAll(ctx context.Context, collection string, opts backend.QueryOptions) ([]models.Record, error) {
	// The filter must see plaintext, so it runs after decryption.
	filter := opts.Filter
	opts.Filter = nil

	recs, err := b.inner.GetAll(ctx, collection, opts)
	if err != nil {
		return nil, err
	}

	out := make([]models.Record, 0, len(recs))
	for _, rec := range recs {
		dec, err := b.decryptRecord(ctx, collection, rec)
		if err != nil {
			return nil, err
		}
		if filter != nil && !filter(dec) {
			continue
		}
		out = append(out, dec)
	}
	return out, nil
}

// SkippedRecord identifies a record GetAllLenient could not decrypt.
type SkippedRecord struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
	Reason     string `json:"reason"`
}

// GetAllLenient is GetAll for bulk exports: records that fail to decrypt are
// left out and reported instead of failing the whole read.
func (b *Backend) GetAllLenient(ctx context.Context, collection string, opts backend.QueryOptions) ([]models.Record, []SkippedRecord, error) {
	filter := opts.Filter
	opts.Filter = nil

	recs, err := b.inner.GetAll(ctx, collection, opts)
	if err != nil {
		return nil, nil, err
	}

	out := make([]models.Record, 0, len(recs))
	var skipped []SkippedRecord
	for _, rec := range recs {
		dec, err := b.decryptRecord(ctx, collection, rec)
		if err != nil {
			skipped = append(skipped, SkippedRecord{Collection: collection, Key: recordKey(rec), Reason: err.Error()})
			b.metrics.SkippedRecord(collection)
			continue
		}
		if filter != nil && !filter(dec) {
			continue
		}
		out = append(out, dec)
	}
	return out, skipped, nil
}

func (b *Backend) Put(ctx context.Context, collection string, rec models.Record) (string, error) {
	enc, err := b.encryptRecord(ctx, collection, rec)
	if err != nil {
		return "", err
	}
	return b.inner.Put(ctx, collection, enc)
}

func (b *Backend) Add(ctx context.Context, collection string, rec models.Record) (string, error) {
	enc, err := b.encryptRecord(ctx, collection, rec)
	if err != nil {
		return "", err
	}
	return b.inner.Add(ctx, collection, enc)
}

func (b *Backend) Delete(ctx context.Context, collection, key string) error {
	return b.inner.Delete(ctx, collection, key)
}

func (b *Backend) Exists(ctx context.Context, collection, key string) (bool, error) {
	return b.inner.Exists(ctx, collection, key)
}

func (b *Backend) encryptAll(ctx context.Context, collection string, recs []models.Record) ([]models.Record, error) {
	out := make([]models.Record, len(recs))
	for i, rec := range recs {
		enc, err := b.encryptRecord(ctx, collection, rec)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}

// BulkPut encrypts every item before writing any; an encryption failure
// aborts the batch so no plaintext is stored.
func (b *Backend) BulkPut(ctx context.Context, collection string, recs []models.Record) ([]string, error) {
	enc, err := b.encryptAll(ctx, collection, recs)
	if err != nil {
		return nil, err
	}
	return b.inner.BulkPut(ctx, collection, enc)
}

func (b *Backend) BulkAdd(ctx context.Context, collection string, recs []models.Record) ([]string, error) {
	enc, err := b.encryptAll(ctx, collection, recs)
	if err != nil {
		return nil, err
	}
	return b.inner.BulkAdd(ctx, collection, enc)
}

func (b *Backend) BulkDelete(ctx context.Context, collection string, keys []string) error {
	return b.inner.BulkDelete(ctx, collection, keys)
}

func (b *Backend) BulkGet(ctx context.Context, collection string, keys []string) ([]models.Record, error) {
	recs, err := b.inner.BulkGet(ctx, collection, keys)
	if err != nil {
		return nil, err
	}
	for i, rec := range recs {
		if rec == nil {
			continue
		}
		if recs[i], err = b.decryptRecord(ctx, collection, rec); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Count evaluates opts.Filter against decrypted records.
func (b *Backend) Count(ctx context.Context, collection string, opts backend.QueryOptions) (int, error) {
	if opts.Filter == nil || !b.policy.covers(collection) {
		return b.inner.Count(ctx, collection, opts)
	}
	recs, err := b.GetAll(ctx, collection, opts)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (b *Backend) Transaction(ctx context.Context, collections []string, fn func(ctx context.Context) error) error {
	return b.inner.Transaction(ctx, collections, fn)
}

func (b *Backend) Usage(ctx context.Context) (backend.Usage, error) { return b.inner.Usage(ctx) }

func (b *Backend) ClearTable(ctx context.Context, collection string) error {
	return b.inner.ClearTable(ctx, collection)
}

func (b *Backend) ClearAll(ctx context.Context) error { return b.inner.ClearAll(ctx) }

func (b *Backend) GenerateID() string { return b.inner.GenerateID() }

func (b *Backend) CollectionNames() []string { return b.inner.CollectionNames() }
