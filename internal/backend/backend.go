// Package backend defines the storage-technology-agnostic Backend contract
// and its SQLite implementation.
//
// Every operation addresses a named collection declared in package schema.
// Keys are strings; records are models.Record values serialized as JSON.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/canvasvault/internal/common"
	"github.com/dmitrijs2005/canvasvault/internal/models"
)

var (
	// ErrPlatformUnavailable means the database is closed or cannot be opened.
	ErrPlatformUnavailable = errors.New("storage platform unavailable")
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrUnknownCollection   = errors.New("unknown collection")
	// ErrNotInTransaction is returned for a collection outside the set named
	// by the enclosing Transaction.
	ErrNotInTransaction = errors.New("collection is not part of the active transaction")
	ErrMissingKey       = fmt.Errorf("%w: record has no primary key", common.ErrorInvalidArgument)
	ErrInvalidQuery     = fmt.Errorf("%w: invalid query", common.ErrorInvalidArgument)
)

// Condition is an equality predicate on one field.
type Condition struct {
	Field string
	Value any
}

// QueryOptions narrows GetAll and Count. PersonaID and Where are mutually
// exclusive; Filter runs after both; results are sorted ascending by SortBy
// with ties in insertion order.
type QueryOptions struct {
	PersonaID string
	Where     *Condition
	Filter    func(models.Record) bool
	SortBy    string
}

// Usage reports storage consumption. Estimated is set when the figures come
// from summing serialized records against a nominal quota.
type Usage struct {
	Used        int64   `json:"used"`
	Quota       int64   `json:"quota"`
	PercentUsed float64 `json:"percentUsed"`
	Estimated   bool    `json:"estimated"`
}

type Backend interface {
	Name() string

	// Get returns (nil, nil) when the key does not exist.
	Get(ctx context.Context, collection, key string) (models.Record, error)
	GetAll(ctx context.Context, collection string, opts QueryOptions) ([]models.Record, error)
	// Put inserts or replaces a record and returns its key.
	Put(ctx context.Context, collection string, rec models.Record) (string, error)
	// Add inserts a record, failing with ErrDuplicateKey if the key exists.
	Add(ctx context.Context, collection string, rec models.Record) (string, error)
	// Delete is idempotent.
	Delete(ctx context.Context, collection, key string) error
	Exists(ctx context.Context, collection, key string) (bool, error)

	// Bulk operations run as one batch. Failed items are reported in a
	// *BulkError; the others are committed. Returned keys are aligned with
	// the input, empty for failed items.
	BulkPut(ctx context.Context, collection string, recs []models.Record) ([]string, error)
	BulkAdd(ctx context.Context, collection string, recs []models.Record) ([]string, error)
	BulkDelete(ctx context.Context, collection string, keys []string) error
	// BulkGet returns records aligned with keys, nil for misses.
	BulkGet(ctx context.Context, collection string, keys []string) ([]models.Record, error)

	Count(ctx context.Context, collection string, opts QueryOptions) (int, error)

	// Transaction runs fn atomically across collections. fn must use the
	// context it is given.
	Transaction(ctx context.Context, collections []string, fn func(ctx context.Context) error) error

	Usage(ctx context.Context) (Usage, error)
	ClearTable(ctx context.Context, collection string) error
	ClearAll(ctx context.Context) error

	GenerateID() string
	CollectionNames() []string
}

// ItemError is one failed element of a bulk operation.
type ItemError struct {
	Index int
	Key   string
	Err   error
}

func (e ItemError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("item %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("item %d (%s): %v", e.Index, e.Key, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// BulkError lists the failed items of a bulk operation.
type BulkError struct {
	Op         string
	Collection string
	Succeeded  int
	Failures   []ItemError
}

func (e *BulkError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%s %s: %d succeeded, %d failed: %s",
		e.Op, e.Collection, e.Succeeded, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *BulkError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}
