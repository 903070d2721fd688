package backend

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/canvasvault/internal/dbx"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
)

type scopeKey struct{}

type scope map[string]struct{}

func scopeFrom(ctx context.Context) (scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(scope)
	return s, ok
}

func checkScope(ctx context.Context, collection string) error {
	s, ok := scopeFrom(ctx)
	if !ok {
		return nil
	}
	if _, in := s[collection]; !in {
		return fmt.Errorf("%w: %q", ErrNotInTransaction, collection)
	}
	return nil
}

// Transaction runs fn in one read-write transaction over collections. An
// error or panic from fn rolls everything back. A nested call joins the
// enclosing transaction and may only name collections already in it.
func (b *SQLiteBackend) Transaction(ctx context.Context, collections []string, fn func(ctx context.Context) error) error {
	s := make(scope, len(collections))
	for _, name := range collections {
		if _, ok := schema.Lookup(name); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCollection, name)
		}
		if err := checkScope(ctx, name); err != nil {
			return err
		}
		s[name] = struct{}{}
	}

	if _, nested := scopeFrom(ctx); nested {
		return fn(context.WithValue(ctx, scopeKey{}, s))
	}

	db, err := b.sqlDB()
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, _ dbx.DBTX) error {
		return fn(context.WithValue(ctx, scopeKey{}, s))
	})
	if err != nil {
		b.log.Debug(ctx, "transaction rolled back", "collections", collections, "error", err)
	}
	return err
}
