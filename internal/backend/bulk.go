package backend

import (
	"context"

	"github.com/dmitrijs2005/canvasvault/internal/common"
	"github.com/dmitrijs2005/canvasvault/internal/dbx"
	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
)

func (b *SQLiteBackend) BulkPut(ctx context.Context, collection string, recs []models.Record) ([]string, error) {
	return b.bulkWrite(ctx, "bulkPut", collection, recs, false)
}

func (b *SQLiteBackend) BulkAdd(ctx context.Context, collection string, recs []models.Record) ([]string, error) {
	return b.bulkWrite(ctx, "bulkAdd", collection, recs, true)
}

// bulkWrite stamps every item with the same time. SQLite rolls back only the
// failing statement, so the transaction can commit the rest.
func (b *SQLiteBackend) bulkWrite(ctx context.Context, op, collection string, recs []models.Record, insertOnly bool) ([]string, error) {
	keys := make([]string, len(recs))
	bulkErr := &BulkError{Op: op, Collection: collection}

	err := b.withTx(ctx, collection, func(ctx context.Context, tx dbx.DBTX, c schema.Collection) error {
		now := common.FormatTimestamp(b.now())
		for i, rec := range recs {
			if err := ctx.Err(); err != nil {
				return err
			}
			key, err := b.write(ctx, tx, c, rec, insertOnly, now)
			if err != nil {
				k, _ := rec.Key(c.PrimaryKey)
				bulkErr.Failures = append(bulkErr.Failures, ItemError{Index: i, Key: k, Err: err})
				continue
			}
			keys[i] = key
			bulkErr.Succeeded++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(bulkErr.Failures) > 0 {
		b.log.Warn(ctx, "bulk write partially failed", "op", op, "collection", collection,
			"succeeded", bulkErr.Succeeded, "failed", len(bulkErr.Failures))
		return keys, bulkErr
	}
	return keys, nil
}

func (b *SQLiteBackend) BulkDelete(ctx context.Context, collection string, keys []string) error {
	bulkErr := &BulkError{Op: "bulkDelete", Collection: collection}

	err := b.withTx(ctx, collection, func(ctx context.Context, tx dbx.DBTX, c schema.Collection) error {
		for i, key := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table(c)+` WHERE pk = ?`, key); err != nil {
				bulkErr.Failures = append(bulkErr.Failures, ItemError{Index: i, Key: key, Err: err})
				continue
			}
			bulkErr.Succeeded++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(bulkErr.Failures) > 0 {
		return bulkErr
	}
	return nil
}

func (b *SQLiteBackend) BulkGet(ctx context.Context, collection string, keys []string) ([]models.Record, error) {
	out := make([]models.Record, len(keys))
	err := b.withTx(ctx, collection, func(ctx context.Context, tx dbx.DBTX, c schema.Collection) error {
		for i, key := range keys {
			rec, err := getRecord(ctx, tx, c, key)
			if err != nil {
				return err
			}
			out[i] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
