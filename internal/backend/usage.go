package backend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/dmitrijs2005/canvasvault/internal/schema"
)

// NominalQuota is the quota reported when the filesystem cannot be probed.
const NominalQuota int64 = 500 * 1024 * 1024

var errStatfsUnsupported = errors.New("filesystem statistics unsupported on this platform")

// freeSpace reports bytes available to the process on the filesystem
// holding dir.
var freeSpace = statfsFree

// Usage measures the database files against the free space of their
// filesystem. When that probe fails it falls back to the summed size of the
// serialized records against NominalQuota; that estimate ignores index and
// page overhead.
func (b *SQLiteBackend) Usage(ctx context.Context) (Usage, error) {
	if _, err := b.sqlDB(); err != nil {
		return Usage{}, err
	}

	used, err := b.db.Size()
	if err == nil {
		free, ferr := freeSpace(filepath.Dir(b.db.Path()))
		if ferr == nil {
			return newUsage(used, used+int64(free), false), nil
		}
		b.log.Debug(ctx, "filesystem probe failed, estimating usage", "error", ferr)
	}

	used, err = b.recordBytes(ctx)
	if err != nil {
		return Usage{}, err
	}
	return newUsage(used, NominalQuota, true), nil
}

func newUsage(used, quota int64, estimated bool) Usage {
	u := Usage{Used: used, Quota: quota, Estimated: estimated}
	if quota > 0 {
		u.PercentUsed = math.Round(float64(used)/float64(quota)*10000) / 100
	}
	return u
}

func (b *SQLiteBackend) recordBytes(ctx context.Context) (int64, error) {
	var total int64
	for _, c := range schema.Collections() {
		conn, _, err := b.conn(ctx, c.Name)
		if err != nil {
			return 0, err
		}
		var n int64
		if err := conn.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(data)), 0) FROM `+table(c)).Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to size %s: %w", c.Name, err)
		}
		total += n
	}
	return total, nil
}
