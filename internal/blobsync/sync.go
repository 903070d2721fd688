// Package blobsync pushes collection snapshots to blob storage and pulls
// them back. Objects are stored under <prefix>/<persona>/<collection>.json.
package blobsync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/canvasvault/internal/common"
	"github.com/dmitrijs2005/canvasvault/internal/logging"
	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
	"golang.org/x/sync/errgroup"
)

// Keys of the syncMeta records stamped after a successful transfer.
const (
	LastPush = "lastPush"
	LastPull = "lastPull"
)

var ErrObjectNotFound = errors.New("blob not found")

// ObjectStore is the remote side; S3Store implements it.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Store is the local side; *storage.Service implements it.
type Store interface {
	Collections() []string
	Snapshot(ctx context.Context, collection string) ([]byte, error)
	RestoreSnapshot(ctx context.Context, collection string, data []byte) (int, error)
	Put(ctx context.Context, collection string, rec models.Record) (string, error)
}

type Syncer struct {
	remote      ObjectStore
	prefix      string
	log         logging.Logger
	now         func() time.Time
	concurrency int
}

type Option func(*Syncer)

func WithLogger(l logging.Logger) Option { return func(s *Syncer) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Syncer) { s.now = now } }

// WithConcurrency caps parallel transfers; values below one mean one.
func WithConcurrency(n int) Option {
	return func(s *Syncer) { s.concurrency = max(n, 1) }
}

func New(remote ObjectStore, prefix string, opts ...Option) *Syncer {
	s := &Syncer{
		remote:      remote,
		prefix:      prefix,
		log:         logging.NewNop(),
		now:         time.Now,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ObjectKey names the blob holding one collection of persona.
func (s *Syncer) ObjectKey(persona, collection string) string {
	return path.Join(s.prefix, persona, collection+".json")
}

// synced lists the collections exchanged with the remote. syncMeta is local
// bookkeeping and stays behind.
func synced(local Store) []string {
	return slices.DeleteFunc(slices.Clone(local.Collections()), func(c string) bool {
		return c == schema.SyncMeta
	})
}

// Push uploads a snapshot of every synced collection and returns the
// collections written.
func (s *Syncer) Push(ctx context.Context, local Store, persona string) ([]string, error) {
	collections := synced(local)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, c := range collections {
		g.Go(func() error {
			data, err := local.Snapshot(gctx, c)
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", c, err)
			}
			if err := s.remote.Put(gctx, s.ObjectKey(persona, c), data); err != nil {
				return fmt.Errorf("upload %s: %w", c, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.stamp(ctx, local, LastPush, persona); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "pushed snapshots", "persona", persona, "collections", len(collections))
	return collections, nil
}

// Pull downloads all snapshots first and only then restores them, so a
// failed download leaves the local store untouched. Collections missing
// remotely are skipped. The result maps collection to records restored.
func (s *Syncer) Pull(ctx context.Context, local Store, persona string) (map[string]int, error) {
	collections := synced(local)

	var mu sync.Mutex
	blobs := make(map[string][]byte, len(collections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, c := range collections {
		g.Go(func() error {
			data, err := s.remote.Get(gctx, s.ObjectKey(persona, c))
			if errors.Is(err, ErrObjectNotFound) {
				s.log.Debug(gctx, "no remote snapshot", "collection", c)
				return nil
			}
			if err != nil {
				return fmt.Errorf("download %s: %w", c, err)
			}
			mu.Lock()
			blobs[c] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	restored := make(map[string]int, len(blobs))
	for _, c := range collections {
		data, ok := blobs[c]
		if !ok {
			continue
		}
		n, err := local.RestoreSnapshot(ctx, c, data)
		if err != nil {
			return restored, fmt.Errorf("restore %s: %w", c, err)
		}
		restored[c] = n
	}

	if err := s.stamp(ctx, local, LastPull, persona); err != nil {
		return restored, err
	}
	s.log.Info(ctx, "pulled snapshots", "persona", persona, "collections", len(restored))
	return restored, nil
}

func (s *Syncer) stamp(ctx context.Context, local Store, key, persona string) error {
	_, err := local.Put(ctx, schema.SyncMeta, models.Record{
		models.FieldKey:       key,
		models.FieldPersonaID: persona,
		"timestamp":           common.FormatTimestamp(s.now()),
	})
	if err != nil {
		return fmt.Errorf("record %s: %w", key, err)
	}
	return nil
}
