package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/canvasvault/internal/config"
	"github.com/dmitrijs2005/canvasvault/internal/cryptox"
	"github.com/dmitrijs2005/canvasvault/internal/events"
	"github.com/dmitrijs2005/canvasvault/internal/identity"
	"github.com/dmitrijs2005/canvasvault/internal/logging"
	"github.com/dmitrijs2005/canvasvault/internal/metrics"
	"github.com/dmitrijs2005/canvasvault/internal/migration"
	"github.com/dmitrijs2005/canvasvault/internal/prefs"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
	"github.com/dmitrijs2005/canvasvault/internal/storage"
)

// App owns everything a command needs. The preference store and identity
// resolver are opened eagerly; the database only on first use, so commands
// such as login never touch it.
type App struct {
	cfg       *config.Config
	log       logging.Logger
	logCloser io.Closer
	bus       *events.Bus
	metrics   *metrics.Metrics

	prefs    *prefs.BoltStore
	identity *identity.Resolver
	svc      *storage.Service

	in  *bufio.Reader
	out io.Writer
}

type Option func(*appOptions)

type appOptions struct {
	cipherOpts []cryptox.Option
	logger     logging.Logger
}

// WithCipherOptions is passed through to cryptox.NewCipher.
func WithCipherOptions(opts ...cryptox.Option) Option {
	return func(o *appOptions) { o.cipherOpts = append(o.cipherOpts, opts...) }
}

// WithAppLogger replaces the logger built from the configuration.
func WithAppLogger(l logging.Logger) Option {
	return func(o *appOptions) { o.logger = l }
}

func NewApp(cfg *config.Config, in io.Reader, out io.Writer, opts ...Option) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:       cfg,
		bus:       events.NewBus(),
		metrics:   metrics.New(),
		logCloser: io.NopCloser(nil),
		in:        bufio.NewReader(in),
		out:       out,
	}

	if o.logger != nil {
		a.log = o.logger
	} else {
		l, closer, err := logging.New(cfg.LogOptions())
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		a.log, a.logCloser = l, closer
	}

	p, err := prefs.OpenBolt(cfg.PrefsPath)
	if err != nil {
		_ = a.logCloser.Close()
		return nil, fmt.Errorf("open preferences: %w", err)
	}
	a.prefs = p

	a.identity = identity.NewResolver(p, identity.WithBus(a.bus), identity.WithLogger(a.log))
	cipher := cryptox.NewCipher(a.identity, o.cipherOpts...)
	db := schema.NewDatabase(cfg.DBPath, schema.WithLogger(a.log))
	a.svc = storage.New(db, cipher,
		storage.WithLogger(a.log),
		storage.WithBus(a.bus),
		storage.WithMetrics(a.metrics),
	)

	a.bus.Subscribe(events.DecryptFailed, func(e events.Event) {
		a.log.Warn(context.Background(), "record could not be decrypted", "detail", e.Payload)
	})
	return a, nil
}

// Storage initializes the storage service on first call and runs the
// legacy migration when auto_migrate is set.
func (a *App) Storage(ctx context.Context) (*storage.Service, error) {
	if a.svc.IsInitialized() {
		return a.svc, nil
	}
	if _, err := a.svc.Initialize(ctx); err != nil {
		return nil, err
	}
	if a.cfg.AutoMigrate {
		if err := a.autoMigrate(ctx); err != nil {
			a.log.Warn(ctx, "automatic migration failed", "error", err)
		}
	}
	return a.svc, nil
}

func (a *App) migrator() *migration.Migrator {
	return migration.New(a.prefs, a.svc,
		migration.WithLogger(a.log),
		migration.WithBus(a.bus),
		migration.WithMetrics(a.metrics),
		migration.WithDelay(a.cfg.MigrationItemDelay),
	)
}

func (a *App) autoMigrate(ctx context.Context) error {
	m := a.migrator()
	pending, err := m.HasLegacyData(ctx)
	if err != nil || !pending {
		return err
	}
	res, err := m.Run(ctx, a.cfg.Persona, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Migrated %d legacy keys (%s)\n", res.Migrated, res.State)
	return nil
}

// Close releases the database and preference store and writes the metrics
// textfile when one is configured.
func (a *App) Close() error {
	var errs []error
	if err := a.svc.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.prefs.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if err := a.logCloser.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
