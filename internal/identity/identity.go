// Package identity resolves the per-user secret that encryption keys are
// derived from.
//
// Resolution order:
//
//  1. an explicitly authenticated email (Authenticate / AuthenticateIDToken);
//  2. the email cached in prefs by a previous session;
//  3. a random 256-bit device id, generated once and persisted in prefs.
//
// Data encrypted under one identifier cannot be read under another. Signing
// in on a device that previously ran on its device id therefore hides the
// records written before sign-in until the user signs out again.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/canvasvault/internal/common"
	"github.com/dmitrijs2005/canvasvault/internal/events"
	"github.com/dmitrijs2005/canvasvault/internal/logging"
	"github.com/dmitrijs2005/canvasvault/internal/prefs"
	"github.com/golang-jwt/jwt/v5"
)

// DeviceIDBytes is the size of the random device id before hex encoding.
const DeviceIDBytes = 32

var (
	ErrEmptyEmail   = errors.New("email must not be empty")
	ErrNoEmailClaim = errors.New("id token carries no email claim")
)

type Source string

const (
	SourceExplicit Source = "explicit"
	SourceCached   Source = "cached"
	SourceDevice   Source = "device"
)

// Identity is the resolved identifier and where it came from.
type Identity struct {
	Value  string
	Source Source
}

// Change is the payload of events.IdentityChanged.
type Change struct {
	From Source
	To   Source
}

type Resolver struct {
	store   prefs.Store
	bus     *events.Bus
	log     logging.Logger
	keyFunc jwt.Keyfunc

	mu       sync.Mutex
	explicit string
}

type Option func(*Resolver)

func WithBus(b *events.Bus) Option { return func(r *Resolver) { r.bus = b } }

func WithLogger(l logging.Logger) Option { return func(r *Resolver) { r.log = l } }

// WithKeyFunc makes AuthenticateIDToken verify token signatures with kf.
// Without it tokens are decoded unverified, on the assumption that they come
// straight from the identity provider's sign-in response.
func WithKeyFunc(kf jwt.Keyfunc) Option { return func(r *Resolver) { r.keyFunc = kf } }

func NewResolver(store prefs.Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, log: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Identifier implements cryptox.IdentifierSource.
func (r *Resolver) Identifier(ctx context.Context) (string, error) {
	id, err := r.Current(ctx)
	if err != nil {
		return "", err
	}
	return id.Value, nil
}

// Current resolves the identifier without changing any state other than
// creating the device id on first use.
func (r *Resolver) Current(ctx context.Context) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current(ctx)
}

func (r *Resolver) current(ctx context.Context) (Identity, error) {
	if r.explicit != "" {
		return Identity{Value: r.explicit, Source: SourceExplicit}, nil
	}

	cached, err := r.store.Get(ctx, prefs.KeyUserEmail)
	if err != nil {
		return Identity{}, fmt.Errorf("read cached email: %w", err)
	}
	if len(cached) > 0 {
		return Identity{Value: string(cached), Source: SourceCached}, nil
	}

	device, err := r.deviceID(ctx)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Value: device, Source: SourceDevice}, nil
}

// DeviceID returns the persisted device id, creating it on first call.
func (r *Resolver) DeviceID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deviceID(ctx)
}

func (r *Resolver) deviceID(ctx context.Context) (string, error) {
	v, err := r.store.Get(ctx, prefs.KeyDeviceID)
	if err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	if len(v) > 0 {
		return string(v), nil
	}

	id, err := common.MakeRandHexString(DeviceIDBytes)
	if err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	if err := r.store.Set(ctx, prefs.KeyDeviceID, []byte(id)); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	r.log.Info(ctx, "generated device identifier")
	return id, nil
}

// Authenticate makes email the identifier and caches it for later sessions.
func (r *Resolver) Authenticate(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmptyEmail
	}

	r.mu.Lock()
	before, err := r.current(ctx)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if err := r.store.Set(ctx, prefs.KeyUserEmail, []byte(email)); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("cache email: %w", err)
	}
	r.explicit = email
	r.mu.Unlock()

	if before.Value != email {
		r.log.Info(ctx, "identity changed", "from", before.Source, "to", SourceExplicit)
		r.bus.Publish(events.IdentityChanged, Change{From: before.Source, To: SourceExplicit})
	}
	return nil
}

// AuthenticateIDToken extracts the email from an OpenID Connect ID token and
// authenticates with it.
func (r *Resolver) AuthenticateIDToken(ctx context.Context, token string) error {
	email, err := EmailFromIDToken(token, r.keyFunc)
	if err != nil {
		return err
	}
	return r.Authenticate(ctx, email)
}

// SignOut forgets the explicit and cached email; the device id is kept.
func (r *Resolver) SignOut(ctx context.Context) error {
	r.mu.Lock()
	before, err := r.current(ctx)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.explicit = ""
	if err := r.store.Delete(ctx, prefs.KeyUserEmail); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("clear cached email: %w", err)
	}
	r.mu.Unlock()

	if before.Source != SourceDevice {
		r.log.Info(ctx, "identity changed", "from", before.Source, "to", SourceDevice)
		r.bus.Publish(events.IdentityChanged, Change{From: before.Source, To: SourceDevice})
	}
	return nil
}
