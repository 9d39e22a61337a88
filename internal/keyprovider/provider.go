// Package keyprovider owns the single symmetric key used to lock and unlock
// directories. Callers receive a *crypto.Cipher capability; raw key bytes
// stay inside this package.
package keyprovider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illarion/lockersim/internal/crypto"
	"github.com/illarion/lockersim/internal/logging"
)

// DefaultAlias names the key when no alias is configured.
const DefaultAlias = "default"

var (
	ErrKeyStoreUnavailable = errors.New("key store unavailable")
	ErrNotFound            = errors.New("key not found")
)

// Store persists raw key material under an alias.
type Store interface {
	// Name identifies the backend, e.g. "keyring".
	Name() string
	// Load returns the key or ErrNotFound.
	Load(alias string) ([]byte, error)
	// GenerateAndStore creates a fresh 32-byte key and persists it.
	GenerateAndStore(alias string) ([]byte, error)
	Delete(alias string) error
}

// AtomicStore is a Store that can create-or-fetch in one step.
// created reports whether the key was generated by this call.
type AtomicStore interface {
	Store
	GetOrCreate(alias string) (key []byte, created bool, err error)
}

// Checker is implemented by stores that can check for a key without
// unwrapping it.
type Checker interface {
	Exists(alias string) (bool, error)
}

// Status describes the persisted key without exposing it.
type Status struct {
	Alias   string
	Backend string
	Exists  bool
}

// Provider hands out the process-wide cipher, creating the key on first use.
type Provider struct {
	mu     sync.Mutex
	store  Store
	alias  string
	cipher *crypto.Cipher
	logger logging.Logger
}

type Option func(*Provider)

func WithAlias(alias string) Option {
	return func(p *Provider) { p.alias = alias }
}

func WithLogger(l logging.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

func New(store Store, opts ...Option) *Provider {
	p := &Provider{
		store:  store,
		alias:  DefaultAlias,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOrCreateKey returns a cipher over the persisted key, generating and
// storing a new key the first time. The result is cached for the lifetime
// of the Provider.
func (p *Provider) GetOrCreateKey(ctx context.Context) (*crypto.Cipher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cipher != nil {
		return p.cipher, nil
	}

	key, created, err := p.fetch()
	if err != nil {
		return nil, unavailable(err)
	}
	defer crypto.ClearBytes(key)

	c, err := crypto.NewCipher(key)
	if err != nil {
		return nil, unavailable(err)
	}

	if created {
		p.logger.Info(ctx, "generated new key", "alias", p.alias, "backend", p.store.Name())
	} else {
		p.logger.Debug(ctx, "loaded key", "alias", p.alias, "backend", p.store.Name())
	}

	p.cipher = c
	return c, nil
}

func (p *Provider) fetch() ([]byte, bool, error) {
	if as, ok := p.store.(AtomicStore); ok {
		return as.GetOrCreate(p.alias)
	}

	key, err := p.store.Load(p.alias)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	key, err = p.store.GenerateAndStore(p.alias)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// Status reports whether a key is persisted.
func (p *Provider) Status(ctx context.Context) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{Alias: p.alias, Backend: p.store.Name()}
	if p.cipher != nil {
		st.Exists = true
		return st, nil
	}

	if pr, ok := p.store.(Checker); ok {
		exists, err := pr.Exists(p.alias)
		if err != nil {
			return st, unavailable(err)
		}
		st.Exists = exists
		return st, nil
	}

	key, err := p.store.Load(p.alias)
	switch {
	case err == nil:
		crypto.ClearBytes(key)
		st.Exists = true
	case errors.Is(err, ErrNotFound):
	default:
		return st, unavailable(err)
	}
	return st, nil
}

// Delete removes the persisted key. Blobs sealed under it become unrecoverable.
func (p *Provider) Delete(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cipher = nil
	if err := p.store.Delete(p.alias); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return unavailable(err)
	}
	p.logger.Info(ctx, "deleted key", "alias", p.alias, "backend", p.store.Name())
	return nil
}

func unavailable(err error) error {
	if errors.Is(err, ErrKeyStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrKeyStoreUnavailable, err)
}
