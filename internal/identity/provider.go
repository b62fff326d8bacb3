// Package identity derives the durable visitor identifier that correlates every
// conversation started from one client profile.
package identity

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sppetrol/webchat/internal/logging"
	"github.com/sppetrol/webchat/internal/storage"
)

// StorageKey is the key the visitor identifier is persisted under.
const StorageKey = "sp_user_id"

// RandomSource produces a cryptographically random identifier.
type RandomSource func() (string, error)

// UUIDSource is the default RandomSource (random v4 UUID).
func UUIDSource() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Provider hands out the visitor identifier. A nil store means storage is
// unavailable and every call yields a fresh, unpersisted identifier.
type Provider struct {
	store  storage.Store
	random RandomSource
	now    func() time.Time
	logger zerolog.Logger
}

// Option customises a Provider.
type Option func(*Provider)

// WithRandomSource overrides the platform random identifier source.
func WithRandomSource(src RandomSource) Option {
	return func(p *Provider) { p.random = src }
}

// WithClock overrides the clock used by the fallback generator.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// NewProvider creates a Provider backed by store.
func NewProvider(store storage.Store, opts ...Option) *Provider {
	p := &Provider{
		store:  store,
		random: UUIDSource,
		now:    time.Now,
		logger: logging.L().With().Str(logging.FieldComponent, "identity").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOrCreateVisitorID returns the persisted identifier, creating and storing
// one on first use. It never fails; storage problems degrade to an identifier
// that is not persisted.
func (p *Provider) GetOrCreateVisitorID(ctx context.Context) string {
	if p.store == nil {
		return p.generate()
	}

	existing, err := p.store.Get(ctx, StorageKey)
	switch {
	case err == nil && existing != "":
		return existing
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		p.logger.Warn().Err(err).Msg("visitor storage unavailable, using ephemeral id")
		return p.generate()
	}

	id := p.generate()
	if err := p.store.Set(ctx, StorageKey, id); err != nil {
		p.logger.Warn().Err(err).Msg("failed to persist visitor id")
	}
	return id
}

func (p *Provider) generate() string {
	if p.random != nil {
		if id, err := p.random(); err == nil && id != "" {
			return id
		}
	}
	return FallbackID(p.now())
}

// FallbackID builds a best-effort identifier from the current time and a
// random base36 suffix.
func FallbackID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.FormatUint(rand.Uint64(), 36)
}
