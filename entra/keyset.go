package entra

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/wndmngr/backend/authz"
)

const maxKeySetDocumentSize = 1 << 20

var errNoUsableKeys = errors.New("key set document contains no usable signing keys")

// KeySet is an immutable snapshot of the provider's signing keys
type KeySet struct {
	keys      map[string]crypto.PublicKey
	fetchedAt time.Time
	expiresAt time.Time
}

// Key returns the public key registered under kid
func (s *KeySet) Key(kid string) (crypto.PublicKey, bool) {
	key, ok := s.keys[kid]
	return key, ok
}

// Len returns the number of usable keys
func (s *KeySet) Len() int {
	return len(s.keys)
}

// FetchedAt returns when the document was downloaded
func (s *KeySet) FetchedAt() time.Time {
	return s.fetchedAt
}

// KeyIDs returns the sorted key ids
func (s *KeySet) KeyIDs() []string {
	ids := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		ids = append(ids, kid)
	}
	sort.Strings(ids)
	return ids
}

// KeySetConfig holds configuration for KeySetCache
type KeySetConfig struct {
	URI string

	// HTTPTimeout bounds a single HTTP round trip
	HTTPTimeout time.Duration

	// FetchTimeout bounds a whole fetch, independent of the caller's context
	FetchTimeout time.Duration

	// TTL after which the set is refreshed lazily. Zero keeps it forever.
	TTL time.Duration

	// RefetchInterval is the minimum spacing between refetches caused by an
	// unknown kid or a failed refresh
	RefetchInterval time.Duration

	HTTPClient *http.Client
}

// KeySetCache lazily downloads and caches the JWKS document. Concurrent
// first callers share one fetch.
type KeySetCache struct {
	uri             string
	ttl             time.Duration
	fetchTimeout    time.Duration
	refetchInterval time.Duration
	httpClient      *http.Client
	logger          *zap.Logger
	tracer          trace.Tracer
	now             func() time.Time

	current atomic.Pointer[KeySet]
	flight  singleflight.Group
	refetch *rate.Limiter
	fetches atomic.Int64
}

// NewKeySetCache creates a new cache. Nothing is fetched until first use.
func NewKeySetCache(cfg KeySetConfig, logger *zap.Logger) *KeySetCache {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.RefetchInterval == 0 {
		cfg.RefetchInterval = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KeySetCache{
		uri:             cfg.URI,
		ttl:             cfg.TTL,
		fetchTimeout:    cfg.FetchTimeout,
		refetchInterval: cfg.RefetchInterval,
		httpClient:      cfg.HTTPClient,
		logger:          logger,
		tracer:          otel.Tracer("github.com/wndmngr/backend/entra"),
		now:             time.Now,
		refetch:         rate.NewLimiter(rate.Every(cfg.RefetchInterval), 1),
	}
}

// KeySet returns the cached key set, fetching it on first use or after the TTL
func (c *KeySetCache) KeySet(ctx context.Context) (*KeySet, error) {
	ks := c.current.Load()
	if ks != nil && !c.expired(ks) {
		return ks, nil
	}
	return c.load(ctx, ks)
}

// Key returns the key for kid. An unknown kid triggers at most one
// rate-limited refetch to pick up rotated keys.
func (c *KeySetCache) Key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	ks, err := c.KeySet(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := ks.Key(kid); ok {
		return key, nil
	}

	if !c.refetch.Allow() {
		return nil, authz.NewError(authz.ReasonUnknownKey, fmt.Sprintf("kid %q not in key set", kid), nil)
	}

	c.logger.Info("Unknown kid, refetching key set", zap.String("kid", kid))
	ks, err = c.load(ctx, ks)
	if err != nil {
		return nil, err
	}
	if key, ok := ks.Key(kid); ok {
		return key, nil
	}
	return nil, authz.NewError(authz.ReasonUnknownKey, fmt.Sprintf("kid %q not in key set", kid), nil)
}

// Refresh forces a refetch. The previous set is kept if the fetch fails.
func (c *KeySetCache) Refresh(ctx context.Context) (*KeySet, error) {
	return c.load(ctx, c.current.Load())
}

// Warm reports whether a key set has been loaded
func (c *KeySetCache) Warm() bool {
	return c.current.Load() != nil
}

// Fetches returns how many downloads were attempted
func (c *KeySetCache) Fetches() int64 {
	return c.fetches.Load()
}

func (c *KeySetCache) expired(ks *KeySet) bool {
	return !ks.expiresAt.IsZero() && !c.now().Before(ks.expiresAt)
}

// load replaces prev. A set newer than prev stored by a concurrent flight is
// returned as is.
func (c *KeySetCache) load(ctx context.Context, prev *KeySet) (*KeySet, error) {
	ch := c.flight.DoChan("jwks", func() (interface{}, error) {
		if cur := c.current.Load(); cur != nil && cur != prev && !c.expired(cur) {
			return cur, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		ks, err := c.fetch(fetchCtx)
		if err != nil {
			cur := c.current.Load()
			if cur == nil {
				c.logger.Error("Failed to fetch key set", zap.String("uri", c.uri), zap.Error(err))
				return nil, authz.NewError(authz.ReasonKeySetUnavailable, "signing key set unavailable", err)
			}
			c.logger.Warn("Key set refresh failed, keeping previous set",
				zap.String("uri", c.uri),
				zap.Time("fetched_at", cur.fetchedAt),
				zap.Error(err),
			)
			retry := &KeySet{keys: cur.keys, fetchedAt: cur.fetchedAt}
			if c.ttl > 0 {
				retry.expiresAt = c.now().Add(c.refetchInterval)
			}
			c.current.Store(retry)
			return retry, nil
		}

		c.current.Store(ks)
		c.logger.Info("Key set loaded", zap.String("uri", c.uri), zap.Strings("kids", ks.KeyIDs()))
		return ks, nil
	})

	select {
	case <-ctx.Done():
		return nil, authz.NewError(authz.ReasonKeySetUnavailable, "waiting for signing key set", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	}
}

func (c *KeySetCache) fetch(ctx context.Context) (*KeySet, error) {
	ctx, span := c.tracer.Start(ctx, "entra.fetch_jwks", trace.WithAttributes(attribute.String("jwks.uri", c.uri)))
	defer span.End()
	c.fetches.Add(1)

	ks, err := c.download(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("jwks.keys", ks.Len()))
	return ks, nil
}

func (c *KeySetCache) download(ctx context.Context) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch key set: status code %d", resp.StatusCode)
	}

	ks, err := parseKeySet(io.LimitReader(resp.Body, maxKeySetDocumentSize), c.logger)
	if err != nil {
		return nil, err
	}

	ks.fetchedAt = c.now()
	if c.ttl > 0 {
		ks.expiresAt = ks.fetchedAt.Add(c.ttl)
	}
	return ks, nil
}

type keySetDocument struct {
	Keys []json.RawMessage `json:"keys"`
}

// parseKeySet keeps public signing keys and skips everything else
func parseKeySet(r io.Reader, logger *zap.Logger) (*KeySet, error) {
	var doc keySetDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode key set: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(doc.Keys))
	for i, raw := range doc.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			logger.Warn("Skipping unparseable key", zap.Int("index", i), zap.Error(err))
			continue
		}
		switch {
		case jwk.KeyID == "":
			logger.Warn("Skipping key without kid", zap.Int("index", i))
			continue
		case !jwk.IsPublic():
			logger.Warn("Skipping non-public key", zap.String("kid", jwk.KeyID))
			continue
		case jwk.Use != "" && jwk.Use != "sig":
			logger.Debug("Skipping non-signing key", zap.String("kid", jwk.KeyID), zap.String("use", jwk.Use))
			continue
		}
		keys[jwk.KeyID] = jwk.Key
	}

	if len(keys) == 0 {
		return nil, errNoUsableKeys
	}
	return &KeySet{keys: keys}, nil
}
