// Package resolver turns did:wba identifiers into identity documents.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"esence/application/ports"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/infrastructure/transport"
	"esence/pkg/observability"

	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxDocumentSize = 64 * 1024

// Config configures the HTTP resolver
type Config struct {
	TTL     time.Duration
	Timeout time.Duration
	Retry   transport.RetryConfig
}

// DefaultConfig returns a 300s cache with bounded retries
func DefaultConfig() Config {
	return Config{
		TTL:     300 * time.Second,
		Timeout: 10 * time.Second,
		Retry:   transport.DefaultRetryConfig(),
	}
}

// HTTPResolver fetches /.well-known/did.json from the DID's domain.
// Concurrent lookups of one DID share a single fetch.
type HTTPResolver struct {
	client  *http.Client
	cache   *DocumentCache
	cfg     Config
	group   singleflight.Group
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New creates a resolver. client may be nil.
func New(cfg Config, cache *DocumentCache, client *http.Client, logger *zap.Logger, metrics *observability.Metrics) *HTTPResolver {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cache == nil {
		cache = NewDocumentCache(cfg.TTL, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPResolver{
		client:  client,
		cache:   cache,
		cfg:     cfg,
		logger:  logger.Named("resolver"),
		metrics: metrics,
	}
}

// Resolve implements ports.Resolver
func (r *HTTPResolver) Resolve(ctx context.Context, did valueobjects.DID) (entities.IdentityDocument, error) {
	key := did.String()
	if doc, ok := r.cache.Get(key); ok {
		r.metrics.ObserveResolver(true)
		return doc, nil
	}
	r.metrics.ObserveResolver(false)

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		var doc entities.IdentityDocument
		err := transport.Retry(ctx, r.cfg.Retry, r.logger, "resolve "+key, func() error {
			var ferr error
			doc, ferr = r.fetch(ctx, did)
			return ferr
		})
		if err != nil {
			return nil, err
		}
		r.cache.Set(key, doc)
		return doc, nil
	})
	if err != nil {
		return entities.IdentityDocument{}, apperrors.NewResolutionFailedError(key, err)
	}
	return v.(entities.IdentityDocument), nil
}

// Invalidate implements ports.Resolver
func (r *HTTPResolver) Invalidate(did valueobjects.DID) {
	r.cache.Delete(did.String())
}

// Cache exposes the underlying cache
func (r *HTTPResolver) Cache() *DocumentCache {
	return r.cache
}

// Run sweeps expired entries until ctx is cancelled
func (r *HTTPResolver) Run(ctx context.Context) {
	if r.cfg.TTL <= 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.TTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.cache.Sweep(); n > 0 {
				r.logger.Debug("swept expired documents", zap.Int("count", n))
			}
		}
	}
}

func (r *HTTPResolver) fetch(ctx context.Context, did valueobjects.DID) (entities.IdentityDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, did.DocumentURL(), nil)
	if err != nil {
		return entities.IdentityDocument{}, transport.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return entities.IdentityDocument{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return entities.IdentityDocument{}, fmt.Errorf("document fetch returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return entities.IdentityDocument{}, transport.Permanent(fmt.Errorf("document fetch returned %d", resp.StatusCode))
	}

	var doc entities.IdentityDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize)).Decode(&doc); err != nil {
		return entities.IdentityDocument{}, transport.Permanent(fmt.Errorf("decode document: %w", err))
	}
	if doc.ID != "" && doc.ID != did.String() {
		return entities.IdentityDocument{}, transport.Permanent(fmt.Errorf("document id %q does not match %s", doc.ID, did))
	}
	if _, err := doc.Key(); err != nil {
		return entities.IdentityDocument{}, transport.Permanent(err)
	}
	return doc, nil
}

var _ ports.Resolver = (*HTTPResolver)(nil)
