package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/infrastructure/transport"
	"esence/pkg/utils"

	apperrors "esence/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var _ utils.Clock = (*fakeClock)(nil)

func documentServer(t *testing.T, status int, hits *int32) (*httptest.Server, valueobjects.DID) {
	t.Helper()
	var did valueobjects.DID
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Path != "/.well-known/did.json" {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		doc := entities.NewIdentityDocument(entities.Identity{DID: did, PublicKey: "cHVibGlj", Domain: did.Domain()}, did.MessageURL(), 0.1, true)
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)

	host := strings.TrimPrefix(srv.URL, "http://")
	var err error
	did, err = valueobjects.NewDID(host, "bob")
	require.NoError(t, err)
	return srv, did
}

func newTestResolver(clock utils.Clock, retries int) *HTTPResolver {
	cfg := DefaultConfig()
	cfg.Retry = transport.RetryConfig{MaxRetries: retries}
	return New(cfg, NewDocumentCache(cfg.TTL, clock), nil, zap.NewNop(), nil)
}

func TestHTTPResolver_TTL(t *testing.T) {
	// Arrange
	var hits int32
	_, did := documentServer(t, http.StatusOK, &hits)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	r := newTestResolver(clock, 0)
	ctx := context.Background()

	// Act & Assert: t=0 fetches
	doc, err := r.Resolve(ctx, did)
	require.NoError(t, err)
	assert.Equal(t, did.String(), doc.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// t=299s uses the cached entry verbatim
	clock.Advance(299 * time.Second)
	cached, err := r.Resolve(ctx, did)
	require.NoError(t, err)
	assert.Equal(t, doc, cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// t=301s evicts and refetches
	clock.Advance(2 * time.Second)
	_, err = r.Resolve(ctx, did)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestHTTPResolver_Invalidate(t *testing.T) {
	var hits int32
	_, did := documentServer(t, http.StatusOK, &hits)
	r := newTestResolver(nil, 0)

	_, err := r.Resolve(context.Background(), did)
	require.NoError(t, err)
	r.Invalidate(did)
	_, err = r.Resolve(context.Background(), did)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestHTTPResolver_ServerErrorsAreRetried(t *testing.T) {
	var hits int32
	_, did := documentServer(t, http.StatusBadGateway, &hits)
	r := newTestResolver(nil, 2)

	_, err := r.Resolve(context.Background(), did)

	require.Error(t, err)
	assert.True(t, apperrors.IsResolutionFailed(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestHTTPResolver_NotFoundIsPermanent(t *testing.T) {
	var hits int32
	_, did := documentServer(t, http.StatusNotFound, &hits)
	r := newTestResolver(nil, 3)

	_, err := r.Resolve(context.Background(), did)

	assert.True(t, apperrors.IsResolutionFailed(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDocumentCache_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := NewDocumentCache(time.Minute, clock)
	c.Set("a", entities.IdentityDocument{ID: "a"})
	clock.Advance(30 * time.Second)
	c.Set("b", entities.IdentityDocument{ID: "b"})
	clock.Advance(31 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("b")
	assert.True(t, ok)
}
