package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"esence/application/commands/bus"
	commandhandlers "esence/application/commands/handlers"
	"esence/application/node"
	"esence/application/ports"
	querybus "esence/application/queries/bus"
	queryhandlers "esence/application/queries/handlers"
	"esence/application/queue"
	"esence/application/services"
	"esence/domain/core/aggregates"
	"esence/domain/core/entities"
	"esence/domain/core/valueobjects"
	"esence/pkg/auth"
	"esence/pkg/observability"

	apperrors "esence/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	alice = valueobjects.MustParseDID("did:wba:localhost%3A7777:alice")
	bob   = valueobjects.MustParseDID("did:wba:localhost%3A7778:bob")
)

// fakeNode answers every interface the router and the buses need
type fakeNode struct {
	mu         sync.Mutex
	receipt    node.Receipt
	receiveErr error
	received   []entities.Message
	health     node.Health
	ready      bool
	settings   entities.Settings
	approved   []string
	updated    []valueobjects.DID
	blocked    map[string]bool
}

func newFakeNode() *fakeNode {
	return &fakeNode{ready: true, blocked: map[string]bool{}, settings: entities.DefaultSettings()}
}

func (f *fakeNode) Receive(_ context.Context, msg entities.Message) (node.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
	return f.receipt, f.receiveErr
}

func (f *fakeNode) Document() entities.IdentityDocument {
	return entities.IdentityDocument{ID: alice.String(), DID: alice.String(), HumanReview: true}
}

func (f *fakeNode) Health() node.Health { return f.health }
func (f *fakeNode) Ready() bool         { return f.ready }

func (f *fakeNode) State(context.Context) node.State {
	return node.State{Status: node.StatusOnline, DID: alice.String(), Mood: f.settings.Mood}
}

func (f *fakeNode) Pending(context.Context) ([]queue.Summary, error) { return nil, nil }
func (f *fakeNode) Threads(context.Context) ([]queue.Summary, error) { return nil, nil }

func (f *fakeNode) Thread(context.Context, valueobjects.ThreadID) (aggregates.ThreadRecord, error) {
	return aggregates.ThreadRecord{}, apperrors.NewNotFoundError("thread")
}

func (f *fakeNode) Peers() []entities.Peer                     { return []entities.Peer{{DID: bob, TrustScore: 0.5}} }
func (f *fakeNode) ReadContext(context.Context) (string, error) { return "", nil }
func (f *fakeNode) ChatHistory() []ports.ChatTurn               { return nil }

func (f *fakeNode) Approve(_ context.Context, id valueobjects.ThreadID, edited string) (aggregates.ThreadRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, id.String()+"|"+edited)
	return aggregates.ThreadRecord{ID: id, Peer: bob, Status: valueobjects.StatusSent}, nil
}

func (f *fakeNode) Reject(_ context.Context, id valueobjects.ThreadID) (aggregates.ThreadRecord, error) {
	return aggregates.ThreadRecord{ID: id, Peer: bob, Status: valueobjects.StatusRejected}, nil
}

func (f *fakeNode) Send(_ context.Context, to, subject, content string) (aggregates.ThreadRecord, error) {
	return aggregates.ThreadRecord{ID: valueobjects.NewThreadID(), Peer: valueobjects.MustParseDID(to), Subject: subject, Status: valueobjects.StatusSent}, nil
}

func (f *fakeNode) SetMood(_ context.Context, raw string) (entities.Settings, error) {
	mood, err := valueobjects.ParseMood(raw)
	if err != nil {
		return entities.Settings{}, apperrors.NewValidationError(err.Error())
	}
	f.settings.Mood = mood
	return f.settings, nil
}

func (f *fakeNode) SetAutoApprove(_ context.Context, on bool) (entities.Settings, error) {
	f.settings.AutoApprove = on
	return f.settings, nil
}

func (f *fakeNode) Chat(context.Context, string) (node.ChatReply, error) {
	return node.ChatReply{Content: "Nothing is waiting.", Units: 10}, nil
}

func (f *fakeNode) WriteContext(context.Context, string) error { return nil }

func (f *fakeNode) AddPeer(_ context.Context, raw string) (entities.Peer, error) {
	return entities.Peer{DID: valueobjects.MustParseDID(raw), TrustScore: 0.5}, nil
}

func (f *fakeNode) UpdatePeer(_ context.Context, did valueobjects.DID, _ services.PeerUpdate) (entities.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, did)
	return entities.Peer{DID: did}, nil
}

func (f *fakeNode) BlockPeer(_ context.Context, did valueobjects.DID, blocked bool) (entities.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[did.String()] = blocked
	return entities.Peer{DID: did, Blocked: blocked}, nil
}

func (f *fakeNode) RemovePeer(context.Context, valueobjects.DID) error { return nil }

type routerOptions struct {
	tokens  *auth.OwnerTokens
	limiter *auth.IPRateLimiter
	opts    Options
}

func newTestRouter(t *testing.T, n *fakeNode, o routerOptions) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	commandBus := bus.NewCommandBus(bus.LoggingMiddleware(logger))
	require.NoError(t, commandhandlers.Register(commandBus, n, logger))
	queryBus := querybus.NewQueryBus()
	require.NoError(t, queryhandlers.Register(queryBus, n))
	if o.limiter == nil {
		o.limiter = auth.NewIPRateLimiter(30, time.Minute)
	}
	return NewRouter(commandBus, queryBus, n, o.tokens, o.limiter, observability.NewMetrics("esence_test"), nil, o.opts, logger).Setup()
}

func do(h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func wireMessage(t *testing.T) string {
	t.Helper()
	now := time.Now().UTC()
	msg := entities.NewMessage(valueobjects.NewThreadID(), bob, alice, "hello", entities.ThreadMessageBody{Subject: "hi"}, now).
		WithSignature("c2lnbmF0dXJl")
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return string(data)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	// Arrange
	n := newFakeNode()
	router := newTestRouter(t, n, routerOptions{})

	// Act
	health := do(router, http.MethodGet, "/health", "")
	ready := do(router, http.MethodGet, "/ready", "")
	n.ready = false
	n.health = node.Health{Degraded: true, Reason: "threads.json: disk full"}
	degraded := do(router, http.MethodGet, "/health", "")
	notReady := do(router, http.MethodGet, "/ready", "")

	// Assert
	assert.Equal(t, http.StatusOK, health.Code)
	assert.Equal(t, "healthy", decodeBody(t, health)["status"])
	assert.Equal(t, http.StatusOK, ready.Code)
	assert.Equal(t, http.StatusOK, degraded.Code)
	assert.Equal(t, "degraded", decodeBody(t, degraded)["status"])
	assert.Equal(t, http.StatusServiceUnavailable, notReady.Code)
}

func TestReceiveMessage_Verdicts(t *testing.T) {
	threadID := valueobjects.NewThreadID()
	tests := []struct {
		name       string
		receipt    node.Receipt
		wantStatus int
		wantBody   string
		wantThread bool
	}{
		{
			name:       "received",
			receipt:    node.Receipt{Verdict: node.VerdictReceived, ThreadID: threadID, Status: valueobjects.StatusPendingReview},
			wantStatus: http.StatusAccepted,
			wantBody:   "received",
			wantThread: true,
		},
		{
			name:       "dropped looks received",
			receipt:    node.Receipt{Verdict: node.VerdictDropped},
			wantStatus: http.StatusAccepted,
			wantBody:   "received",
		},
		{
			name:       "rejected is generic",
			receipt:    node.Receipt{Verdict: node.VerdictRejected, ThreadID: threadID, Outcome: valueobjects.OutcomeCapacityRejected},
			wantStatus: http.StatusForbidden,
			wantBody:   "rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			n := newFakeNode()
			n.receipt = tt.receipt
			router := newTestRouter(t, n, routerOptions{})

			// Act
			rec := do(router, http.MethodPost, "/anp/message", wireMessage(t))

			// Assert
			require.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.wantBody, body["status"])
			_, hasThread := body["thread_id"]
			assert.Equal(t, tt.wantThread, hasThread)
			assert.NotContains(t, body, "outcome")
			assert.Len(t, n.received, 1)
		})
	}
}

func TestReceiveMessage_PeerIntroReturnsKnownPeers(t *testing.T) {
	// Arrange
	n := newFakeNode()
	n.receipt = node.Receipt{Verdict: node.VerdictReceived, KnownPeers: []string{bob.String()}}
	router := newTestRouter(t, n, routerOptions{})

	// Act
	rec := do(router, http.MethodPost, "/anp/message", wireMessage(t))

	// Assert
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []interface{}{bob.String()}, decodeBody(t, rec)["known_peers"])
}

func TestReceiveMessage_Malformed(t *testing.T) {
	// Arrange
	n := newFakeNode()
	router := newTestRouter(t, n, routerOptions{})

	// Act
	rec := do(router, http.MethodPost, "/anp/message", `{"type":"thread_message"}`)

	// Assert
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, n.received)
}

func TestReceiveMessage_RateLimited(t *testing.T) {
	// Arrange
	n := newFakeNode()
	n.receipt = node.Receipt{Verdict: node.VerdictReceived}
	router := newTestRouter(t, n, routerOptions{limiter: auth.NewIPRateLimiter(2, time.Minute)})
	msg := wireMessage(t)

	// Act
	first := do(router, http.MethodPost, "/anp/message", msg)
	second := do(router, http.MethodPost, "/anp/message", msg)
	third := do(router, http.MethodPost, "/anp/message", msg)
	otherIP := do(router, http.MethodPost, "/anp/message", msg, "X-Real-IP", "203.0.113.9")

	// Assert
	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, http.StatusAccepted, otherIP.Code)
}

func TestReceiveMessage_BusyMapsToError(t *testing.T) {
	// Arrange
	n := newFakeNode()
	n.receiveErr = apperrors.NewBusyError("t-1")
	router := newTestRouter(t, n, routerOptions{})

	// Act
	rec := do(router, http.MethodPost, "/anp/message", wireMessage(t))

	// Assert
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	body := decodeBody(t, rec)
	assert.Equal(t, string(apperrors.ErrorTypeBusy), body["type"])
	assert.Equal(t, true, body["retryable"])
}

func TestIdentityDocument(t *testing.T) {
	// Arrange
	router := newTestRouter(t, newFakeNode(), routerOptions{})

	// Act
	rec := do(router, http.MethodGet, "/.well-known/did.json", "")

	// Assert
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice.String(), decodeBody(t, rec)["did"])
}

func TestControlSurface_OwnerAuth(t *testing.T) {
	// Arrange
	tokens, err := auth.NewOwnerTokens("test-secret", "esence", alice.String())
	require.NoError(t, err)
	other, err := auth.NewOwnerTokens("test-secret", "esence", bob.String())
	require.NoError(t, err)
	good, err := tokens.Issue(time.Hour)
	require.NoError(t, err)
	foreign, err := other.Issue(time.Hour)
	require.NoError(t, err)
	router := newTestRouter(t, newFakeNode(), routerOptions{tokens: tokens, opts: Options{AuthRequired: true}})

	// Act
	missing := do(router, http.MethodGet, "/api/state", "")
	wrongNode := do(router, http.MethodGet, "/api/state", "", "Authorization", "Bearer "+foreign)
	ok := do(router, http.MethodGet, "/api/state", "", "Authorization", "Bearer "+good)
	probe := do(router, http.MethodGet, "/health", "")

	// Assert
	assert.Equal(t, http.StatusUnauthorized, missing.Code)
	assert.Equal(t, http.StatusUnauthorized, wrongNode.Code)
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, http.StatusOK, probe.Code)
}

func TestControlSurface_OpenWhenAuthNotRequired(t *testing.T) {
	// Arrange
	router := newTestRouter(t, newFakeNode(), routerOptions{})

	// Act
	rec := do(router, http.MethodGet, "/api/state", "")

	// Assert
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, node.StatusOnline, body["data"].(map[string]interface{})["status"])
}

func TestSetMood(t *testing.T) {
	// Arrange
	n := newFakeNode()
	router := newTestRouter(t, n, routerOptions{})

	// Act
	invalid := do(router, http.MethodPost, "/api/mood", `{"mood":"sleepy"}`)
	unknownField := do(router, http.MethodPost, "/api/mood", `{"mood":"dnd","extra":1}`)
	valid := do(router, http.MethodPost, "/api/mood", `{"mood":"dnd"}`)

	// Assert
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
	assert.Equal(t, string(apperrors.ErrorTypeValidation), decodeBody(t, invalid)["type"])
	assert.Equal(t, http.StatusBadRequest, unknownField.Code)
	assert.Equal(t, http.StatusOK, valid.Code)
	assert.Equal(t, valueobjects.MoodDND, n.settings.Mood)
}

func TestApprove_EmptyBodyAndEditedReply(t *testing.T) {
	// Arrange
	n := newFakeNode()
	router := newTestRouter(t, n, routerOptions{})
	id := valueobjects.NewThreadID().String()

	// Act
	plain := do(router, http.MethodPost, "/api/threads/"+id+"/approve", "")
	edited := do(router, http.MethodPost, "/api/threads/"+id+"/approve", `{"edited_reply":"Sure, Tuesday works."}`)
	malformed := do(router, http.MethodPost, "/api/threads/not-a-thread/approve", "")

	// Assert
	assert.Equal(t, http.StatusOK, plain.Code)
	assert.Equal(t, http.StatusOK, edited.Code)
	assert.Equal(t, http.StatusBadRequest, malformed.Code)
	assert.Equal(t, []string{id + "|", id + "|Sure, Tuesday works."}, n.approved)
}

func TestGetThread_NotFound(t *testing.T) {
	// Arrange
	router := newTestRouter(t, newFakeNode(), routerOptions{})

	// Act
	rec := do(router, http.MethodGet, "/api/threads/"+valueobjects.NewThreadID().String(), "")

	// Assert
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPeerRoutes_KeepEncodedPort(t *testing.T) {
	// Arrange
	n := newFakeNode()
	router := newTestRouter(t, n, routerOptions{})

	// Act
	patched := do(router, http.MethodPatch, "/api/peers/"+bob.String(), `{"trust_score":0.8}`)
	blocked := do(router, http.MethodPost, "/api/peers/"+bob.String()+"/block", "")
	unblocked := do(router, http.MethodPost, "/api/peers/"+bob.String()+"/block", `{"blocked":false}`)

	// Assert
	require.Equal(t, http.StatusOK, patched.Code)
	require.Len(t, n.updated, 1)
	assert.Equal(t, bob, n.updated[0])
	assert.Equal(t, http.StatusOK, blocked.Code)
	assert.Equal(t, http.StatusOK, unblocked.Code)
	assert.False(t, n.blocked[bob.String()])
}

func TestSend_Created(t *testing.T) {
	// Arrange
	router := newTestRouter(t, newFakeNode(), routerOptions{})

	// Act
	rec := do(router, http.MethodPost, "/api/send", `{"to_did":"`+bob.String()+`","subject":"lunch","content":"Free on Friday?"}`)

	// Assert
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	// Arrange
	router := newTestRouter(t, newFakeNode(), routerOptions{})
	do(router, http.MethodGet, "/health", "")

	// Act
	rec := do(router, http.MethodGet, "/metrics", "")

	// Assert
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "esence_test_http_requests_total")
}
