package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"esence/application/commands"
	"esence/application/commands/bus"
	"esence/application/node"
	"esence/application/queries"
	querybus "esence/application/queries/bus"
	"esence/domain/core/valueobjects"
	"esence/domain/events"
	"esence/infrastructure/messaging"

	apperrors "esence/pkg/errors"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const aliceDID = "did:wba:localhost%3A7777:alice"

type fakeGauge struct {
	mu   sync.Mutex
	last int
}

func (g *fakeGauge) SetWSClients(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = n
}

func (g *fakeGauge) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// newTestBuses registers just enough handlers to exercise the dispatcher
func newTestBuses(t *testing.T) (*bus.CommandBus, *querybus.QueryBus) {
	t.Helper()
	cb := bus.NewCommandBus()
	qb := querybus.NewQueryBus()

	require.NoError(t, cb.Register(commands.SetMoodCommand{}, bus.Handler(
		func(_ context.Context, cmd commands.SetMoodCommand) (interface{}, error) {
			return map[string]string{"mood": cmd.Mood}, nil
		})))
	require.NoError(t, cb.Register(commands.RejectThreadCommand{}, bus.Handler(
		func(_ context.Context, cmd commands.RejectThreadCommand) (interface{}, error) {
			return nil, apperrors.NewNotFoundError("thread")
		})))
	require.NoError(t, qb.Register(queries.GetStateQuery{}, querybus.Handler(
		func(_ context.Context, _ queries.GetStateQuery) (interface{}, error) {
			return node.State{Status: node.StatusOnline, DID: aliceDID}, nil
		})))
	return cb, qb
}

type testServer struct {
	hub    *Hub
	broker *messaging.Broker
	gauge  *fakeGauge
	http   *httptest.Server
	cancel context.CancelFunc
	done   chan error
}

func newTestServer(t *testing.T, config ServerConfig) *testServer {
	t.Helper()
	logger := zap.NewNop()
	cb, qb := newTestBuses(t)

	gauge := &fakeGauge{}
	hub := NewHub(gauge, logger)
	broker := messaging.NewBroker(logger)
	server := NewServer(hub, NewBusDispatcher(cb, qb, logger), broker, config, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()
	require.Eventually(t, func() bool { return broker.Len() == 1 }, time.Second, 5*time.Millisecond)

	ts := &testServer{
		hub:    hub,
		broker: broker,
		gauge:  gauge,
		http:   httptest.NewServer(server),
		cancel: cancel,
		done:   done,
	}
	t.Cleanup(func() {
		ts.http.Close()
		cancel()
		<-done
	})
	return ts
}

func (ts *testServer) dial(t *testing.T, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.http.URL, "http"), header)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil skips frames of other types, such as heartbeats
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) Frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		if f := readFrame(t, conn); f.Type == frameType {
			return f
		}
	}
	t.Fatalf("no %s frame received", frameType)
	return Frame{}
}

func TestServer_SendsStateOnConnect(t *testing.T) {
	// Arrange
	ts := newTestServer(t, DefaultServerConfig())

	// Act
	conn, _, err := ts.dial(t, nil)
	require.NoError(t, err)
	defer conn.Close()
	first := readFrame(t, conn)

	// Assert
	assert.Equal(t, FrameState, first.Type)
	var state node.State
	require.NoError(t, json.Unmarshal(first.Data, &state))
	assert.Equal(t, aliceDID, state.DID)
	assert.Equal(t, node.StatusOnline, state.Status)
	assert.Eventually(t, func() bool { return ts.gauge.value() == 1 }, time.Second, 5*time.Millisecond)
}

func TestServer_RelaysDomainEvents(t *testing.T) {
	// Arrange
	ts := newTestServer(t, DefaultServerConfig())
	conn, _, err := ts.dial(t, nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn)
	require.Eventually(t, func() bool { return ts.hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Act
	ts.broker.Publish(events.NewMoodChanged(aliceDID, valueobjects.MoodDND, now))
	f := readUntil(t, conn, events.TypeMoodChanged)

	// Assert
	assert.Equal(t, now.Unix(), f.Timestamp)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, "dnd", payload["mood"])
}

func TestServer_Commands(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantType  string
		wantError apperrors.ErrorType
	}{
		{
			name:     "ping answers pong",
			frame:    `{"type":"ping","request_id":"r1"}`,
			wantType: FramePong,
		},
		{
			name:     "set mood",
			frame:    `{"type":"set_mood","request_id":"r1","data":{"mood":"absent"}}`,
			wantType: "set_mood.result",
		},
		{
			name:      "invalid mood",
			frame:     `{"type":"set_mood","request_id":"r1","data":{"mood":"sleepy"}}`,
			wantType:  FrameError,
			wantError: apperrors.ErrorTypeValidation,
		},
		{
			name:      "unknown field",
			frame:     `{"type":"set_mood","request_id":"r1","data":{"mood":"absent","extra":1}}`,
			wantType:  FrameError,
			wantError: apperrors.ErrorTypeValidation,
		},
		{
			name:      "handler error keeps its type",
			frame:     `{"type":"reject","request_id":"r1","data":{"thread_id":"0b7c5f0e-8f0e-4b8e-9d50-6a1d1b1f2c3d"}}`,
			wantType:  FrameError,
			wantError: apperrors.ErrorTypeNotFound,
		},
		{
			name:      "unknown command",
			frame:     `{"type":"reboot","request_id":"r1"}`,
			wantType:  FrameError,
			wantError: apperrors.ErrorTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			ts := newTestServer(t, DefaultServerConfig())
			conn, _, err := ts.dial(t, nil)
			require.NoError(t, err)
			defer conn.Close()
			readFrame(t, conn)

			// Act
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			f := readUntil(t, conn, tt.wantType)

			// Assert
			assert.Equal(t, "r1", f.RequestID)
			if tt.wantError != "" {
				var data ErrorData
				require.NoError(t, json.Unmarshal(f.Data, &data))
				assert.Equal(t, string(tt.wantError), data.Type)
			}
		})
	}
}

func TestServer_MalformedFrame(t *testing.T) {
	// Arrange
	ts := newTestServer(t, DefaultServerConfig())
	conn, _, err := ts.dial(t, nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn)

	// Act
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := readUntil(t, conn, FrameError)

	// Assert
	assert.Empty(t, f.RequestID)
}

func TestServer_RejectsForeignOrigin(t *testing.T) {
	// Arrange
	ts := newTestServer(t, DefaultServerConfig())
	header := http.Header{}
	header.Set("Origin", "https://evil.example")

	// Act
	conn, resp, err := ts.dial(t, header)

	// Assert
	require.Error(t, err)
	assert.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_ConnectionLimit(t *testing.T) {
	// Arrange
	config := DefaultServerConfig()
	config.MaxConnections = 1
	ts := newTestServer(t, config)
	first, _, err := ts.dial(t, nil)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return ts.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	// Act
	_, resp, err := ts.dial(t, nil)

	// Assert
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServer_ClientDisconnectUnregisters(t *testing.T) {
	// Arrange
	ts := newTestServer(t, DefaultServerConfig())
	conn, _, err := ts.dial(t, nil)
	require.NoError(t, err)
	readFrame(t, conn)
	require.Eventually(t, func() bool { return ts.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	// Act
	require.NoError(t, conn.Close())

	// Assert
	assert.Eventually(t, func() bool { return ts.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return ts.gauge.value() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFromEvent_HeartbeatCarriesState(t *testing.T) {
	// Arrange
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hb := events.NewHeartbeat(aliceDID, node.State{Status: node.StatusOnline, PendingCount: 2}, now)

	// Act
	f, err := FromEvent(hb)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, events.TypeHeartbeat, f.Type)
	var state node.State
	require.NoError(t, json.Unmarshal(f.Data, &state))
	assert.Equal(t, 2, state.PendingCount)
	assert.Equal(t, now.Unix(), f.Timestamp)
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		pattern string
		origin  string
		want    bool
	}{
		{"http://localhost:*", "http://localhost:5173", true},
		{"http://localhost:*", "http://LOCALHOST:8080", true},
		{"http://localhost:*", "http://localhost.evil.example", false},
		{"http://127.0.0.1:*", "http://localhost:5173", false},
		{"https://app.example", "https://app.example", true},
		{"https://app.example", "https://app.example.org", false},
		{"*", "https://anything.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, matchOrigin(tt.pattern, tt.origin))
		})
	}
}
