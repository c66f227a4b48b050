package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/handlers"
	"whiteboard-backend/internal/middleware"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/store"
	"whiteboard-backend/internal/user"
)

type stack struct {
	http   *httptest.Server
	server *Server
	store  *store.Store
}

func newStack(t *testing.T, configure func(*Config)) *stack {
	t.Helper()

	events := store.New(store.NewMemoryBackend(), store.Options{})
	limits := middleware.DefaultRateLimit()
	registry := room.NewRegistry(limits)
	broadcaster := room.NewBroadcaster(registry, nil)
	gateway := handlers.NewGateway(context.Background(), handlers.GatewayConfig{
		Store:        events,
		Registry:     registry,
		Broadcaster:  broadcaster,
		Synchronizer: room.NewSynchronizer(events),
	})

	cfg := Config{
		Limits:      limits,
		IPLimiter:   middleware.NewIPRateLimitWith(time.Millisecond, 100),
		Identities:  user.NewIdentityManager(user.Limits{MessagesPerSecond: 100, BurstSize: 100}),
		Gateway:     gateway,
		Router:      handlers.NewMessageRouter(gateway, registry, broadcaster),
		AuthTimeout: time.Second,
	}
	if configure != nil {
		configure(&cfg)
	}

	server := NewServer(cfg)
	mux := http.NewServeMux()
	mux.Handle("/ws", server)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		ts.Close()
		gateway.Wait()
	})

	return &stack{http: ts, server: server, store: events}
}

func (s *stack) url(query string) string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws" + query
}

func dial(t *testing.T, s *stack, query string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(s.url(query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func next(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

// authenticate runs the handshake and returns the authenticated frame.
func authenticate(t *testing.T, conn *websocket.Conn, token string) map[string]any {
	t.Helper()

	send(t, conn, `{"type":"authenticate","token":"`+token+`"}`)
	msg := next(t, conn)
	require.Equal(t, "authenticated", msg["type"])
	return msg
}

func TestServer_DrawingRoundTrip(t *testing.T) {
	s := newStack(t, nil)

	a := dial(t, s, "?room=b1")
	authA := authenticate(t, a, "")
	assert.Equal(t, "joined", next(t, a)["type"])
	assert.Equal(t, "history", next(t, a)["type"])

	b := dial(t, s, "")
	authenticate(t, b, "")
	send(t, b, `{"type":"join","boardId":"b1"}`)
	assert.Equal(t, "joined", next(t, b)["type"])
	assert.Equal(t, "history", next(t, b)["type"])

	send(t, a, `{"type":"draw-event","kind":"stroke","tool":"pen","color":"#ff0000","brushSize":3,"points":[{"x":0,"y":0},{"x":5,"y":5}],"boardId":"b1"}`)

	ev := next(t, b)
	assert.Equal(t, "draw-event", ev["type"])
	assert.Equal(t, float64(1), ev["sequence"])
	assert.Equal(t, authA["userId"], ev["userId"])

	// a gets no echo, so the next frame it sees is the pong
	send(t, a, `{"type":"ping"}`)
	assert.Equal(t, "pong", next(t, a)["type"])

	assert.Equal(t, 2, s.server.Sessions())
}

func TestServer_ResumeToken(t *testing.T) {
	s := newStack(t, nil)

	first := dial(t, s, "")
	auth := authenticate(t, first, "")
	first.Close()

	second := dial(t, s, "")
	resumed := authenticate(t, second, auth["token"].(string))
	assert.Equal(t, auth["userId"], resumed["userId"])

	third := dial(t, s, "")
	fresh := authenticate(t, third, "not-a-token")
	assert.NotEqual(t, auth["userId"], fresh["userId"])
}

func TestServer_RejectsMissingHandshake(t *testing.T) {
	s := newStack(t, nil)

	conn := dial(t, s, "")
	send(t, conn, `{"type":"join","boardId":"b1"}`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestServer_IPRateLimit(t *testing.T) {
	s := newStack(t, func(cfg *Config) {
		cfg.IPLimiter = middleware.NewIPRateLimitWith(time.Hour, 1)
	})

	dial(t, s, "")

	_, resp, err := websocket.DefaultDialer.Dial(s.url(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServer_CheckOrigin(t *testing.T) {
	s := newStack(t, func(cfg *Config) {
		cfg.Domains = []string{"https://board.example"}
	})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(s.url(""), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://board.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(s.url(""), header)
	require.NoError(t, err)
	conn.Close()
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	s := newStack(t, nil)

	conn := dial(t, s, "?room=b1")
	authenticate(t, conn, "")
	next(t, conn)
	next(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.server.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, s.server.Sessions())
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "192.0.2.7:5123"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.0.2.7", GetClientIP(r))

	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", GetClientIP(r))
}
