package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type gatewayFixture struct {
	hub    *Hub
	tokens *Tokens
	srv    *httptest.Server
}

func newGatewayFixture(t *testing.T, handle func(context.Context, *Session, []byte) any) *gatewayFixture {
	t.Helper()

	if handle == nil {
		handle = func(context.Context, *Session, []byte) any { return nil }
	}

	f := &gatewayFixture{
		hub:    NewHub(testLogger(), nil),
		tokens: NewTokens(),
	}
	cfg := GatewayConfig{
		Tokens: f.tokens,
		Hub:    f.hub,
		Hello: func() any {
			return map[string]any{"ok": true, "type": "hello"}
		},
		Handle: handle,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /gateway/{token}", GatewayHandler(cfg))
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *gatewayFixture) gatewayURL(token string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/gateway/" + token
}

// dial connects a client, consuming the hello frame. The returned id
// is both the consumed token and the server-side session id.
func (f *gatewayFixture) dial(t *testing.T, data TokenData) (*websocket.Conn, uuid.UUID) {
	t.Helper()

	id := f.tokens.Obtain(data)
	conn, resp, err := websocket.DefaultDialer.Dial(f.gatewayURL(id.String()), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	hello := readFrame(t, conn)
	require.Equal(t, "hello", hello["type"])
	return conn, id
}

// readFrame reads the next text frame, skipping keepalives.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame map[string]any
		require.NoError(t, json.Unmarshal(raw, &frame))
		if frame["type"] == "keepalive" {
			continue
		}
		return frame
	}
}

// requireNoFrame asserts nothing but keepalives arrive for a short
// window. The connection is unusable for reads afterwards.
func requireNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if json.Unmarshal(raw, &frame) == nil && frame["type"] == "keepalive" {
			continue
		}
		t.Fatalf("unexpected frame: %s", raw)
	}
}

func TestGatewayTokenOneShot(t *testing.T) {
	f := newGatewayFixture(t, nil)

	_, id := f.dial(t, TokenData{Address: "guest"})
	assert.Equal(t, 1, f.hub.Count())

	// The token was consumed by the first connection.
	_, resp, err := websocket.DefaultDialer.Dial(f.gatewayURL(id.String()), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, f.hub.Count())
}

func TestGatewayRejectsGarbageToken(t *testing.T) {
	f := newGatewayFixture(t, nil)

	resp, err := http.Get(f.srv.URL + "/gateway/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "token_not_found", body["error"])
}

func TestGatewayDispatch(t *testing.T) {
	var handled atomic.Int64
	f := newGatewayFixture(t, func(_ context.Context, _ *Session, raw []byte) any {
		handled.Add(1)
		return map[string]any{"ok": true, "type": "response", "echo": string(raw)}
	})
	conn, _ := f.dial(t, TokenData{Address: "guest"})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"work"}`)))
	frame := readFrame(t, conn)
	assert.Equal(t, "response", frame["type"])
	assert.Equal(t, `{"type":"work"}`, frame["echo"])
	assert.Equal(t, int64(1), handled.Load())
}

func TestGatewayMessageTooLong(t *testing.T) {
	var handled atomic.Int64
	f := newGatewayFixture(t, func(_ context.Context, _ *Session, _ []byte) any {
		handled.Add(1)
		return map[string]any{"ok": true, "type": "response"}
	})
	conn, _ := f.dial(t, TokenData{Address: "guest"})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("a", 513))))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "message_too_long", frame["error"])
	assert.Equal(t, int64(0), handled.Load(), "oversized frames must not reach dispatch")

	// Exactly at the limit is dispatched.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("a", 512))))
	frame = readFrame(t, conn)
	assert.Equal(t, "response", frame["type"])
	assert.Equal(t, int64(1), handled.Load())
}

func TestGatewayIgnoresBinary(t *testing.T) {
	var handled atomic.Int64
	f := newGatewayFixture(t, func(_ context.Context, _ *Session, _ []byte) any {
		handled.Add(1)
		return map[string]any{"ok": true, "type": "response"}
	})
	conn, _ := f.dial(t, TokenData{Address: "guest"})

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xde, 0xad}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{}`)))

	frame := readFrame(t, conn)
	assert.Equal(t, "response", frame["type"])
	assert.Equal(t, int64(1), handled.Load())
}

func TestGatewayPongRefreshesLiveness(t *testing.T) {
	f := newGatewayFixture(t, nil)
	conn, id := f.dial(t, TokenData{Address: "guest"})

	sess, ok := f.hub.Get(id)
	require.True(t, ok)
	before := sess.LastPong()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second)))

	require.Eventually(t, func() bool {
		return sess.LastPong().After(before)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastEventFiltering(t *testing.T) {
	f := newGatewayFixture(t, nil)

	connA, _ := f.dial(t, TokenData{Address: "kaddress01"})
	connGuest, _ := f.dial(t, TokenData{Address: "guest"})

	event := Event{
		Kind:    EventTransaction,
		From:    "kaddress01",
		To:      "kother1234",
		Payload: map[string]any{"id": 1},
	}

	// Default subscriptions: the addressed session matches through
	// ownTransactions, the guest does not.
	n := f.hub.BroadcastEvent(event)
	assert.Equal(t, 1, n)

	frame := readFrame(t, connA)
	assert.Equal(t, "event", frame["type"])
	assert.Equal(t, "transaction", frame["event"])
	payload, ok := frame["transaction"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), payload["id"])

	// A guest subscribed to the firehose receives everything.
	connFirehose, idFirehose := f.dial(t, TokenData{Address: "guest"})
	sess, ok := f.hub.Get(idFirehose)
	require.True(t, ok)
	sess.Subscribe(SubTransactions)

	n = f.hub.BroadcastEvent(event)
	assert.Equal(t, 2, n)
	assert.Equal(t, "event", readFrame(t, connA)["type"])
	assert.Equal(t, "event", readFrame(t, connFirehose)["type"])

	// Last read on this connection: asserts the default-subscribed
	// guest saw neither broadcast.
	requireNoFrame(t, connGuest)
}

func TestBroadcastToAll(t *testing.T) {
	f := newGatewayFixture(t, nil)

	connA, _ := f.dial(t, TokenData{Address: "kaddress01"})
	connB, _ := f.dial(t, TokenData{Address: "guest"})

	n := f.hub.Broadcast([]byte(`{"type":"announcement","text":"hi"}`))
	assert.Equal(t, 2, n)
	assert.Equal(t, "announcement", readFrame(t, connA)["type"])
	assert.Equal(t, "announcement", readFrame(t, connB)["type"])
}

func TestBroadcastCleansUpDeadSessions(t *testing.T) {
	hub := NewHub(testLogger(), nil)

	serverConn, _ := rawConnPair(t)
	sess := NewSession(uuid.New(), serverConn, TokenData{Address: "kaddress01"})
	hub.Insert(sess)
	require.Equal(t, 1, hub.Count())

	// Kill the socket out from under the hub; the next send must fail
	// and evict the session.
	serverConn.Close()

	n := hub.BroadcastEvent(Event{Kind: EventTransaction, From: "kaddress01", To: "kother1234"})
	assert.Equal(t, 1, n, "the dead session still matched the filter")
	assert.Equal(t, 0, hub.Count())
}

func TestCleanupIdempotent(t *testing.T) {
	f := newGatewayFixture(t, nil)
	_, id := f.dial(t, TokenData{Address: "guest"})
	require.Equal(t, 1, f.hub.Count())

	f.hub.Cleanup(id)
	f.hub.Cleanup(id)
	assert.Equal(t, 0, f.hub.Count())

	f.hub.Cleanup(uuid.New())
	assert.Equal(t, 0, f.hub.Count())
}

// rawConnPair upgrades one connection without attaching any loops, so
// tests can drive the server half directly.
func rawConnPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()

	upgraded := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		upgraded <- c
	}))
	t.Cleanup(srv.Close)

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-upgraded:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upgrade")
	}
	t.Cleanup(func() { server.Close() })
	return server, client
}
