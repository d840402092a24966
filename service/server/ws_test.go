package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/kromer/service/krist"
	"github.com/brojonat/kromer/service/ws"
)

func TestWsStart(t *testing.T) {
	ts := setupTestStore(t)
	tokens := ws.NewTokens()
	handler := handleWsStart(testConfig(), ts.Store, tokens, nil, testLogger())

	address := seedWallet(t, ts, "ws-start-key", "10")

	start := func(body string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/krist/ws/start", strings.NewReader(body))
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	const urlPrefix = "ws://kromer.test/api/krist/ws/gateway/"

	useToken := func(t *testing.T, w *httptest.ResponseRecorder) ws.TokenData {
		t.Helper()
		url := decodeMap(t, w)["url"].(string)
		require.True(t, strings.HasPrefix(url, urlPrefix), url)
		id, err := uuid.Parse(strings.TrimPrefix(url, urlPrefix))
		require.NoError(t, err)
		data, err := tokens.Use(id)
		require.NoError(t, err)
		return data
	}

	t.Run("guest start with an empty body", func(t *testing.T) {
		w := start("", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, float64(30), decodeMap(t, w)["expires"])

		data := useToken(t, w)
		assert.Equal(t, krist.GuestAddress, data.Address)
		assert.Empty(t, data.PrivateKey)
		assert.Nil(t, data.ComputerID)
	})

	t.Run("authenticated start keeps the key for the session", func(t *testing.T) {
		w := start(`{"privatekey": "ws-start-key"}`, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		data := useToken(t, w)
		assert.Equal(t, address, data.Address)
		assert.Equal(t, "ws-start-key", data.PrivateKey)
	})

	t.Run("tokens are one-shot", func(t *testing.T) {
		w := start("", nil)
		require.Equal(t, http.StatusOK, w.Code)
		url := decodeMap(t, w)["url"].(string)
		id, err := uuid.Parse(strings.TrimPrefix(url, urlPrefix))
		require.NoError(t, err)

		_, err = tokens.Use(id)
		require.NoError(t, err)
		_, err = tokens.Use(id)
		assert.Error(t, err)
	})

	t.Run("unknown key", func(t *testing.T) {
		w := start(`{"privatekey": "nobody-home"}`, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "auth_failed", decodeMap(t, w)["error"])
	})

	t.Run("records the computer id", func(t *testing.T) {
		w := start("", map[string]string{"X-CC-ID": "7"})
		require.Equal(t, http.StatusOK, w.Code)
		data := useToken(t, w)
		require.NotNil(t, data.ComputerID)
		assert.Equal(t, int32(7), *data.ComputerID)
	})

	t.Run("ignores a garbage computer id", func(t *testing.T) {
		w := start("", map[string]string{"X-CC-ID": "lua"})
		require.Equal(t, http.StatusOK, w.Code)
		data := useToken(t, w)
		assert.Nil(t, data.ComputerID)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := start(`{"privatekey": `, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_parameter", decodeMap(t, w)["error"])
	})
}

func TestHelloPayload(t *testing.T) {
	payload := helloPayload(testConfig())()

	b, err := json.Marshal(payload)
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(b, &frame))

	assert.Equal(t, true, frame["ok"])
	assert.Equal(t, "hello", frame["type"])
	assert.Equal(t, false, frame["mining_enabled"])
	assert.Equal(t, "Kromer", frame["package"].(map[string]any)["name"])
	assert.Equal(t, "KRO", frame["currency"].(map[string]any)["currency_symbol"])
}

func TestDispatcher(t *testing.T) {
	ts := setupTestStore(t)
	bc, signals := testDeps(testLogger())
	d := newDispatcher(ts.Store, bc, signals, nil, testLogger())
	ctx := context.Background()

	sender := seedWallet(t, ts, "ws-sender-key", "100")
	ts.FundWallet(t, "krecvsock1", "0")

	guest := func() *ws.Session {
		return ws.NewSession(uuid.New(), nil, ws.TokenData{Address: krist.GuestAddress})
	}

	// frame runs one message through the dispatcher and returns the
	// reply as it would appear on the wire.
	frame := func(t *testing.T, sess *ws.Session, raw string) map[string]any {
		t.Helper()
		reply := d.Handle(ctx, sess, []byte(raw))
		require.NotNil(t, reply)
		b, err := json.Marshal(reply)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(b, &m))
		return m
	}

	t.Run("rejects invalid json", func(t *testing.T) {
		m := frame(t, guest(), `{nope`)
		assert.Equal(t, false, m["ok"])
		assert.Equal(t, "error", m["type"])
		assert.Equal(t, "syntax_error", m["error"])
	})

	t.Run("requires a type", func(t *testing.T) {
		m := frame(t, guest(), `{"id": 7}`)
		assert.Equal(t, "missing_parameter", m["error"])
		assert.Equal(t, float64(7), m["id"])
	})

	t.Run("unknown type", func(t *testing.T) {
		m := frame(t, guest(), `{"type": "warp_drive"}`)
		assert.Equal(t, "unknown_type", m["error"])
	})

	t.Run("echoes the message id on responses", func(t *testing.T) {
		m := frame(t, guest(), `{"id": 42, "type": "work"}`)
		assert.Equal(t, true, m["ok"])
		assert.Equal(t, "response", m["type"])
		assert.Equal(t, "work", m["responding_to"])
		assert.Equal(t, float64(42), m["id"])
		assert.Equal(t, float64(krist.MaxWork), m["work"])
	})

	t.Run("mining is disabled", func(t *testing.T) {
		m := frame(t, guest(), `{"type": "submit_block"}`)
		assert.Equal(t, "mining_disabled", m["error"])
	})

	t.Run("subscription levels", func(t *testing.T) {
		sess := guest()

		m := frame(t, sess, `{"type": "get_subscription_level"}`)
		assert.Equal(t, []any{"blocks", "ownTransactions"}, m["subscription_level"])

		m = frame(t, sess, `{"type": "subscribe", "event": "names"}`)
		assert.Equal(t, []any{"blocks", "ownTransactions", "names"}, m["subscription_level"])

		m = frame(t, sess, `{"type": "unsubscribe", "event": "blocks"}`)
		assert.Equal(t, []any{"ownTransactions", "names"}, m["subscription_level"])

		m = frame(t, sess, `{"type": "subscribe", "event": "everything"}`)
		assert.Equal(t, "invalid_parameter", m["error"])

		m = frame(t, sess, `{"type": "get_valid_subscription_levels"}`)
		assert.Len(t, m["valid_subscription_levels"], 7)
	})

	t.Run("login and logout", func(t *testing.T) {
		sess := guest()

		m := frame(t, sess, `{"type": "login", "privatekey": "ws-sender-key"}`)
		assert.Equal(t, true, m["ok"])
		assert.Equal(t, false, m["is_guest"])
		assert.Equal(t, sender, m["address"].(map[string]any)["address"])
		assert.False(t, sess.IsGuest())
		assert.Equal(t, sender, sess.Address())

		m = frame(t, sess, `{"type": "me"}`)
		assert.Equal(t, false, m["is_guest"])
		assert.Equal(t, sender, m["address"].(map[string]any)["address"])

		m = frame(t, sess, `{"type": "logout"}`)
		assert.Equal(t, true, m["is_guest"])
		assert.True(t, sess.IsGuest())
		assert.Empty(t, sess.PrivateKey())
	})

	t.Run("login with a bad key stays guest", func(t *testing.T) {
		sess := guest()
		m := frame(t, sess, `{"type": "login", "privatekey": "wrong"}`)
		assert.Equal(t, true, m["ok"])
		assert.Equal(t, true, m["is_guest"])
		assert.True(t, sess.IsGuest())
	})

	t.Run("me as guest", func(t *testing.T) {
		m := frame(t, guest(), `{"type": "me"}`)
		assert.Equal(t, true, m["ok"])
		assert.Equal(t, true, m["is_guest"])
	})

	t.Run("address lookup", func(t *testing.T) {
		m := frame(t, guest(), fmt.Sprintf(`{"type": "address", "address": %q}`, sender))
		assert.Equal(t, sender, m["address"].(map[string]any)["address"])

		m = frame(t, guest(), `{"type": "address"}`)
		assert.Equal(t, "missing_parameter", m["error"])

		m = frame(t, guest(), `{"type": "address", "address": "kwsmissing"}`)
		assert.Equal(t, "address_not_found", m["error"])
	})

	t.Run("make_transaction with a frame key", func(t *testing.T) {
		signals.Drain()
		m := frame(t, guest(), `{"type": "make_transaction", "privatekey": "ws-sender-key", "to": "krecvsock1", "amount": 10, "metadata": "tip"}`)
		require.Equal(t, true, m["ok"], m)

		txn := m["transaction"].(map[string]any)
		assert.Equal(t, sender, txn["from"])
		assert.Equal(t, "krecvsock1", txn["to"])
		assert.Equal(t, 10.0, txn["value"])
		assert.Equal(t, "tip", txn["metadata"])

		rcp, err := ts.GetWallet(ctx, "krecvsock1")
		require.NoError(t, err)
		assert.True(t, rcp.Balance.Equal(decimal.NewFromInt(10)), "recipient balance %s", rcp.Balance)

		select {
		case <-signals.C():
		default:
			t.Error("websocket transfer did not wake the scheduler")
		}
	})

	t.Run("make_transaction with the session key", func(t *testing.T) {
		sess := guest()
		frame(t, sess, `{"type": "login", "privatekey": "ws-sender-key"}`)

		m := frame(t, sess, `{"type": "make_transaction", "to": "krecvsock1", "amount": 5}`)
		require.Equal(t, true, m["ok"], m)
		assert.Equal(t, 5.0, m["transaction"].(map[string]any)["value"])
	})

	t.Run("make_transaction unauthenticated", func(t *testing.T) {
		m := frame(t, guest(), `{"type": "make_transaction", "to": "krecvsock1", "amount": 1}`)
		assert.Equal(t, "auth_failed", m["error"])
	})

	t.Run("make_transaction with insufficient funds", func(t *testing.T) {
		m := frame(t, guest(), `{"type": "make_transaction", "privatekey": "ws-sender-key", "to": "krecvsock1", "amount": 100000}`)
		assert.Equal(t, "insufficient_funds", m["error"])
	})
}
