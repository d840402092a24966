package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
)

const (
	// HeartbeatInterval is how often the server pings each session.
	HeartbeatInterval = 5 * time.Second
	// ClientTimeout is how long a session may go without answering a
	// ping before it is dropped.
	ClientTimeout = 10 * time.Second
	// MaxMessageChars is the per-frame character limit for inbound text.
	MaxMessageChars = 512

	maxFrameBytes = 64 * 1024
)

// GatewayConfig wires the upgrade handler to its collaborators. Hello
// builds the frame sent on accept; Handle processes one inbound text
// frame and returns the reply frame, or nil for no reply.
type GatewayConfig struct {
	Tokens *Tokens
	Hub    *Hub

	Hello  func() any
	Handle func(ctx context.Context, sess *Session, raw []byte) any
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway URL embeds a freshly issued one-shot token, which is
	// the cross-origin protection here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// GatewayHandler upgrades gateway requests. The {token} path segment
// must name an unused token; it is consumed before the upgrade, so a
// token works for exactly one connection attempt.
func GatewayHandler(cfg GatewayConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("token"))
		if err != nil {
			rejectUpgrade(w, kerr.ErrTokenNotFound)
			return
		}
		data, err := cfg.Tokens.Use(id)
		if err != nil {
			rejectUpgrade(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied with an HTTP error.
			cfg.Hub.logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		sess := NewSession(id, conn, data)
		cfg.Hub.Insert(sess)

		if err := sess.WriteJSON(cfg.Hello()); err != nil {
			cfg.Hub.Cleanup(sess.ID)
			return
		}

		go heartbeatLoop(cfg, sess)
		go readLoop(cfg, sess)
	})
}

// rejectUpgrade answers a failed hand-off with the legacy error
// envelope before any upgrade happens.
func rejectUpgrade(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kerr.HTTPStatus(err))
	json.NewEncoder(w).Encode(map[string]any{
		"ok":      false,
		"error":   string(kerr.KindOf(err)),
		"message": kerr.MessageOf(err),
	})
}

// heartbeatLoop pings the session every HeartbeatInterval and drops it
// when the peer stops answering. A dead peer is never given a close
// handshake, which can block; the socket is just torn down.
func heartbeatLoop(cfg GatewayConfig, sess *Session) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		if sess.IsClosed() {
			return
		}
		if time.Since(sess.LastPong()) > ClientTimeout {
			cfg.Hub.logger.Info("websocket session timed out", "session", sess.ID)
			cfg.Hub.Cleanup(sess.ID)
			return
		}
		if err := sess.ping(); err != nil {
			cfg.Hub.Cleanup(sess.ID)
			return
		}
		// The ping above succeeded, so a failed keepalive text is only
		// logged.
		keepalive := map[string]any{
			"type":        "keepalive",
			"server_time": krist.ISOTime(time.Now()),
		}
		if err := sess.WriteJSON(keepalive); err != nil {
			cfg.Hub.logger.Debug("keepalive send failed", "session", sess.ID)
		}
	}
}

// readLoop pumps inbound frames. Protocol pings are answered and close
// frames echoed by the connection's default handlers; pongs refresh
// the session's liveness clock. Oversized text gets an error frame,
// binary frames are ignored, and everything else goes to Handle.
func readLoop(cfg GatewayConfig, sess *Session) {
	defer cfg.Hub.Cleanup(sess.ID)

	conn := sess.conn
	conn.SetReadLimit(maxFrameBytes)
	conn.SetPongHandler(func(string) error {
		sess.TouchPong()
		return nil
	})

	ctx := context.Background()
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if utf8.RuneCount(raw) > MaxMessageChars {
			frame := ErrorFrame(nil, "message_too_long", "Message larger than 512 characters")
			if err := sess.WriteJSON(frame); err != nil {
				return
			}
			continue
		}
		if reply := cfg.Handle(ctx, sess, raw); reply != nil {
			if err := sess.WriteJSON(reply); err != nil {
				return
			}
		}
	}
}

// ErrorFrame builds a protocol error frame, echoing the client's
// message id when present.
func ErrorFrame(id *int64, code, message string) map[string]any {
	frame := map[string]any{
		"ok":      false,
		"type":    "error",
		"error":   code,
		"message": message,
	}
	if id != nil {
		frame["id"] = *id
	}
	return frame
}
