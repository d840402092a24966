package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
	"github.com/brojonat/kromer/service/metrics"
	"github.com/brojonat/kromer/service/sched"
	"github.com/brojonat/kromer/service/ws"
)

// wsRequest is the inbound websocket message envelope. Only the fields
// the requested type needs are read; the rest stay zero.
type wsRequest struct {
	ID         *int64          `json:"id"`
	Type       string          `json:"type"`
	PrivateKey string          `json:"privatekey"`
	Event      string          `json:"event"`
	To         string          `json:"to"`
	Amount     decimal.Decimal `json:"amount"`
	Metadata   *string         `json:"metadata"`
	Address    string          `json:"address"`
}

// dispatcher routes websocket messages. One instance serves every
// session; per-session state lives on the ws.Session.
type dispatcher struct {
	store   *db.Store
	bc      *Broadcaster
	signals *sched.Notifier
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newDispatcher(store *db.Store, bc *Broadcaster, signals *sched.Notifier, m *metrics.Metrics, logger *slog.Logger) *dispatcher {
	return &dispatcher{store: store, bc: bc, signals: signals, metrics: m, logger: logger}
}

// respond builds a response frame echoing the request id and type.
func respond(req wsRequest, fields map[string]any) map[string]any {
	frame := map[string]any{
		"ok":            true,
		"type":          "response",
		"responding_to": req.Type,
	}
	for k, v := range fields {
		frame[k] = v
	}
	if req.ID != nil {
		frame["id"] = *req.ID
	}
	return frame
}

// Handle processes one inbound text frame and returns the reply, or
// nil for no reply. It is the gateway's Handle callback.
func (d *dispatcher) Handle(ctx context.Context, sess *ws.Session, raw []byte) any {
	var req wsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return ws.ErrorFrame(nil, "syntax_error", "Invalid JSON")
	}
	if req.Type == "" {
		return ws.ErrorFrame(req.ID, "missing_parameter", "Missing parameter type")
	}

	switch req.Type {
	case "login":
		return d.login(ctx, sess, req)
	case "logout":
		sess.Logout()
		return respond(req, map[string]any{"is_guest": true})
	case "subscribe":
		kind, ok := ws.ParseSubscriptionKind(req.Event)
		if !ok {
			return ws.ErrorFrame(req.ID, "invalid_parameter", "Invalid parameter event")
		}
		return respond(req, map[string]any{"subscription_level": sess.Subscribe(kind)})
	case "unsubscribe":
		kind, ok := ws.ParseSubscriptionKind(req.Event)
		if !ok {
			return ws.ErrorFrame(req.ID, "invalid_parameter", "Invalid parameter event")
		}
		return respond(req, map[string]any{"subscription_level": sess.Unsubscribe(kind)})
	case "get_subscription_level":
		return respond(req, map[string]any{"subscription_level": sess.Subscriptions()})
	case "get_valid_subscription_levels":
		return respond(req, map[string]any{"valid_subscription_levels": ws.ValidSubscriptionKinds()})
	case "me":
		return d.me(ctx, sess, req)
	case "address":
		return d.address(ctx, req)
	case "work":
		return respond(req, map[string]any{"work": krist.MaxWork})
	case "submit_block":
		return ws.ErrorFrame(req.ID, "mining_disabled", "Mining is disabled")
	case "make_transaction":
		return d.makeTransaction(ctx, sess, req)
	default:
		return ws.ErrorFrame(req.ID, "unknown_type", "Unknown message type")
	}
}

// login upgrades the session to an authenticated one. Every failure
// mode answers the same guest frame so the reply never reveals whether
// the key was wrong, the wallet missing, or the wallet locked.
func (d *dispatcher) login(ctx context.Context, sess *ws.Session, req wsRequest) any {
	guest := respond(req, map[string]any{"is_guest": true})
	if req.PrivateKey == "" {
		return guest
	}

	wallet, err := authWallet(ctx, d.store, req.PrivateKey)
	if err != nil {
		if kerr.HTTPStatus(err) >= 500 {
			d.logger.Error("failed to look up wallet for websocket login", "error", err)
		}
		return guest
	}

	sess.Login(wallet.Address, req.PrivateKey)
	d.logger.Debug("websocket session authenticated", "address", wallet.Address)
	return respond(req, map[string]any{
		"is_guest": false,
		"address":  toKristAddress(wallet, nil),
	})
}

func (d *dispatcher) me(ctx context.Context, sess *ws.Session, req wsRequest) any {
	if sess.IsGuest() {
		return respond(req, map[string]any{"is_guest": true})
	}
	wallet, err := d.store.GetWallet(ctx, sess.Address())
	if err != nil {
		d.logger.Error("failed to get wallet for me", "error", err, "address", sess.Address())
		return ws.ErrorFrame(req.ID, string(kerr.KindOf(err)), kerr.MessageOf(err))
	}
	return respond(req, map[string]any{
		"is_guest": false,
		"address":  toKristAddress(wallet, nil),
	})
}

func (d *dispatcher) address(ctx context.Context, req wsRequest) any {
	if req.Address == "" {
		return ws.ErrorFrame(req.ID, "missing_parameter", "Missing parameter address")
	}
	wallet, err := d.store.GetWallet(ctx, req.Address)
	if err != nil {
		if !kerr.IsKind(err, kerr.KindWalletNotFound) {
			d.logger.Error("failed to get wallet", "error", err, "address", req.Address)
		}
		return ws.ErrorFrame(req.ID, string(kerr.KindOf(err)), kerr.MessageOf(err))
	}
	return respond(req, map[string]any{"address": toKristAddress(wallet, nil)})
}

// makeTransaction moves funds inside a websocket session. The key can
// ride in the frame or fall back to the one the session logged in with.
func (d *dispatcher) makeTransaction(ctx context.Context, sess *ws.Session, req wsRequest) any {
	key := req.PrivateKey
	if key == "" {
		key = sess.PrivateKey()
	}
	if key == "" {
		return ws.ErrorFrame(req.ID, string(kerr.KindAuthFailed), "Not authenticated")
	}

	txn, err := sendTransaction(ctx, d.store, key, req.To, req.Amount, req.Metadata)
	if d.metrics != nil {
		d.metrics.RecordTransfer(string(db.TransactionTypeTransfer), err)
	}
	if err != nil {
		if kerr.HTTPStatus(err) >= 500 {
			d.logger.Error("failed to make websocket transaction", "error", err)
		}
		return ws.ErrorFrame(req.ID, string(kerr.KindOf(err)), kerr.MessageOf(err))
	}

	d.logger.Info("transaction sent", "id", txn.ID, "to", txn.To, "amount", txn.Amount)
	d.bc.Transaction(ctx, txn)
	d.signals.Notify()
	return respond(req, map[string]any{"transaction": toKristTransaction(txn)})
}
