package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/events"
	"github.com/brojonat/kromer/service/metrics"
	"github.com/brojonat/kromer/service/ws"
)

// Broadcaster fans ledger activity out to websocket sessions and, when
// a relay is configured, to the NATS event stream. Delivery is best
// effort on both paths: the write that produced the event has already
// committed, so failures here are logged and swallowed.
type Broadcaster struct {
	hub     *ws.Hub
	relay   events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBroadcaster wires a broadcaster. relay and m may be nil.
func NewBroadcaster(hub *ws.Hub, relay events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{hub: hub, relay: relay, metrics: m, logger: logger}
}

// Transaction announces a committed ledger row.
func (b *Broadcaster) Transaction(ctx context.Context, txn *db.Transaction) {
	view := toKristTransaction(txn)
	e := ws.Event{Kind: ws.EventTransaction, To: txn.To, Payload: view}
	if txn.From != nil {
		e.From = *txn.From
	}
	b.hub.BroadcastEvent(e)
	b.publish(ctx, events.KindTransaction, view)
}

// Name announces a name registration, transfer, or data update.
func (b *Broadcaster) Name(ctx context.Context, n *db.Name) {
	view := toKristName(n)
	e := ws.Event{Kind: ws.EventName, Owner: n.Owner, Payload: view}
	b.hub.BroadcastEvent(e)
	b.publish(ctx, events.KindName, view)
}

func (b *Broadcaster) publish(ctx context.Context, kind string, payload any) {
	if b.relay == nil {
		return
	}
	start := time.Now()
	err := b.relay.PublishEvent(ctx, events.NewEvent(kind, payload))
	if b.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		b.metrics.RecordNATSPublish(events.SubjectFor(kind), status, time.Since(start).Seconds())
	}
	if err != nil {
		b.logger.Error("failed to relay event", "error", err, "kind", kind)
	}
}
