package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/events"
	"github.com/brojonat/kromer/service/ws"
)

func TestBroadcasterRelaysTransaction(t *testing.T) {
	logger := testLogger()
	relay := events.NewMockPublisher()
	bc := NewBroadcaster(ws.NewHub(logger, nil), relay, nil, logger)

	from := "kfromaddr1"
	meta := "order=7;ref=shop"
	bc.Transaction(context.Background(), &db.Transaction{
		ID:       42,
		From:     &from,
		To:       "ktoaddr999",
		Amount:   decimal.RequireFromString("12.5"),
		Type:     db.TransactionTypeTransfer,
		Date:     time.Now().UTC(),
		Metadata: &meta,
	})

	require.Equal(t, 1, relay.GetPublishedEventCount())
	published := relay.GetPublishedEventsOfKind(events.KindTransaction)
	require.Len(t, published, 1)

	e := published[0]
	assert.Equal(t, events.KindTransaction, e.Event)
	assert.False(t, e.PublishedAt.IsZero())

	// The relay carries the same wire view websocket subscribers get.
	view, ok := e.Data.(kristTransaction)
	require.True(t, ok, "expected wire view payload, got %T", e.Data)
	assert.Equal(t, int64(42), view.ID)
	require.NotNil(t, view.From)
	assert.Equal(t, "kfromaddr1", *view.From)
	assert.Equal(t, "ktoaddr999", view.To)
	assert.Equal(t, 12.5, view.Value)
	assert.Equal(t, "transfer", view.Type)
	require.NotNil(t, view.Metadata)
	assert.Equal(t, "order=7;ref=shop", *view.Metadata)
}

func TestBroadcasterRelaysName(t *testing.T) {
	logger := testLogger()
	relay := events.NewMockPublisher()
	bc := NewBroadcaster(ws.NewHub(logger, nil), relay, nil, logger)

	registered := time.Now().UTC()
	bc.Name(context.Background(), &db.Name{
		ID:             7,
		Name:           "reactor",
		Owner:          "knameownr1",
		OriginalOwner:  "knameownr1",
		TimeRegistered: registered,
		Unpaid:         decimal.NewFromInt(500),
	})

	published := relay.GetPublishedEventsOfKind(events.KindName)
	require.Len(t, published, 1)
	assert.Empty(t, relay.GetPublishedEventsOfKind(events.KindTransaction))

	view, ok := published[0].Data.(kristName)
	require.True(t, ok, "expected wire view payload, got %T", published[0].Data)
	assert.Equal(t, "reactor", view.Name)
	assert.Equal(t, "knameownr1", view.Owner)
	assert.Equal(t, int64(500), view.Unpaid)
	assert.Nil(t, view.Transferred)
}

func TestBroadcasterRelayOptional(t *testing.T) {
	logger := testLogger()

	t.Run("nil relay is a no-op", func(t *testing.T) {
		bc := NewBroadcaster(ws.NewHub(logger, nil), nil, nil, logger)
		bc.Transaction(context.Background(), &db.Transaction{
			To:     "ktoaddr999",
			Amount: decimal.NewFromInt(1),
			Type:   db.TransactionTypeMined,
			Date:   time.Now().UTC(),
		})
	})

	t.Run("publish failure is swallowed", func(t *testing.T) {
		relay := events.NewMockPublisher()
		relay.SetPublishError(errors.New("nats is down"))
		bc := NewBroadcaster(ws.NewHub(logger, nil), relay, nil, logger)

		bc.Transaction(context.Background(), &db.Transaction{
			To:     "ktoaddr999",
			Amount: decimal.NewFromInt(1),
			Type:   db.TransactionTypeTransfer,
			Date:   time.Now().UTC(),
		})

		assert.Equal(t, 0, relay.GetPublishedEventCount())
	})
}
