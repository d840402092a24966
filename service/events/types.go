package events

import "time"

// Kinds mirrored to JetStream. They match the websocket event names so
// a consumer of either surface sees the same vocabulary.
const (
	KindTransaction = "transaction"
	KindName        = "name"
	KindBlock       = "block"
)

// Event is the JetStream mirror of a hub broadcast. Data carries the
// same payload websocket subscribers receive for the event.
type Event struct {
	Event       string    `json:"event"`
	Data        any       `json:"data"`
	PublishedAt time.Time `json:"published_at"`
}

// NewEvent stamps a broadcast payload for publishing.
func NewEvent(kind string, data any) *Event {
	return &Event{
		Event:       kind,
		Data:        data,
		PublishedAt: time.Now().UTC(),
	}
}
