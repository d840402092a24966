package ws

// SubscriptionKind is a wire-level subscription level name. The values
// are the legacy protocol's, camelCase included.
type SubscriptionKind string

const (
	SubBlocks          SubscriptionKind = "blocks"
	SubOwnBlocks       SubscriptionKind = "ownBlocks"
	SubTransactions    SubscriptionKind = "transactions"
	SubOwnTransactions SubscriptionKind = "ownTransactions"
	SubNames           SubscriptionKind = "names"
	SubOwnNames        SubscriptionKind = "ownNames"
	SubMotd            SubscriptionKind = "motd"
)

// ValidSubscriptionKinds returns the subscription level domain in a
// stable order.
func ValidSubscriptionKinds() []SubscriptionKind {
	return []SubscriptionKind{
		SubBlocks, SubOwnBlocks,
		SubTransactions, SubOwnTransactions,
		SubNames, SubOwnNames,
		SubMotd,
	}
}

// ParseSubscriptionKind validates a client-supplied subscription level.
func ParseSubscriptionKind(s string) (SubscriptionKind, bool) {
	switch SubscriptionKind(s) {
	case SubBlocks, SubOwnBlocks, SubTransactions, SubOwnTransactions, SubNames, SubOwnNames, SubMotd:
		return SubscriptionKind(s), true
	}
	return "", false
}

// EventKind discriminates broadcast events.
type EventKind string

const (
	EventTransaction EventKind = "transaction"
	EventName        EventKind = "name"
	EventBlock       EventKind = "block"
)

// Event is a broadcastable occurrence. The hub filters on Kind and the
// address fields; Payload is the wire body emitted under the kind-named
// key and is opaque to the hub.
type Event struct {
	Kind EventKind

	// Transaction endpoints.
	From string
	To   string

	// Name owner.
	Owner string

	// Block miner.
	Miner string

	Payload any
}

// frame builds the event frame sent to matching sessions.
func (e Event) frame() map[string]any {
	return map[string]any{
		"type":         "event",
		"event":        string(e.Kind),
		string(e.Kind): e.Payload,
	}
}
