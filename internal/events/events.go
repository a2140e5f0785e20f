package events

import "context"

// StreamEscrow carries every escrow and ledger event.
const StreamEscrow = "events:escrow"

// Event types
const (
	EventEscrowCreated    = "escrow_created"
	EventEscrowDeposited  = "escrow_deposited"
	EventEscrowReleased   = "escrow_released"
	EventEscrowRefunded   = "escrow_refunded"
	EventEscrowRefundable = "escrow_refundable"
	EventEscrowStale      = "escrow_stale"
	EventLedgerCredited   = "ledger_credited"
)

type Event struct {
	Type string `json:"type"`
	// Recipients are the base58 identities the event concerns.
	Recipients []string       `json:"recipients,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// Concerns reports whether identity is one of the event's recipients.
func (e Event) Concerns(identity string) bool {
	for _, r := range e.Recipients {
		if r == identity {
			return true
		}
	}
	return false
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, Event) error { return nil }
