package events

import "context"

// Streams
const (
	StreamWallet = "events:wallet"
)

// Event types
const (
	EventBalanceChanged    = "balance_changed"
	EventSecurityAlert     = "security_alert"
	EventRecoveryRequested = "recovery_requested"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
