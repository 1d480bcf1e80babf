package notify

import (
	"context"
	"time"
)

// Event types published to users.
const (
	EventAccessRequestPending = "access_request.pending"
	EventAccessRequestDecided = "access_request.decided"
	EventCoupleNFTRequested   = "couple_nft.requested"
	EventCoupleNFTMinted      = "couple_nft.minted"
)

// Event is a user-facing notification. Delivery is best effort.
type Event struct {
	Type       string            `json:"type"`
	Subject    string            `json:"subject"`
	Actor      string            `json:"actor,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Notifier accepts fire-and-forget notifications. Implementations never surface delivery failures.
type Notifier interface {
	Notify(ctx context.Context, userID string, event Event)
}

// Sink delivers a single notification to an external channel.
type Sink interface {
	Deliver(ctx context.Context, userID string, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userID string, event Event)

func (f NotifierFunc) Notify(ctx context.Context, userID string, event Event) {
	f(ctx, userID, event)
}

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(context.Context, string, Event) {})
