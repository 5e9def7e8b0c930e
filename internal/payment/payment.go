// Package payment abstracts the four payment-gateway webhooks spec.md
// excludes from the core (bKash, Nagad, Rocket, SSLCommerz) behind a single
// Gateway interface, so the top-up flow in internal/api depends on one call
// shape rather than any particular provider's SDK.
package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Name identifies which gateway handled a payment.
type Name string

const (
	BKash      Name = "bkash"
	Nagad      Name = "nagad"
	Rocket     Name = "rocket"
	SSLCommerz Name = "sslcommerz"
)

// InitiateResult is what a gateway returns for a top-up request: a redirect
// URL the client is sent to, and the gateway's own reference for the
// transaction, persisted on the TransactionRecord for later webhook
// reconciliation.
type InitiateResult struct {
	RedirectURL  string
	GatewayName  Name
	GatewayExtID string
}

// Gateway abstracts one payment provider. Implementations live outside this
// repository in production; NoopGateway stands in for local development and
// tests.
type Gateway interface {
	Initiate(ctx context.Context, amountMinor int64, reference string) (InitiateResult, error)
}

// EventStatus is a webhook event's reported outcome.
type EventStatus string

const (
	EventSucceeded EventStatus = "succeeded"
	EventFailed    EventStatus = "failed"
	EventPending   EventStatus = "pending"
)

// Event mirrors a received gateway webhook, kept for audit and
// reconciliation even though signature verification and replay handling are
// out of scope here.
type Event struct {
	ID        string
	Gateway   Name
	EventType string
	Status    EventStatus
	Message   string
	Payload   string
	CreatedAt time.Time
}

// EventStore persists received webhook events.
type EventStore interface {
	SaveEvent(ctx context.Context, e Event) error
}

// NoopGateway immediately reports success with a fabricated reference,
// standing in for a real provider integration.
type NoopGateway struct {
	Name Name
}

// NewNoopGateway creates a NoopGateway reporting as name.
func NewNoopGateway(name Name) *NoopGateway {
	return &NoopGateway{Name: name}
}

func (g *NoopGateway) Initiate(ctx context.Context, amountMinor int64, reference string) (InitiateResult, error) {
	return InitiateResult{
		RedirectURL:  "https://payments.invalid/noop/" + reference,
		GatewayName:  g.Name,
		GatewayExtID: uuid.NewString(),
	}, nil
}
