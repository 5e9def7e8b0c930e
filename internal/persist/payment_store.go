package persist

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/biomeexchange/core/internal/payment"
)

type paymentEventDoc struct {
	ID        string    `bson:"_id"`
	Gateway   string    `bson:"gateway"`
	EventType string    `bson:"event_type"`
	Status    string    `bson:"status"`
	Message   string    `bson:"message,omitempty"`
	Payload   string    `bson:"payload,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

// PaymentEventStore implements payment.EventStore against MongoDB's
// payment_events collection.
type PaymentEventStore struct {
	db *mongo.Database
}

// NewPaymentEventStore creates a PaymentEventStore.
func NewPaymentEventStore(db *mongo.Database) *PaymentEventStore {
	return &PaymentEventStore{db: db}
}

func (s *PaymentEventStore) SaveEvent(ctx context.Context, e payment.Event) error {
	doc := paymentEventDoc{
		ID:        e.ID,
		Gateway:   string(e.Gateway),
		EventType: e.EventType,
		Status:    string(e.Status),
		Message:   e.Message,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	}
	_, err := s.db.Collection("payment_events").InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("save payment event %s: %w", e.ID, err)
	}
	return nil
}
