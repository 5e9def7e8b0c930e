package persist

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/biomeexchange/core/internal/matching"
	"github.com/biomeexchange/core/internal/orderbook"
)

type tradeDoc struct {
	ID           string    `bson:"_id"`
	InstrumentID string    `bson:"instrument_id"`
	BuyOrderID   uint64    `bson:"buy_order_id"`
	SellOrderID  uint64    `bson:"sell_order_id"`
	Price        string    `bson:"price"`
	Quantity     string    `bson:"quantity"`
	BuyerID      string    `bson:"buyer_id"`
	SellerID     string    `bson:"seller_id"`
	Sequence     uint64    `bson:"sequence"`
	ExecutedAt   time.Time `bson:"executed_at"`
}

type orderDoc struct {
	ID             uint64 `bson:"_id"`
	InstrumentID   string `bson:"instrument_id"`
	UserID         string `bson:"user_id"`
	Side           string `bson:"side"`
	Type           string `bson:"type"`
	TimeInForce    string `bson:"time_in_force"`
	Original       string `bson:"original"`
	Remaining      string `bson:"remaining"`
	LimitPrice     string `bson:"limit_price,omitempty"`
	HasLimitPrice  bool   `bson:"has_limit_price"`
	StopPrice      string `bson:"stop_price,omitempty"`
	HasStop        bool   `bson:"has_stop"`
	TrailingOffset string `bson:"trailing_offset,omitempty"`
	HasTrailing    bool   `bson:"has_trailing"`
	IcebergVisible string `bson:"iceberg_visible,omitempty"`
	IsIceberg      bool   `bson:"is_iceberg"`
	OCOGroupID     string `bson:"oco_group_id,omitempty"`
	Status         string `bson:"status"`
	ClientOrderKey string `bson:"client_order_key,omitempty"`
	Priority       int64  `bson:"priority"`
}

// MatchingStore implements matching.TradeStore against MongoDB's trades and
// orders collections. Orders are upserted by ID so a cancel/partial-fill
// update and the original placement write converge to the same document.
type MatchingStore struct {
	db *mongo.Database
}

// NewMatchingStore creates a MatchingStore.
func NewMatchingStore(db *mongo.Database) *MatchingStore {
	return &MatchingStore{db: db}
}

func (s *MatchingStore) SaveTrade(ctx context.Context, t matching.Trade) error {
	doc := tradeDoc{
		ID:           t.ID,
		InstrumentID: t.InstrumentID,
		BuyOrderID:   t.BuyOrderID,
		SellOrderID:  t.SellOrderID,
		Price:        t.Price.String(),
		Quantity:     t.Quantity.String(),
		BuyerID:      t.BuyerID,
		SellerID:     t.SellerID,
		Sequence:     t.Sequence,
		ExecutedAt:   t.ExecutedAt,
	}
	_, err := s.db.Collection("trades").InsertOne(ctx, doc)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return nil // idempotent — ignore duplicates
	}
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.ID, err)
	}
	return nil
}

func (s *MatchingStore) SaveOrder(ctx context.Context, o *orderbook.Order) error {
	doc := orderDoc{
		ID:             o.ID,
		InstrumentID:   o.InstrumentID,
		UserID:         o.UserID,
		Side:           string(o.Side),
		Type:           string(o.Type),
		TimeInForce:    string(o.TimeInForce),
		Original:       o.Original.String(),
		Remaining:      o.Remaining.String(),
		HasLimitPrice:  o.HasLimitPrice,
		HasStop:        o.HasStop,
		TrailingOffset: o.TrailingOffset.String(),
		HasTrailing:    o.HasTrailing,
		IcebergVisible: o.IcebergVisible.String(),
		IsIceberg:      o.IsIceberg,
		OCOGroupID:     o.OCOGroupID,
		Status:         string(o.Status),
		ClientOrderKey: o.ClientOrderKey,
		Priority:       o.Priority,
	}
	if o.HasLimitPrice {
		doc.LimitPrice = o.LimitPrice.String()
	}
	if o.HasStop {
		doc.StopPrice = o.StopPrice.String()
	}
	_, err := s.db.Collection("orders").UpdateOne(ctx,
		bson.M{"_id": o.ID},
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save order %d: %w", o.ID, err)
	}
	return nil
}
