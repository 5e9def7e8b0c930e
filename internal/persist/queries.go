package persist

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// TradeFilter controls which trades GET /trades returns.
type TradeFilter struct {
	InstrumentID string
	Limit        int
	Offset       int
}

// tradeReadDoc is the JSON-facing projection of a persisted trade; decimal
// fields stay as strings so the API layer can hand them straight to clients
// without a spurious round-trip through decimal.Decimal.
type tradeReadDoc struct {
	ID           string    `json:"id"            bson:"_id"`
	InstrumentID string    `json:"instrument_id" bson:"instrument_id"`
	Price        string    `json:"price"         bson:"price"`
	Quantity     string    `json:"quantity"      bson:"quantity"`
	BuyerID      string    `json:"buyer_id"      bson:"buyer_id"`
	SellerID     string    `json:"seller_id"     bson:"seller_id"`
	Sequence     uint64    `json:"sequence"      bson:"sequence"`
	ExecutedAt   time.Time `json:"executed_at"   bson:"executed_at"`
}

// TradeReader abstracts read-only trade queries over the persisted trades
// collection, grounded on the teacher's persist/queries.go MongoTradeReader.
type TradeReader interface {
	QueryTrades(ctx context.Context, f TradeFilter) ([]tradeReadDoc, error)
}

// MongoTradeReader implements TradeReader against the trades collection.
type MongoTradeReader struct {
	db *mongo.Database
}

// NewMongoTradeReader creates a MongoTradeReader.
func NewMongoTradeReader(db *mongo.Database) *MongoTradeReader {
	return &MongoTradeReader{db: db}
}

func (r *MongoTradeReader) QueryTrades(ctx context.Context, f TradeFilter) ([]tradeReadDoc, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	filter := bson.M{}
	if f.InstrumentID != "" {
		filter["instrument_id"] = f.InstrumentID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "sequence", Value: -1}}).
		SetLimit(int64(f.Limit)).
		SetSkip(int64(f.Offset))

	cursor, err := r.db.Collection("trades").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer cursor.Close(ctx)

	trades := []tradeReadDoc{}
	if err := cursor.All(ctx, &trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return trades, nil
}

// OrderFilter controls which orders GET /orders returns.
type OrderFilter struct {
	UserID       string
	InstrumentID string
	Side         string
	Status       string
	Limit        int
	Offset       int
}

// orderReadDoc mirrors orderDoc (matching_store.go) for read-only listing.
type orderReadDoc struct {
	ID             uint64 `json:"id"                         bson:"_id"`
	InstrumentID   string `json:"instrument_id"               bson:"instrument_id"`
	UserID         string `json:"user_id"                     bson:"user_id"`
	Side           string `json:"side"                        bson:"side"`
	Type           string `json:"type"                        bson:"type"`
	TimeInForce    string `json:"time_in_force"               bson:"time_in_force"`
	Original       string `json:"original"                    bson:"original"`
	Remaining      string `json:"remaining"                   bson:"remaining"`
	LimitPrice     string `json:"limit_price,omitempty"       bson:"limit_price,omitempty"`
	StopPrice      string `json:"stop_price,omitempty"        bson:"stop_price,omitempty"`
	OCOGroupID     string `json:"oco_group_id,omitempty"       bson:"oco_group_id,omitempty"`
	Status         string `json:"status"                      bson:"status"`
	ClientOrderKey string `json:"client_order_key,omitempty"  bson:"client_order_key,omitempty"`
}

// OrderReader abstracts read-only order queries over the persisted orders
// collection, used for GET /orders; MatchingEngine's in-memory Book serves
// placement and cancellation directly and never reads through this path.
type OrderReader interface {
	QueryOrders(ctx context.Context, f OrderFilter) ([]orderReadDoc, error)
}

// MongoOrderReader implements OrderReader against the orders collection.
type MongoOrderReader struct {
	db *mongo.Database
}

// NewMongoOrderReader creates a MongoOrderReader.
func NewMongoOrderReader(db *mongo.Database) *MongoOrderReader {
	return &MongoOrderReader{db: db}
}

func (r *MongoOrderReader) QueryOrders(ctx context.Context, f OrderFilter) ([]orderReadDoc, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.InstrumentID != "" {
		filter["instrument_id"] = f.InstrumentID
	}
	if f.Side != "" {
		filter["side"] = f.Side
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "priority", Value: -1}}).
		SetLimit(int64(f.Limit)).
		SetSkip(int64(f.Offset))

	cursor, err := r.db.Collection("orders").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer cursor.Close(ctx)

	orders := []orderReadDoc{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return orders, nil
}

// TransactionFilter controls GET /biome-market/transactions pagination.
type TransactionFilter struct {
	UserID string
	Biome  string
	Page   int
	Limit  int
}

// TransactionReader abstracts read-only transaction-history queries used by
// the biome-market transactions endpoint.
type TransactionReader interface {
	QueryTransactions(ctx context.Context, f TransactionFilter) ([]transactionDoc, error)
}

// MongoTransactionReader implements TransactionReader against the
// transactions collection the Ledger writes.
type MongoTransactionReader struct {
	db *mongo.Database
}

// NewMongoTransactionReader creates a MongoTransactionReader.
func NewMongoTransactionReader(db *mongo.Database) *MongoTransactionReader {
	return &MongoTransactionReader{db: db}
}

func (r *MongoTransactionReader) QueryTransactions(ctx context.Context, f TransactionFilter) ([]transactionDoc, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Page < 1 {
		f.Page = 1
	}
	filter := bson.M{}
	if f.UserID != "" {
		filter["buyer_id"] = f.UserID
	}
	if f.Biome != "" {
		filter["biome"] = f.Biome
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(f.Limit)).
		SetSkip(int64((f.Page - 1) * f.Limit))

	cursor, err := r.db.Collection("transactions").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer cursor.Close(ctx)

	txs := []transactionDoc{}
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return txs, nil
}
