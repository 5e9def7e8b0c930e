package persist

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/biomeexchange/core/internal/ledger"
	"github.com/biomeexchange/core/internal/margin"
)

type positionDoc struct {
	ID           string `bson:"_id"`
	UserID       string `bson:"user_id"`
	InstrumentID string `bson:"instrument_id"`
	Side         string `bson:"side"`
	Quantity     string `bson:"quantity"`
	EntryPrice   string `bson:"entry_price"`
	MarginUsed   string `bson:"margin_used"`
	SwapAccrued  string `bson:"swap_accrued"`
}

func (d positionDoc) toPosition() (margin.Position, error) {
	qty, err := decimal.NewFromString(d.Quantity)
	if err != nil {
		return margin.Position{}, fmt.Errorf("parse quantity: %w", err)
	}
	entry, err := decimal.NewFromString(d.EntryPrice)
	if err != nil {
		return margin.Position{}, fmt.Errorf("parse entry price: %w", err)
	}
	used, err := decimal.NewFromString(d.MarginUsed)
	if err != nil {
		return margin.Position{}, fmt.Errorf("parse margin used: %w", err)
	}
	swap, err := decimal.NewFromString(d.SwapAccrued)
	if err != nil {
		swap = decimal.Zero
	}
	return margin.Position{
		ID:           d.ID,
		UserID:       d.UserID,
		InstrumentID: d.InstrumentID,
		Side:         d.Side,
		Quantity:     qty,
		EntryPrice:   entry,
		MarginUsed:   used,
		SwapAccrued:  swap,
	}, nil
}

// MarginStore implements margin.PositionStore against MongoDB's positions
// and orders collections. Closing a position credits the realized PnL
// through the ledger, preserving the rule that internal/ledger is the sole
// mutator of balances.
type MarginStore struct {
	db *mongo.Database
	lg *ledger.Ledger
}

// NewMarginStore creates a MarginStore.
func NewMarginStore(db *mongo.Database, lg *ledger.Ledger) *MarginStore {
	return &MarginStore{db: db, lg: lg}
}

func (s *MarginStore) OpenPositions(ctx context.Context, userID string) ([]margin.Position, error) {
	cur, err := s.db.Collection("positions").Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("query open positions for %s: %w", userID, err)
	}
	defer cur.Close(ctx)

	var out []margin.Position
	for cur.Next(ctx) {
		var doc positionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		p, err := doc.toPosition()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, cur.Err()
}

func (s *MarginStore) AllAccountIDs(ctx context.Context) ([]string, error) {
	ids, err := s.db.Collection("positions").Distinct(ctx, "user_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list accounts with open positions: %w", err)
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if s, ok := id.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (s *MarginStore) CancelAllPendingOrders(ctx context.Context, userID string) error {
	_, err := s.db.Collection("orders").UpdateMany(ctx,
		bson.M{"user_id": userID, "status": bson.M{"$in": bson.A{"pending", "partial"}}},
		bson.M{"$set": bson.M{"status": "cancelled"}},
	)
	if err != nil {
		return fmt.Errorf("cancel pending orders for %s: %w", userID, err)
	}
	return nil
}

func (s *MarginStore) ClosePosition(ctx context.Context, p margin.Position, closePrice decimal.Decimal) error {
	realized := p.PnL(closePrice)
	realizedMinor := realized.Round(0).IntPart()
	if realizedMinor > 0 {
		if _, err := s.lg.Credit(ctx, p.UserID, realizedMinor, ledger.TxLiquidation); err != nil {
			return fmt.Errorf("credit realized pnl for position %s: %w", p.ID, err)
		}
	} else if realizedMinor < 0 {
		if _, err := s.lg.Debit(ctx, p.UserID, -realizedMinor, ledger.TxLiquidation); err != nil {
			return fmt.Errorf("debit realized loss for position %s: %w", p.ID, err)
		}
	}
	if _, err := s.db.Collection("positions").DeleteOne(ctx, bson.M{"_id": p.ID}); err != nil {
		return fmt.Errorf("delete closed position %s: %w", p.ID, err)
	}
	return nil
}

// ApplyFill opens a new position or extends an existing same-side position
// with a fill from the matching engine, folding the new quantity into a
// quantity-weighted average entry price. It does not net against an opposite
// side position on the same instrument; flipping a position still requires
// closing the old one via ClosePosition first.
func (s *MarginStore) ApplyFill(ctx context.Context, userID, instrumentID, side string, quantity, price, marginUsed decimal.Decimal) error {
	coll := s.db.Collection("positions")

	var existing positionDoc
	err := coll.FindOne(ctx, bson.M{"user_id": userID, "instrument_id": instrumentID, "side": side}).Decode(&existing)
	if err == mongo.ErrNoDocuments {
		doc := positionDoc{
			ID:           uuid.New().String(),
			UserID:       userID,
			InstrumentID: instrumentID,
			Side:         side,
			Quantity:     quantity.String(),
			EntryPrice:   price.String(),
			MarginUsed:   marginUsed.String(),
			SwapAccrued:  "0",
		}
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			return fmt.Errorf("open position for %s/%s: %w", userID, instrumentID, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load position for %s/%s: %w", userID, instrumentID, err)
	}

	pos, err := existing.toPosition()
	if err != nil {
		return err
	}
	newQuantity := pos.Quantity.Add(quantity)
	newEntry := pos.Quantity.Mul(pos.EntryPrice).Add(quantity.Mul(price)).Div(newQuantity)
	newMarginUsed := pos.MarginUsed.Add(marginUsed)

	_, err = coll.UpdateOne(ctx, bson.M{"_id": pos.ID}, bson.M{"$set": bson.M{
		"quantity":    newQuantity.String(),
		"entry_price": newEntry.String(),
		"margin_used": newMarginUsed.String(),
	}})
	if err != nil {
		return fmt.Errorf("extend position %s: %w", pos.ID, err)
	}
	return nil
}
