package persist

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/biomeexchange/core/internal/biome"
)

type biomeMarketDoc struct {
	Biome              string `bson:"_id"`
	CashMinor          int64  `bson:"cash_minor"`
	TotalShares        string `bson:"total_shares"`
	Attention          string `bson:"attention"`
	LastRedistribution int64  `bson:"last_redistribution_unix_nano"`
}

type biomeHoldingDoc struct {
	UserID        string `bson:"user_id"`
	Biome         string `bson:"biome"`
	Shares        string `bson:"shares"`
	AvgPriceMinor string `bson:"avg_price_minor"`
	InvestedMinor int64  `bson:"invested_minor"`
}

type biomePriceHistoryDoc struct {
	Biome      string `bson:"biome"`
	Price      string `bson:"price"`
	CashMinor  int64  `bson:"cash_minor"`
	Attention  string `bson:"attention"`
	RecordedAt int64  `bson:"recorded_at_unix_nano"`
}

func holdingDocID(userID string, b biome.ID) bson.M {
	return bson.M{"user_id": userID, "biome": string(b)}
}

// BiomeStore implements biome.Store against MongoDB's biome_markets,
// biome_holdings, and biome_price_history collections.
type BiomeStore struct {
	db *mongo.Database
}

// NewBiomeStore creates a BiomeStore.
func NewBiomeStore(db *mongo.Database) *BiomeStore {
	return &BiomeStore{db: db}
}

func (s *BiomeStore) SaveMarket(ctx context.Context, m biome.Market) error {
	doc := biomeMarketDoc{
		Biome:               string(m.Biome),
		CashMinor:           m.CashMinor,
		TotalShares:         m.TotalShares.String(),
		Attention:           m.Attention.String(),
		LastRedistribution:  m.LastRedistribution.UnixNano(),
	}
	_, err := s.db.Collection("biome_markets").UpdateOne(ctx,
		bson.M{"_id": doc.Biome},
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save biome market %s: %w", m.Biome, err)
	}
	return nil
}

func (s *BiomeStore) GetHolding(ctx context.Context, userID string, b biome.ID) (biome.Holding, bool, error) {
	var doc biomeHoldingDoc
	err := s.db.Collection("biome_holdings").FindOne(ctx, holdingDocID(userID, b)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return biome.Holding{}, false, nil
	}
	if err != nil {
		return biome.Holding{}, false, fmt.Errorf("get holding %s/%s: %w", userID, b, err)
	}
	shares, err := decimal.NewFromString(doc.Shares)
	if err != nil {
		return biome.Holding{}, false, fmt.Errorf("parse holding shares: %w", err)
	}
	avgPrice, err := decimal.NewFromString(doc.AvgPriceMinor)
	if err != nil {
		avgPrice = decimal.Zero
	}
	return biome.Holding{
		UserID:        doc.UserID,
		Biome:         b,
		Shares:        shares,
		AvgPriceMinor: avgPrice,
		InvestedMinor: doc.InvestedMinor,
	}, true, nil
}

func (s *BiomeStore) SaveHolding(ctx context.Context, h biome.Holding) error {
	doc := biomeHoldingDoc{
		UserID:        h.UserID,
		Biome:         string(h.Biome),
		Shares:        h.Shares.String(),
		AvgPriceMinor: h.AvgPriceMinor.String(),
		InvestedMinor: h.InvestedMinor,
	}
	_, err := s.db.Collection("biome_holdings").UpdateOne(ctx,
		holdingDocID(h.UserID, h.Biome),
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save holding %s/%s: %w", h.UserID, h.Biome, err)
	}
	return nil
}

func (s *BiomeStore) AppendPriceHistory(ctx context.Context, p biome.PriceHistoryPoint) error {
	doc := biomePriceHistoryDoc{
		Biome:      string(p.Biome),
		Price:      p.Price.String(),
		CashMinor:  p.CashMinor,
		Attention:  p.Attention.String(),
		RecordedAt: p.RecordedAt.UnixNano(),
	}
	_, err := s.db.Collection("biome_price_history").InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("append price history for %s: %w", p.Biome, err)
	}
	return nil
}
