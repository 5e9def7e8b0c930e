package persist

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/biomeexchange/core/internal/instrument"
)

type instrumentDoc struct {
	ID            string `bson:"_id"`
	Symbol        string `bson:"symbol"`
	AssetClass    string `bson:"asset_class"`
	TickSize      string `bson:"tick_size"`
	LotSize       string `bson:"lot_size"`
	MaxLeverage   string `bson:"max_leverage"`
	MarginAllowed bool   `bson:"margin_allowed"`
	ShortAllowed  bool   `bson:"short_allowed"`
	Status        string `bson:"status"`
}

func (d instrumentDoc) toInstrument() (instrument.Instrument, error) {
	tick, err := decimal.NewFromString(d.TickSize)
	if err != nil {
		return instrument.Instrument{}, fmt.Errorf("parse tick size: %w", err)
	}
	lot, err := decimal.NewFromString(d.LotSize)
	if err != nil {
		return instrument.Instrument{}, fmt.Errorf("parse lot size: %w", err)
	}
	leverage, err := decimal.NewFromString(d.MaxLeverage)
	if err != nil {
		return instrument.Instrument{}, fmt.Errorf("parse max leverage: %w", err)
	}
	return instrument.Instrument{
		ID:            d.ID,
		Symbol:        d.Symbol,
		AssetClass:    instrument.AssetClass(d.AssetClass),
		TickSize:      tick,
		LotSize:       lot,
		MaxLeverage:   leverage,
		MarginAllowed: d.MarginAllowed,
		ShortAllowed:  d.ShortAllowed,
		Status:        instrument.Status(d.Status),
	}, nil
}

// InstrumentStore implements instrument.Store against MongoDB's instruments
// collection.
type InstrumentStore struct {
	db *mongo.Database
}

// NewInstrumentStore creates an InstrumentStore.
func NewInstrumentStore(db *mongo.Database) *InstrumentStore {
	return &InstrumentStore{db: db}
}

func (s *InstrumentStore) List(ctx context.Context) ([]instrument.Instrument, error) {
	cur, err := s.db.Collection("instruments").Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	defer cur.Close(ctx)

	var out []instrument.Instrument
	for cur.Next(ctx) {
		var doc instrumentDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode instrument: %w", err)
		}
		inst, err := doc.toInstrument()
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, cur.Err()
}

func (s *InstrumentStore) Save(ctx context.Context, inst instrument.Instrument) error {
	doc := instrumentDoc{
		ID:            inst.ID,
		Symbol:        inst.Symbol,
		AssetClass:    string(inst.AssetClass),
		TickSize:      inst.TickSize.String(),
		LotSize:       inst.LotSize.String(),
		MaxLeverage:   inst.MaxLeverage.String(),
		MarginAllowed: inst.MarginAllowed,
		ShortAllowed:  inst.ShortAllowed,
		Status:        string(inst.Status),
	}
	_, err := s.db.Collection("instruments").UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save instrument %s: %w", inst.ID, err)
	}
	return nil
}

func (s *InstrumentStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Collection("instruments").DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete instrument %s: %w", id, err)
	}
	return nil
}
