package persist

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EnsureIndexes creates idempotent indexes on all collections.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}

	indexes := []idx{
		{
			collection: "accounts",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "instruments",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "status", Value: 1}},
			},
		},
		{
			collection: "orders",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "instrument_id", Value: 1}, {Key: "status", Value: 1}},
			},
		},
		{
			collection: "orders",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}},
			},
		},
		{
			collection: "sim_state",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "trades",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "instrument_id", Value: 1},
					{Key: "sequence", Value: -1},
				},
			},
		},
		{
			collection: "transactions",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "buyer_id", Value: 1}, {Key: "created_at", Value: -1}},
			},
		},
		{
			collection: "positions",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "user_id", Value: 1}},
			},
		},
		{
			collection: "biome_holdings",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "biome", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "biome_price_history",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "biome", Value: 1}, {Key: "recorded_at_unix_nano", Value: -1}},
			},
		},
	}

	for _, i := range indexes {
		_, err := db.Collection(i.collection).Indexes().CreateOne(ctx, i.model)
		if err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}

	log.Println("MongoDB indexes ensured")
	return nil
}
