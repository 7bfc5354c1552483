package db

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectDB initializes and returns a MongoDB client and database instance.
func ConnectDB(uri, dbName string, log logrus.FieldLogger) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the primary node
	ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	log.WithField("database", dbName).Info("Connected to MongoDB")

	return client, db, nil
}

// DisconnectDB closes the MongoDB client connection.
func DisconnectDB(client *mongo.Client, log logrus.FieldLogger) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB: %w", err)
	}
	log.Info("MongoDB connection closed")
	return nil
}

// index describes one index to ensure on a collection.
type index struct {
	collection string
	keys       bson.D
	unique     bool
}

// The unique indexes are what make payment completion, credit grants and
// token registration idempotent under concurrent writers.
var indexes = []index{
	{"payments", bson.D{{Key: "transaction_ref", Value: 1}}, true},
	{"payments", bson.D{{Key: "user_id", Value: 1}, {Key: "property_id", Value: 1}, {Key: "status", Value: 1}}, false},
	{"payments", bson.D{{Key: "provider_transaction_id", Value: 1}}, false},
	{"credit_purchases", bson.D{{Key: "transaction_id", Value: 1}}, true},
	{"credit_purchases", bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}}, false},
	{"subscriptions", bson.D{{Key: "user_id", Value: 1}}, true},
	{"subscriptions", bson.D{{Key: "next_reset_at", Value: 1}}, false},
	{"device_tokens", bson.D{{Key: "user_id", Value: 1}, {Key: "token", Value: 1}}, true},
	{"blocked_dates", bson.D{{Key: "property_id", Value: 1}, {Key: "date", Value: 1}}, true},
	{"bookings", bson.D{{Key: "property_id", Value: 1}, {Key: "status", Value: 1}, {Key: "check_out_date", Value: 1}}, false},
	{"listings", bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}, false},
	{"configuration", bson.D{{Key: "key", Value: 1}}, true},
}

// EnsureIndexes creates the indexes the store relies on. Existing indexes
// are left untouched.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for _, idx := range indexes {
		model := mongo.IndexModel{Keys: idx.keys}
		if idx.unique {
			model.Options = options.Index().SetUnique(true)
		}
		if _, err := db.Collection(idx.collection).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", idx.collection, err)
		}
	}
	return nil
}
