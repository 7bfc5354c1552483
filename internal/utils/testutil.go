package utils

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	testEnvOnce  sync.Once
	testMongoURI string
)

// testMongo reads MONGO_URI_TEST, loading the repository .env first.
func testMongo() string {
	testEnvOnce.Do(func() {
		_, filename, _, _ := runtime.Caller(0)
		root := filepath.Join(filepath.Dir(filename), "..", "..")
		_ = godotenv.Load(filepath.Join(root, ".env"))
		testMongoURI = os.Getenv("MONGO_URI_TEST")
	})
	return testMongoURI
}

// SetupTestDB connects to the test MongoDB and drops collections so each
// test starts empty. The test is skipped when MONGO_URI_TEST is unset.
func SetupTestDB(t *testing.T, dbName string, collections ...string) *mongo.Database {
	t.Helper()
	uri := testMongo()
	if uri == "" {
		t.Skip("MONGO_URI_TEST not set, skipping MongoDB-backed test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err, "connect to test MongoDB")
	require.NoError(t, client.Ping(ctx, nil), "ping test MongoDB")
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	database := client.Database(dbName)
	for _, name := range collections {
		require.NoError(t, database.Collection(name).Drop(ctx), "drop %s", name)
	}
	return database
}
