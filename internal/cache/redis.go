// Package cache owns the shared Redis connection: runtime config
// invalidation, preferences and the asynq broker all sit on it.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const pingTimeout = 5 * time.Second

// ConnectRedis opens a client on addr and fails unless Redis answers a PING.
func ConnectRedis(addr, password string, db int, log logrus.FieldLogger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  pingTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	log.WithFields(logrus.Fields{"addr": addr, "db": db}).Info("Connected to Redis")
	return rdb, nil
}

// DisconnectRedis closes rdb. A nil client is a no-op.
func DisconnectRedis(rdb *redis.Client, log logrus.FieldLogger) error {
	if rdb == nil {
		return nil
	}
	if err := rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	log.Info("Redis connection closed")
	return nil
}
