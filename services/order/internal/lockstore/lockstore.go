// Package lockstore opens the claim store selected by configuration.
package lockstore

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/appetiteclub/pos/services/order/internal/lock"
	"github.com/appetiteclub/pos/services/order/internal/mongo"
	"github.com/appetiteclub/pos/services/order/internal/redis"
)

const (
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Open returns the store named by locks.backend. Terminals only exclude
// each other when they share the backend. The returned close func may be
// nil.
func Open(ctx context.Context, config *apt.Config, db *mongodriver.Database) (lock.Store, func() error, error) {
	switch backend := config.GetStringOrDef("locks.backend", BackendMongo); backend {
	case BackendMongo:
		if db == nil {
			return nil, nil, fmt.Errorf("mongo lock store needs a database")
		}
		return mongo.NewLockStore(db), nil, nil
	case BackendRedis:
		rdb, err := redis.Connect(ctx, config.GetStringOrDef("redis.url", "redis://localhost:6379/0"))
		if err != nil {
			return nil, nil, err
		}
		return redis.NewLockStore(rdb), rdb.Close, nil
	case BackendMemory:
		return lock.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown locks.backend %q", backend)
	}
}
