package commands

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/appetiteclub/pos/pkg"
	"github.com/appetiteclub/pos/services/order/internal/lock"
	"github.com/appetiteclub/pos/services/order/internal/lockstore"
	"github.com/appetiteclub/pos/services/order/internal/mongo"
)

// holder is the name the utility claims orders under.
const holder = "pos-utils"

// env holds the connections a command works with.
type env struct {
	logger    apt.Logger
	base      *mongo.BaseRepo
	db        *mongodriver.Database
	registry  *lock.Registry
	publisher *pkg.NATSPublisher
	closers   []func() error
}

func open(ctx context.Context, config *apt.Config, logger apt.Logger) (*env, error) {
	e := &env{logger: logger}

	e.base = mongo.NewBaseRepo(config, logger)
	if err := e.base.Start(ctx); err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	e.db = e.base.GetDatabase()

	store, closeStore, err := lockstore.Open(ctx, config, e.db)
	if err != nil {
		e.close(ctx)
		return nil, fmt.Errorf("open lock store: %w", err)
	}
	if closeStore != nil {
		e.closers = append(e.closers, closeStore)
	}

	var announcer events.Publisher
	if natsURL := config.GetStringOrDef("nats.url", ""); natsURL != "" {
		e.publisher, err = pkg.NewNATSPublisher(natsURL, holder, logger)
		if err != nil {
			e.close(ctx)
			return nil, err
		}
		e.closers = append(e.closers, e.publisher.Close)
		announcer = e.publisher
	}

	e.registry = lock.NewRegistry(store, lock.Options{Holder: holder}, announcer, logger)
	return e, nil
}

// eventPublisher returns the NATS publisher, or nil without one, so callers
// never hold a typed nil.
func (e *env) eventPublisher() events.Publisher {
	if e.publisher == nil {
		return nil
	}
	return e.publisher
}

func (e *env) close(ctx context.Context) {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Debug("cannot close connection", "error", err)
		}
	}
	if err := e.base.Stop(ctx); err != nil {
		e.logger.Debug("cannot disconnect from mongodb", "error", err)
	}
}
