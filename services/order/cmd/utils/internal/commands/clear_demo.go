package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/appetiteclub/pos/services/order/internal/lifecycle"
	"github.com/appetiteclub/pos/services/order/internal/lock"
	"github.com/appetiteclub/pos/services/order/internal/mongo"
	"github.com/appetiteclub/pos/services/order/internal/order"
)

const seedsCollection = "_seeds"

// ClearDemo deletes the demo store's orders and forgets the demo seed so the
// next seed-demo runs again. Orders claimed by a terminal are skipped.
func ClearDemo(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	logger.Info("Starting demo data cleanup...")

	e, err := open(ctx, config, logger)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	repo := mongo.NewOrderRepo(e.db)
	orders, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}

	demo := demoOrders(orders)
	deleted, skipped := 0, 0
	for _, o := range demo {
		handle, err := e.registry.Acquire(ctx, o.ID, "clear-demo")
		if errors.Is(err, lock.ErrConflict) {
			logger.Info("Demo order in use, skipping", "order_id", o.ID.String(), "error", err)
			skipped++
			continue
		}
		if err != nil {
			return err
		}

		err = repo.Delete(ctx, o.ID)
		if releaseErr := handle.Release(ctx); releaseErr != nil {
			logger.Debug("cannot release claim", "order_id", o.ID.String(), "error", releaseErr)
		}
		if err != nil {
			return fmt.Errorf("delete demo order %s: %w", o.ID, err)
		}
		deleted++
	}
	logger.Info("Deleted demo orders", "count", deleted, "skipped", skipped)

	if skipped > 0 {
		return nil
	}
	res, err := e.db.Collection(seedsCollection).DeleteOne(ctx, bson.M{"_id": lifecycle.DemoSeedID})
	if err != nil {
		return fmt.Errorf("delete order seed tracker: %w", err)
	}
	logger.Info("Cleared order seed tracker", "deleted", res.DeletedCount)
	return nil
}

func demoOrders(orders []*order.Order) []*order.Order {
	var demo []*order.Order
	for _, o := range orders {
		if o.StoreID == lifecycle.DemoStoreID {
			demo = append(demo, o)
		}
	}
	return demo
}
