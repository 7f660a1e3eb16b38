package commands

import (
	"context"

	"github.com/appetiteclub/apt"

	"github.com/appetiteclub/pos/services/order/internal/lifecycle"
	"github.com/appetiteclub/pos/services/order/internal/mongo"
)

// SeedDemo drives the demo orders through the order engine. It is a no-op
// when the seed tracker already lists the demo seed.
func SeedDemo(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	logger.Info("Starting demo seeding process...")

	e, err := open(ctx, config, logger)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	engine := lifecycle.NewEngine(lifecycle.EngineDeps{
		Repo:      mongo.NewOrderRepo(e.db),
		Locks:     e.registry,
		Numbers:   mongo.NewOrderNumberer(e.db),
		Publisher: e.eventPublisher(),
	}, logger)

	return lifecycle.ApplyDemoSeeds(ctx, engine, e.db, logger)
}
