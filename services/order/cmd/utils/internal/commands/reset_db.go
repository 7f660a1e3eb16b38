package commands

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"

	"github.com/appetiteclub/pos/services/order/internal/lockstore"
)

// ResetDB drops the order database and every claim - USE WITH CAUTION
func ResetDB(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	logger.Info("DANGER: this drops the order database and cannot be undone")

	e, err := open(ctx, config, logger)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	// Redis claims live outside the database.
	if config.GetStringOrDef("locks.backend", lockstore.BackendMongo) == lockstore.BackendRedis {
		claims, err := e.registry.Claims(ctx)
		if err != nil {
			return fmt.Errorf("list locks: %w", err)
		}
		n, err := clearClaims(ctx, e.registry, claims)
		if err != nil {
			return fmt.Errorf("clear locks: %w", err)
		}
		logger.Info("Cleared claims", "count", n)
	}

	name := e.db.Name()
	if err := e.db.Drop(ctx); err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	logger.Info("Database dropped", "database", name)
	return nil
}
