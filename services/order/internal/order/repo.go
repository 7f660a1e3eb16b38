package order

import (
	"context"

	"github.com/google/uuid"
)

// Repo persists orders together with their bills and transactions.
// Get returns nil, nil when the order does not exist.
// Save stores o only when the stored revision is o.Revision-1 and fails
// with ErrStaleRevision otherwise.
type Repo interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	List(ctx context.Context) ([]*Order, error)
	ListByTable(ctx context.Context, tableID uuid.UUID) ([]*Order, error)
	ListByStatus(ctx context.Context, status string) ([]*Order, error)
	Save(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Numberer hands out the visible order numbers of a store.
type Numberer interface {
	Next(ctx context.Context, storeID uuid.UUID) (int, error)
}
