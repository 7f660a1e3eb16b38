package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"

	"github.com/appetiteclub/pos/services/order/internal/order"
)

// OrderView is an order as terminals show it, flagged with the terminal
// currently editing it.
type OrderView struct {
	*order.Order
	LockedBy string `json:"locked_by,omitempty"`
}

// OrderViewCache is the terminal's read model of open orders and of who is
// editing them. It trails the store until the next change notification.
type OrderViewCache struct {
	mu      sync.RWMutex
	orders  map[uuid.UUID]*order.Order
	holders map[uuid.UUID]string
	repo    order.Repo
	logger  apt.Logger
}

func NewOrderViewCache(repo order.Repo, logger apt.Logger) *OrderViewCache {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OrderViewCache{
		orders:  make(map[uuid.UUID]*order.Order),
		holders: make(map[uuid.UUID]string),
		repo:    repo,
		logger:  logger,
	}
}

func (c *OrderViewCache) Warm(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}
	orders, err := c.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}
	for _, o := range orders {
		c.Set(o)
	}
	return nil
}

// Refresh reloads one order from the store.
func (c *OrderViewCache) Refresh(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	if c.repo == nil {
		return nil, fmt.Errorf("order cache uninitialized")
	}
	o, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", id, err)
	}
	if o == nil {
		c.Remove(id)
		return nil, nil
	}
	c.Set(o)
	return o, nil
}

func (c *OrderViewCache) Get(id uuid.UUID) (*order.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[id]
	return o, ok
}

// Set stores o unless it is final, in which case it leaves the view. Older
// revisions never replace newer ones.
func (c *OrderViewCache) Set(o *order.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o.IsFinal() {
		delete(c.orders, o.ID)
		return
	}
	if current, ok := c.orders[o.ID]; ok && current.Revision > o.Revision {
		return
	}
	c.orders[o.ID] = o
}

func (c *OrderViewCache) Remove(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, id)
	delete(c.holders, id)
}

// ByTable returns the cached open orders of a table, oldest first.
func (c *OrderViewCache) ByTable(tableID uuid.UUID) []*order.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []*order.Order
	for _, o := range c.orders {
		if o.TableID != nil && *o.TableID == tableID {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// SetHolder records who edits an order. An empty holder clears it.
func (c *OrderViewCache) SetHolder(id uuid.UUID, holder string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if holder == "" {
		delete(c.holders, id)
		return
	}
	c.holders[id] = holder
}

func (c *OrderViewCache) Holder(id uuid.UUID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.holders[id]
	return h, ok
}

// View flags o with its current editor, if any.
func (c *OrderViewCache) View(o *order.Order) OrderView {
	v := OrderView{Order: o}
	if c == nil || o == nil {
		return v
	}
	v.LockedBy, _ = c.Holder(o.ID)
	return v
}

func (c *OrderViewCache) Views(orders []*order.Order) []OrderView {
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, c.View(o))
	}
	return views
}
