package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/pos/pkg/event"
	"github.com/google/uuid"
)

const releaseTimeout = 5 * time.Second

type Options struct {
	// Holder identifies this terminal in every claim it writes.
	Holder string
	// TTL bounds every claim. Zero keeps claims until released or cleared.
	TTL time.Duration
}

// Registry serializes mutations of an order across terminals sharing one
// store. Claims are advisory: only cooperating writers respect them.
type Registry struct {
	store     Store
	holder    string
	ttl       time.Duration
	publisher events.Publisher
	logger    apt.Logger
	now       func() time.Time
}

func NewRegistry(store Store, opts Options, publisher events.Publisher, logger apt.Logger) *Registry {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if opts.Holder == "" {
		opts.Holder = "terminal-" + apt.GenerateNewID().String()[:8]
	}
	return &Registry{
		store:     store,
		holder:    opts.Holder,
		ttl:       opts.TTL,
		publisher: publisher,
		logger:    logger.With("component", "lock-registry", "holder", opts.Holder),
		now:       time.Now,
	}
}

func (r *Registry) Holder() string {
	return r.holder
}

// Acquire claims orderID for this terminal. Any live claim, including one
// this terminal left behind, yields a *ConflictError.
func (r *Registry) Acquire(ctx context.Context, orderID uuid.UUID, purpose string) (*Handle, error) {
	now := r.now()
	claim := Claim{
		OrderID:   orderID,
		Holder:    r.holder,
		Purpose:   purpose,
		Token:     apt.GenerateNewID().String(),
		ClaimedAt: now,
	}
	if r.ttl > 0 {
		expires := now.Add(r.ttl)
		claim.ExpiresAt = &expires
	}

	if err := r.store.Claim(ctx, claim); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			r.logger.Debug("lock conflict", "order_id", orderID.String(), "current_holder", conflict.Holder)
			return nil, conflict
		}
		return nil, fmt.Errorf("cannot claim order %s: %w", orderID, err)
	}

	r.announce(ctx, event.EventLockClaimed, claim)
	return &Handle{registry: r, claim: claim}, nil
}

// AcquireAll claims every order or none. Orders are claimed in id order so
// two terminals racing for overlapping sets contend on the same first id.
func (r *Registry) AcquireAll(ctx context.Context, orderIDs []uuid.UUID, purpose string) ([]*Handle, error) {
	ids := uniqueSorted(orderIDs)
	handles := make([]*Handle, 0, len(ids))

	for _, id := range ids {
		h, err := r.Acquire(ctx, id, purpose)
		if err != nil {
			ReleaseAll(context.WithoutCancel(ctx), handles)
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// ReleaseHeld drops claims this holder left behind, e.g. after a crash.
func (r *Registry) ReleaseHeld(ctx context.Context) (int, error) {
	claims, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("cannot list claims: %w", err)
	}

	released := 0
	for _, c := range claims {
		if c.Holder != r.holder {
			continue
		}
		ok, err := r.store.Release(ctx, c)
		if err != nil {
			return released, fmt.Errorf("cannot release stale claim on %s: %w", c.OrderID, err)
		}
		if !ok {
			continue
		}
		r.announce(ctx, event.EventLockReleased, c)
		released++
	}
	return released, nil
}

// Start releases stale claims of this holder when the service boots.
func (r *Registry) Start(ctx context.Context) error {
	n, err := r.ReleaseHeld(ctx)
	if err != nil {
		r.logger.Info("stale lock cleanup failed", "error", err)
		return nil
	}
	if n > 0 {
		r.logger.Info("released stale locks", "count", n)
	}
	return nil
}

// Clear removes a claim regardless of holder. It is the manual escape hatch
// for orders left locked by a terminal that never came back.
func (r *Registry) Clear(ctx context.Context, orderID uuid.UUID) (*Claim, error) {
	current, err := r.store.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("cannot read claim on %s: %w", orderID, err)
	}
	if current == nil {
		return nil, nil
	}
	if err := r.store.Clear(ctx, orderID); err != nil {
		return nil, fmt.Errorf("cannot clear claim on %s: %w", orderID, err)
	}

	r.logger.Info("lock cleared", "order_id", orderID.String(), "previous_holder", current.Holder)
	r.announce(ctx, event.EventLockCleared, *current)
	return current, nil
}

func (r *Registry) Claims(ctx context.Context) ([]Claim, error) {
	return r.store.List(ctx)
}

func (r *Registry) HolderOf(ctx context.Context, orderID uuid.UUID) (string, error) {
	c, err := r.store.Get(ctx, orderID)
	if err != nil || c == nil {
		return "", err
	}
	return c.Holder, nil
}

func (r *Registry) release(ctx context.Context, c Claim) error {
	ok, err := r.store.Release(ctx, c)
	if err != nil {
		return fmt.Errorf("cannot release order %s: %w", c.OrderID, err)
	}
	if !ok {
		// Expired and reclaimed, or cleared by an operator.
		r.logger.Debug("claim already gone", "order_id", c.OrderID.String(), "purpose", c.Purpose)
		return nil
	}
	r.announce(ctx, event.EventLockReleased, c)
	return nil
}

func (r *Registry) announce(ctx context.Context, eventType string, c Claim) {
	if r.publisher == nil {
		return
	}

	evt := event.LockEvent{
		EventType:  eventType,
		OrderID:    c.OrderID.String(),
		Holder:     c.Holder,
		Purpose:    c.Purpose,
		ExpiresAt:  c.ExpiresAt,
		OccurredAt: r.now().UTC(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		r.logger.Error("cannot encode lock event", "error", err)
		return
	}
	if err := r.publisher.Publish(ctx, event.OrderLocksTopic, payload); err != nil {
		r.logger.Info("cannot publish lock event", "order_id", evt.OrderID, "error", err)
	}
}

// Handle is the caller's proof of a claim. Release is safe to call more
// than once and from deferred cleanup.
type Handle struct {
	registry *Registry
	claim    Claim
	once     sync.Once
	err      error
}

func (h *Handle) OrderID() uuid.UUID {
	return h.claim.OrderID
}

func (h *Handle) Claim() Claim {
	return h.claim
}

// Release drops the claim. It ignores cancellation of ctx so a cancelled
// action still frees the order.
func (h *Handle) Release(ctx context.Context) error {
	h.once.Do(func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		h.err = h.registry.release(rctx, h.claim)
		if h.err != nil {
			h.registry.logger.Error("lock release failed", "order_id", h.claim.OrderID.String(), "error", h.err)
		}
	})
	return h.err
}

// ReleaseAll releases every handle and returns the first error.
func ReleaseAll(ctx context.Context, handles []*Handle) error {
	var first error
	for _, h := range handles {
		if err := h.Release(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	result := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].String() < result[j].String()
	})
	return result
}
