package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the shared backing of the registry. Implementations must make
// Claim atomic across every process that shares the store.
type Store interface {
	// Claim records c unless a live claim exists for the same order, in which
	// case it returns a *ConflictError naming the current holder.
	Claim(ctx context.Context, c Claim) error
	// Release removes c only while it is still the current claim on its
	// order, matched by holder and token. It reports whether it removed it.
	Release(ctx context.Context, c Claim) (bool, error)
	// Clear removes the claim on orderID whoever holds it.
	Clear(ctx context.Context, orderID uuid.UUID) error
	Get(ctx context.Context, orderID uuid.UUID) (*Claim, error)
	List(ctx context.Context) ([]Claim, error)
}

// MemoryStore keeps claims in process memory. It serves tests and
// single-terminal deployments.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[uuid.UUID]Claim
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims: make(map[uuid.UUID]Claim),
		now:    time.Now,
	}
}

func (s *MemoryStore) Claim(ctx context.Context, c Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.claims[c.OrderID]; ok && current.Live(s.now()) {
		return conflictWith(&current)
	}
	s.claims[c.OrderID] = c
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, c Claim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.claims[c.OrderID]
	if !ok || !current.Same(c) {
		return false, nil
	}
	delete(s.claims, c.OrderID)
	return true, nil
}

func (s *MemoryStore) Clear(ctx context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claims, orderID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, orderID uuid.UUID) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.claims[orderID]
	if !ok || !current.Live(s.now()) {
		return nil, nil
	}
	return &current, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	result := make([]Claim, 0, len(s.claims))
	for _, c := range s.claims {
		if c.Live(now) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ClaimedAt.Before(result[j].ClaimedAt)
	})
	return result, nil
}
