package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/appetiteclub/apt/events"
	"github.com/google/uuid"

	"github.com/appetiteclub/pos/services/order/internal/order"
)

// MockPublisher is a mock implementation of events.Publisher for testing
type MockPublisher struct {
	mu          sync.Mutex
	Messages    map[string][][]byte
	PublishFunc func(ctx context.Context, topic string, msg []byte) error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{Messages: make(map[string][][]byte)}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	m.mu.Lock()
	m.Messages[topic] = append(m.Messages[topic], msg)
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, msg)
	}
	return nil
}

func (m *MockPublisher) Count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages[topic])
}

// MockSubscriber is a mock implementation of events.Subscriber for testing
type MockSubscriber struct {
	mu            sync.Mutex
	Handlers      map[string]events.HandlerFunc
	SubscribeFunc func(ctx context.Context, topic string, handler events.HandlerFunc) error
}

func NewMockSubscriber() *MockSubscriber {
	return &MockSubscriber{Handlers: make(map[string]events.HandlerFunc)}
}

func (m *MockSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, topic, handler)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[topic] = handler
	return nil
}

func (m *MockSubscriber) Deliver(ctx context.Context, topic string, msg []byte) error {
	m.mu.Lock()
	handler, ok := m.Handlers[topic]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler for %s", topic)
	}
	return handler(ctx, msg)
}

// MockOrderRepo is an in-memory order.Repo that hands out deep copies and
// enforces the revision check on Save, like the Mongo repository.
type MockOrderRepo struct {
	mu         sync.RWMutex
	orders     map[uuid.UUID][]byte
	Saves      int
	CreateFunc func(ctx context.Context, o *order.Order) error
	GetFunc    func(ctx context.Context, id uuid.UUID) (*order.Order, error)
	SaveFunc   func(ctx context.Context, o *order.Order) error
	DeleteFunc func(ctx context.Context, id uuid.UUID) error
}

func NewMockOrderRepo() *MockOrderRepo {
	return &MockOrderRepo{orders: make(map[uuid.UUID][]byte)}
}

func (m *MockOrderRepo) put(o *order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	m.orders[o.ID] = data
	return nil
}

func (m *MockOrderRepo) copyOf(id uuid.UUID) (*order.Order, error) {
	data, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (m *MockOrderRepo) Create(ctx context.Context, o *order.Order) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	return m.put(o)
}

func (m *MockOrderRepo) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyOf(id)
}

func (m *MockOrderRepo) List(ctx context.Context) ([]*order.Order, error) {
	return m.filter(func(o *order.Order) bool { return true })
}

func (m *MockOrderRepo) ListByTable(ctx context.Context, tableID uuid.UUID) ([]*order.Order, error) {
	return m.filter(func(o *order.Order) bool { return o.TableID != nil && *o.TableID == tableID })
}

func (m *MockOrderRepo) ListByStatus(ctx context.Context, status string) ([]*order.Order, error) {
	return m.filter(func(o *order.Order) bool { return o.Status == status })
}

func (m *MockOrderRepo) filter(keep func(o *order.Order) bool) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*order.Order
	for id := range m.orders {
		o, err := m.copyOf(id)
		if err != nil {
			return nil, err
		}
		if keep(o) {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MockOrderRepo) Save(ctx context.Context, o *order.Order) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, err := m.copyOf(o.ID)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("order not found")
	}
	if stored.Revision != o.Revision-1 {
		return order.ErrStaleRevision
	}
	m.Saves++
	return m.put(o)
}

func (m *MockOrderRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return fmt.Errorf("order not found")
	}
	delete(m.orders, id)
	return nil
}

// Stored returns a copy of the stored order, or nil.
func (m *MockOrderRepo) Stored(id uuid.UUID) *order.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, _ := m.copyOf(id)
	return o
}

// MockNumberer is a mock implementation of order.Numberer for testing
type MockNumberer struct {
	mu       sync.Mutex
	next     int
	NextFunc func(ctx context.Context, storeID uuid.UUID) (int, error)
}

func (m *MockNumberer) Next(ctx context.Context, storeID uuid.UUID) (int, error) {
	if m.NextFunc != nil {
		return m.NextFunc(ctx, storeID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return m.next, nil
}

// MockPrinter is a mock implementation of Printer for testing
type MockPrinter struct {
	mu             sync.Mutex
	Printed        [][]*order.OrderItem
	Checks         []uuid.UUID
	PrintFunc      func(ctx context.Context, o *order.Order, items []*order.OrderItem, kind PrintKind) ([]*order.OrderItem, error)
	PrintCheckFunc func(ctx context.Context, o *order.Order, bill *order.Bill) error
}

func (m *MockPrinter) Print(ctx context.Context, o *order.Order, items []*order.OrderItem, kind PrintKind) ([]*order.OrderItem, error) {
	if m.PrintFunc != nil {
		return m.PrintFunc(ctx, o, items, kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Printed = append(m.Printed, items)
	return items, nil
}

func (m *MockPrinter) PrintCheck(ctx context.Context, o *order.Order, bill *order.Bill) error {
	if m.PrintCheckFunc != nil {
		return m.PrintCheckFunc(ctx, o, bill)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Checks = append(m.Checks, bill.ID)
	return nil
}

// MockPrompter is a mock implementation of Prompter for testing
type MockPrompter struct {
	Reason                string
	Approver              *Employee
	Choice                *order.Order
	PermissionCalls       int
	ReasonCalls           int
	SelectReasonFunc      func(ctx context.Context, candidates []string) (string, error)
	RequirePermissionFunc func(ctx context.Context, kind PermissionKind) (*Employee, error)
}

func (m *MockPrompter) SelectReason(ctx context.Context, candidates []string) (string, error) {
	m.ReasonCalls++
	if m.SelectReasonFunc != nil {
		return m.SelectReasonFunc(ctx, candidates)
	}
	return m.Reason, nil
}

func (m *MockPrompter) RequirePermission(ctx context.Context, kind PermissionKind) (*Employee, error) {
	m.PermissionCalls++
	if m.RequirePermissionFunc != nil {
		return m.RequirePermissionFunc(ctx, kind)
	}
	return m.Approver, nil
}

func (m *MockPrompter) ChooseOrder(ctx context.Context, candidates []*order.Order) (*order.Order, error) {
	return m.Choice, nil
}

// MockNotifier is a mock implementation of VoidNotifier for testing
type MockNotifier struct {
	mu      sync.Mutex
	Notices []VoidNotice
}

func (m *MockNotifier) OrderVoided(ctx context.Context, notice VoidNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notices = append(m.Notices, notice)
	return nil
}
