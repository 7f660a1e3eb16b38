package selection

import (
	"context"

	"github.com/appetiteclub/pos/services/order/internal/order"
)

// MockChooser is a mock implementation of Chooser for testing
type MockChooser struct {
	Calls           int
	ChooseOrderFunc func(ctx context.Context, candidates []*order.Order) (*order.Order, error)
}

func (m *MockChooser) ChooseOrder(ctx context.Context, candidates []*order.Order) (*order.Order, error) {
	m.Calls++
	if m.ChooseOrderFunc != nil {
		return m.ChooseOrderFunc(ctx, candidates)
	}
	return nil, nil
}
