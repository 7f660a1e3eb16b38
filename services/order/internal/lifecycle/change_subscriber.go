package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/google/uuid"

	"github.com/appetiteclub/pos/pkg/event"
)

// OrderChangeSubscriber keeps an OrderViewCache in step with the change
// notifications and lock announcements of every terminal.
type OrderChangeSubscriber struct {
	changes events.Subscriber
	locks   events.Subscriber
	cache   *OrderViewCache
	logger  apt.Logger
}

// NewOrderChangeSubscriber listens for changes on changes and for lock
// announcements on locks. Both may be the same subscriber.
func NewOrderChangeSubscriber(changes, locks events.Subscriber, cache *OrderViewCache, logger apt.Logger) *OrderChangeSubscriber {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &OrderChangeSubscriber{
		changes: changes,
		locks:   locks,
		cache:   cache,
		logger:  logger,
	}
}

func (s *OrderChangeSubscriber) Start(ctx context.Context) error {
	s.logger.Info("starting order change subscriber", "topic", event.OrderChangesTopic)
	if s.cache != nil {
		if err := s.cache.Warm(ctx); err != nil {
			s.logger.Info("order cache warmup failed", "error", err)
		}
	}
	if s.changes == nil {
		return fmt.Errorf("order change subscriber not configured")
	}
	if err := s.changes.Subscribe(ctx, event.OrderChangesTopic, s.handleChange); err != nil {
		return err
	}
	if s.locks == nil {
		return nil
	}
	return s.locks.Subscribe(ctx, event.OrderLocksTopic, s.handleLock)
}

func (s *OrderChangeSubscriber) handleChange(ctx context.Context, msg []byte) error {
	var evt event.OrderChangedEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Info("invalid order change event", "error", err)
		return nil
	}

	id, err := uuid.Parse(evt.OrderID)
	if err != nil {
		s.logger.Info("invalid order id in event", "order_id", evt.OrderID)
		return nil
	}

	if evt.EventType == event.EventOrderDeleted {
		s.cache.Remove(id)
		s.logger.Debug("order removed from view", "order_id", id.String())
		return nil
	}

	if cached, ok := s.cache.Get(id); ok && cached.Revision >= evt.Revision && evt.EventType != event.EventOrderCreated {
		return nil
	}
	if _, err := s.cache.Refresh(ctx, id); err != nil {
		s.logger.Info("cannot refresh order view", "order_id", id.String(), "error", err)
		return err
	}
	s.logger.Debug("order view refreshed", "order_id", id.String(), "revision", evt.Revision)
	return nil
}

func (s *OrderChangeSubscriber) handleLock(ctx context.Context, msg []byte) error {
	var evt event.LockEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Info("invalid lock event", "error", err)
		return nil
	}

	id, err := uuid.Parse(evt.OrderID)
	if err != nil {
		s.logger.Info("invalid order id in lock event", "order_id", evt.OrderID)
		return nil
	}

	switch evt.EventType {
	case event.EventLockClaimed:
		s.cache.SetHolder(id, evt.Holder)
	case event.EventLockReleased, event.EventLockCleared:
		s.cache.SetHolder(id, "")
	}
	return nil
}
