// Package selection turns an operator's intent into a concrete target before
// the lifecycle engine runs: which order on a table, which items of an order,
// and which bills must be released before an item can be edited.
package selection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/appetiteclub/pos/pkg/enums/itemstatus"
	"github.com/appetiteclub/pos/services/order/internal/order"
)

var (
	// ErrCancelled aborts the whole action when the operator backs out of a choice.
	ErrCancelled = errors.New("action cancelled by operator")
	// ErrAmbiguous means several orders match and nobody chose one.
	ErrAmbiguous = errors.New("several orders match, a choice is required")
	// ErrStaleBill means an unpaid bill still claims the item after unbilling.
	ErrStaleBill = errors.New("item is still claimed by an unpaid bill")
)

// Chooser asks a human to pick one order. Returning nil, nil means the
// operator cancelled.
type Chooser interface {
	ChooseOrder(ctx context.Context, candidates []*order.Order) (*order.Order, error)
}

// SelectOrder resolves the target order among candidates. No candidates is a
// no-op, one is chosen automatically, and more than one asks the chooser.
func SelectOrder(ctx context.Context, chooser Chooser, candidates []*order.Order) (*order.Order, error) {
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return candidates[0], nil
	}

	if chooser == nil {
		return nil, ErrAmbiguous
	}

	chosen, err := chooser.ChooseOrder(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if chosen == nil {
		return nil, ErrCancelled
	}

	for _, c := range candidates {
		if c.ID == chosen.ID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("order %s is not among the candidates: %w", chosen.ID, ErrCancelled)
}

// Open keeps the orders that still accept changes.
func Open(orders []*order.Order) []*order.Order {
	var open []*order.Order
	for _, o := range orders {
		if !o.IsFinal() {
			open = append(open, o)
		}
	}
	return open
}

type Filter string

const (
	FilterNone Filter = "none"
	FilterAll  Filter = "all"
	FilterNew  Filter = "new"
	FilterSent Filter = "sent"
)

func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case FilterNone, FilterAll, FilterNew, FilterSent:
		return f, nil
	case "":
		return FilterNone, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

// ApplyFilter returns the ids of the items matching f, in order position.
//   - none: nothing
//   - all: every item that is neither voided, paid nor billed
//   - new: items not sent yet
//   - sent: items submitted and not billed yet
func ApplyFilter(o *order.Order, f Filter) []uuid.UUID {
	var ids []uuid.UUID
	for _, item := range o.Items {
		if matches(item, f) {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

func matches(item *order.OrderItem, f Filter) bool {
	status := item.Status()
	switch f {
	case FilterAll:
		return !item.Voided && !item.HasPayment() && item.BilledCount == 0
	case FilterNew:
		return status == itemstatus.Statuses.New.Code()
	case FilterSent:
		return status == itemstatus.Statuses.Submitted.Code()
	default:
		return false
	}
}

// Unbill removes the unpaid bills that claim forItem, or every unpaid bill
// when forItem is nil, and checks that no unpaid bill still claims it.
func Unbill(o *order.Order, forItem *uuid.UUID) ([]*order.Bill, error) {
	removed := o.Unbill(forItem)

	for _, bill := range o.UnpaidBills() {
		if forItem == nil || bill.References(*forItem) {
			return removed, ErrStaleBill
		}
	}
	return removed, nil
}

// PrepareForEdit frees an item for re-selection or modification. An item
// with any paid unit stays locked to its bill.
func PrepareForEdit(o *order.Order, itemID uuid.UUID) error {
	item := o.Item(itemID)
	if item == nil {
		return order.ErrItemNotFound
	}
	if item.HasPayment() {
		return order.ErrItemPaid
	}

	if _, err := Unbill(o, &itemID); err != nil {
		return err
	}
	if item.BilledCount > 0 {
		return ErrStaleBill
	}
	return nil
}
