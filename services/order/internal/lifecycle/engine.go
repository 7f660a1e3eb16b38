// Package lifecycle runs every order mutation through the same pipeline:
// claim the order, load it fresh, apply the change, persist it, announce it
// and release the claim on every exit path.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/appetiteclub/pos/pkg/event"
	"github.com/appetiteclub/pos/services/order/internal/lock"
	"github.com/appetiteclub/pos/services/order/internal/order"
	"github.com/appetiteclub/pos/services/order/internal/selection"
)

// Task mutates a freshly loaded order. Returning a nil order means nothing
// changed and nothing is persisted.
type Task func(ctx context.Context, o *order.Order) (*order.Order, error)

type EngineDeps struct {
	Repo      order.Repo
	Locks     *lock.Registry
	Numbers   order.Numberer
	Publisher events.Publisher
	Printer   Printer
	Notifier  VoidNotifier
}

type Engine struct {
	repo      order.Repo
	locks     *lock.Registry
	numbers   order.Numberer
	publisher events.Publisher
	printer   Printer
	notifier  VoidNotifier
	logger    apt.Logger
	now       func() time.Time
}

func NewEngine(deps EngineDeps, logger apt.Logger) *Engine {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Engine{
		repo:      deps.Repo,
		locks:     deps.Locks,
		numbers:   deps.Numbers,
		publisher: deps.Publisher,
		printer:   deps.Printer,
		notifier:  deps.Notifier,
		logger:    logger.With("component", "lifecycle-engine"),
		now:       time.Now,
	}
}

// LockAndModify claims orderID, runs task on a fresh copy and persists the
// result. The claim is released whether the task succeeds, fails, panics or
// the context is cancelled. Invalid state transitions yield nil, nil.
func (e *Engine) LockAndModify(ctx context.Context, orderID uuid.UUID, purpose string, task Task) (*order.Order, error) {
	handle, err := e.locks.Acquire(ctx, orderID, purpose)
	if err != nil {
		return nil, err
	}
	defer handle.Release(ctx)

	o, err := e.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	changed, err := task(ctx, o)
	if err != nil {
		if errors.Is(err, order.ErrInvalidTransition) {
			e.logger.Debug("no change", "order_id", orderID.String(), "purpose", purpose, "reason", err.Error())
			return nil, nil
		}
		return nil, err
	}
	if changed == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.persist(ctx, changed); err != nil {
		return nil, err
	}
	e.publishChange(ctx, event.EventOrderUpdated, changed)
	return changed, nil
}

func (e *Engine) load(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot load order %s: %w", id, err)
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (e *Engine) persist(ctx context.Context, o *order.Order) error {
	o.Revision++
	o.Recalculate()
	o.BeforeUpdate()
	if err := e.repo.Save(ctx, o); err != nil {
		e.logger.Error("cannot save order", "order_id", o.ID.String(), "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (e *Engine) publishChange(ctx context.Context, eventType string, o *order.Order) {
	if e.publisher == nil {
		return
	}

	evt := event.OrderChangedEvent{
		EventType:  eventType,
		OrderID:    o.ID.String(),
		Revision:   o.Revision,
		Status:     o.Status,
		Source:     e.locks.Holder(),
		OccurredAt: e.now().UTC(),
	}
	if o.TableID != nil {
		evt.TableID = o.TableID.String()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		e.logger.Error("cannot encode order change", "error", err)
		return
	}
	if err := e.publisher.Publish(ctx, event.OrderChangesTopic, payload); err != nil {
		e.logger.Info("cannot publish order change", "order_id", evt.OrderID, "error", err)
	}
}

// elevate asks for the elevated permission when any of itemIDs moved past
// new. It returns the approving employee, or nil when none was needed.
func (e *Engine) elevate(ctx context.Context, o *order.Order, itemIDs []uuid.UUID, p Prompter, kind PermissionKind) (*Employee, error) {
	if !o.NeedsElevation(itemIDs) {
		return nil, nil
	}
	return e.requirePermission(ctx, p, kind)
}

func (e *Engine) requirePermission(ctx context.Context, p Prompter, kind PermissionKind) (*Employee, error) {
	if p == nil {
		return nil, ErrPermissionDenied
	}
	emp, err := p.RequirePermission(ctx, kind)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, ErrPermissionDenied
	}
	return emp, nil
}

func (e *Engine) selectReason(ctx context.Context, p Prompter) (string, error) {
	if p == nil {
		return "", order.ErrReasonRequired
	}
	reason, err := p.SelectReason(ctx, DefaultVoidReasons)
	if err != nil {
		return "", err
	}
	if reason == "" {
		return "", ErrCancelled
	}
	return reason, nil
}

func (e *Engine) Reload(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return e.load(ctx, id)
}

// List returns every order, or the orders of one table.
func (e *Engine) List(ctx context.Context, tableID *uuid.UUID) ([]*order.Order, error) {
	if tableID != nil {
		return e.repo.ListByTable(ctx, *tableID)
	}
	return e.repo.List(ctx)
}

// ResolveTableOrder picks the open order of a table an action applies to.
// It returns nil, nil when the table has no open order.
func (e *Engine) ResolveTableOrder(ctx context.Context, tableID uuid.UUID, chooser selection.Chooser) (*order.Order, error) {
	orders, err := e.repo.ListByTable(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("cannot list orders of table %s: %w", tableID, err)
	}
	return selection.SelectOrder(ctx, chooser, selection.Open(orders))
}

type NewOrderRequest struct {
	StoreID           uuid.UUID       `json:"store_id"`
	EmployeeID        string          `json:"employee_id"`
	AreaID            uuid.UUID       `json:"area_id"`
	TableID           *uuid.UUID      `json:"table_id,omitempty"`
	GuestCount        int             `json:"guest_count"`
	TaxRate           float64         `json:"tax_rate"`
	ServiceFeeRate    float64         `json:"service_fee_rate"`
	ServiceFeeTaxRate float64         `json:"service_fee_tax_rate"`
	Discount          order.Discount  `json:"discount"`
	Customer          *order.Customer `json:"customer,omitempty"`
}

// NewOrder stores an empty order. It needs no claim since nobody else can
// know its id yet.
func (e *Engine) NewOrder(ctx context.Context, req NewOrderRequest) (*order.Order, error) {
	o := order.NewOrder(req.StoreID, req.EmployeeID)
	o.AreaID = req.AreaID
	o.TableID = req.TableID
	o.GuestCount = req.GuestCount
	o.TaxRate = req.TaxRate
	o.ServiceFeeRate = req.ServiceFeeRate
	o.ServiceFeeTaxRate = req.ServiceFeeTaxRate
	o.Discount = req.Discount
	o.Customer = req.Customer
	o.BeforeCreate()

	if err := e.repo.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	e.publishChange(ctx, event.EventOrderCreated, o)
	e.logger.Info("order created", "order_id", o.ID.String())
	return o, nil
}

// AddItem adds item to the order and returns the item now holding its units.
func (e *Engine) AddItem(ctx context.Context, orderID uuid.UUID, item *order.OrderItem) (*order.Order, *order.OrderItem, error) {
	var added *order.OrderItem
	o, err := e.LockAndModify(ctx, orderID, "add-item", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		var err error
		added, err = o.Add(item)
		if err != nil {
			return nil, err
		}
		return o, nil
	})
	if o == nil {
		added = nil
	}
	return o, added, err
}

func (e *Engine) AddOption(ctx context.Context, orderID, itemID uuid.UUID, modifier order.OrderModifier, opt order.ModifierOption, p Prompter) (*order.Order, error) {
	return e.LockAndModify(ctx, orderID, "add-option", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		if err := selection.PrepareForEdit(o, itemID); err != nil {
			return nil, err
		}
		emp, err := e.elevate(ctx, o, []uuid.UUID{itemID}, p, PermissionEditSent)
		if err != nil {
			return nil, err
		}
		if err := o.AddOption(itemID, modifier, opt, emp != nil); err != nil {
			return nil, err
		}
		return o, nil
	})
}

// EditItem releases the item from unpaid bills and applies edit.
func (e *Engine) EditItem(ctx context.Context, orderID, itemID uuid.UUID, edit order.ItemEdit, p Prompter) (*order.Order, error) {
	return e.LockAndModify(ctx, orderID, "edit-item", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		if err := selection.PrepareForEdit(o, itemID); err != nil {
			return nil, err
		}
		emp, err := e.elevate(ctx, o, []uuid.UUID{itemID}, p, PermissionEditSent)
		if err != nil {
			return nil, err
		}
		if err := o.EditItem(itemID, edit, emp != nil); err != nil {
			return nil, err
		}
		return o, nil
	})
}

func (e *Engine) Remove(ctx context.Context, orderID, itemID uuid.UUID, p Prompter) (*order.Order, error) {
	return e.VoidItems(ctx, orderID, []uuid.UUID{itemID}, p)
}

// VoidItems drops new items and voids sent ones. Voiding sent items asks for
// the elevated permission and a reason, and notifies the auditor afterwards.
func (e *Engine) VoidItems(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID, p Prompter) (*order.Order, error) {
	var notice *VoidNotice
	o, err := e.LockAndModify(ctx, orderID, "void-items", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		emp, err := e.elevate(ctx, o, itemIDs, p, PermissionVoid)
		if err != nil {
			return nil, err
		}

		reason, by := "", o.EmployeeID
		if emp != nil {
			by = emp.ID
			if reason, err = e.selectReason(ctx, p); err != nil {
				return nil, err
			}
		}

		voided, err := o.Void(itemIDs, reason, by, emp != nil)
		if err != nil {
			return nil, err
		}
		if len(voided) == 0 {
			return nil, nil
		}
		if reason != "" {
			notice = &VoidNotice{Order: o, Employee: by, Reason: reason, Items: voided, Amount: voidedAmount(voided)}
		}
		return o, nil
	})
	if err == nil && o != nil && notice != nil {
		e.notifyVoid(ctx, *notice)
	}
	return o, err
}

// VoidOrder voids the whole order.
func (e *Engine) VoidOrder(ctx context.Context, orderID uuid.UUID, p Prompter) (*order.Order, error) {
	var notice *VoidNotice
	o, err := e.LockAndModify(ctx, orderID, "void-order", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		ids := make([]uuid.UUID, 0, len(o.Items))
		for _, item := range o.Items {
			ids = append(ids, item.ID)
		}

		emp, err := e.elevate(ctx, o, ids, p, PermissionVoid)
		if err != nil {
			return nil, err
		}
		reason, by := "", o.EmployeeID
		if emp != nil {
			by = emp.ID
			if reason, err = e.selectReason(ctx, p); err != nil {
				return nil, err
			}
		}

		active := o.ActiveItems()
		if err := o.VoidOrder(reason, by, emp != nil); err != nil {
			return nil, err
		}
		notice = &VoidNotice{Order: o, Employee: by, Reason: reason, Items: active, Amount: voidedAmount(active)}
		return o, nil
	})
	if err == nil && o != nil && notice != nil {
		e.notifyVoid(ctx, *notice)
	}
	return o, err
}

func (e *Engine) notifyVoid(ctx context.Context, notice VoidNotice) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.OrderVoided(ctx, notice); err != nil {
		e.logger.Info("cannot send void notice", "order_id", notice.Order.ID.String(), "error", err)
	}
}

func voidedAmount(items []*order.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitTotal().Mul(decimal.NewFromInt(int64(item.Count))))
	}
	return total
}

type ToggleField string

const (
	ToggleTogo ToggleField = "togo"
	ToggleHold ToggleField = "hold"
)

// Toggle flips field on itemIDs, or on the items matching filter when no ids
// are given. The filter is evaluated on the fresh copy under the claim.
func (e *Engine) Toggle(ctx context.Context, orderID uuid.UUID, field ToggleField, filter selection.Filter, itemIDs []uuid.UUID) (*order.Order, error) {
	return e.LockAndModify(ctx, orderID, "toggle-"+string(field), func(ctx context.Context, o *order.Order) (*order.Order, error) {
		ids := itemIDs
		if len(ids) == 0 {
			ids = selection.ApplyFilter(o, filter)
		}

		var changed int
		switch field {
		case ToggleTogo:
			changed = o.ToggleTogo(ids)
		case ToggleHold:
			changed = o.ToggleHold(ids)
		default:
			return nil, fmt.Errorf("unknown toggle %q", field)
		}
		if changed == 0 {
			return nil, nil
		}
		return o, nil
	})
}

// ApplyFilter reads the order without claiming it.
func (e *Engine) ApplyFilter(ctx context.Context, orderID uuid.UUID, filter selection.Filter) ([]uuid.UUID, error) {
	o, err := e.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return selection.ApplyFilter(o, filter), nil
}

// Send submits the pending items. With print set only the items the printer
// accepted are submitted. The first send assigns the visible order number.
func (e *Engine) Send(ctx context.Context, orderID uuid.UUID, print bool) (*order.Order, []*order.OrderItem, error) {
	var sent []*order.OrderItem
	o, err := e.LockAndModify(ctx, orderID, "send", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		pending := o.PendingSend()
		if len(pending) == 0 {
			return nil, nil
		}

		if o.Number == 0 && e.numbers != nil {
			n, err := e.numbers.Next(ctx, o.StoreID)
			if err != nil {
				return nil, fmt.Errorf("cannot assign order number: %w", err)
			}
			o.Number = n
		}

		if print && e.printer != nil {
			printed, err := e.printer.Print(ctx, o, pending, PrintKitchen)
			if err != nil {
				return nil, fmt.Errorf("cannot print kitchen ticket: %w", err)
			}
			pending = printed
		}

		ids := make([]uuid.UUID, 0, len(pending))
		for _, item := range pending {
			ids = append(ids, item.ID)
		}
		sent = o.Send(ids, e.now())
		if len(sent) == 0 {
			return nil, nil
		}
		return o, nil
	})
	if o == nil {
		sent = nil
	}
	return o, sent, err
}

// Resend reprints already submitted items. The order itself does not change.
func (e *Engine) Resend(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID) ([]*order.OrderItem, error) {
	if e.printer == nil {
		return nil, nil
	}

	var printed []*order.OrderItem
	_, err := e.LockAndModify(ctx, orderID, "resend", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		var items []*order.OrderItem
		for _, id := range itemIDs {
			item := o.Item(id)
			if item != nil && item.Submitted && !item.Voided {
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			return nil, nil
		}

		var err error
		printed, err = e.printer.Print(ctx, o, items, PrintResend)
		return nil, err
	})
	return printed, err
}

// Checkout bills every unbilled unit. It returns nil order and bill when
// nothing was left to bill.
func (e *Engine) Checkout(ctx context.Context, orderID uuid.UUID, name string) (*order.Order, *order.Bill, error) {
	var bill *order.Bill
	o, err := e.LockAndModify(ctx, orderID, "checkout", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		var err error
		bill, err = o.Checkout(name)
		if err != nil || bill == nil {
			return nil, err
		}
		return o, nil
	})
	if o == nil {
		bill = nil
	}
	return o, bill, err
}

// Unbill removes the unpaid bills claiming forItem, or every unpaid bill.
func (e *Engine) Unbill(ctx context.Context, orderID uuid.UUID, forItem *uuid.UUID) (*order.Order, error) {
	return e.LockAndModify(ctx, orderID, "unbill", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		removed, err := selection.Unbill(o, forItem)
		if err != nil {
			return nil, err
		}
		if len(removed) == 0 {
			return nil, nil
		}
		return o, nil
	})
}

func (e *Engine) PrintCheck(ctx context.Context, orderID, billID uuid.UUID) (*order.Order, error) {
	return e.LockAndModify(ctx, orderID, "print-check", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		bill := o.Bill(billID)
		if bill == nil {
			return nil, order.ErrBillNotFound
		}
		if e.printer != nil {
			if err := e.printer.PrintCheck(ctx, o, bill); err != nil {
				return nil, fmt.Errorf("cannot print check: %w", err)
			}
		}
		if err := o.MarkPrinted(billID, e.now()); err != nil {
			return nil, err
		}
		return o, nil
	})
}

func (e *Engine) Pay(ctx context.Context, orderID, billID uuid.UUID, payment order.Payment) (*order.Order, *order.Transaction, error) {
	var tx *order.Transaction
	o, err := e.LockAndModify(ctx, orderID, "pay", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		var err error
		tx, err = o.Pay(billID, payment)
		if err != nil {
			return nil, err
		}
		return o, nil
	})
	if o == nil {
		tx = nil
	}
	return o, tx, err
}

// VoidTransaction reverses a payment on an unsettled bill. It always needs the
// elevated permission.
func (e *Engine) VoidTransaction(ctx context.Context, orderID, txID uuid.UUID, p Prompter) (*order.Order, error) {
	return e.LockAndModify(ctx, orderID, "void-transaction", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		emp, err := e.requirePermission(ctx, p, PermissionRefund)
		if err != nil {
			return nil, err
		}
		if _, err := o.VoidTransaction(txID, emp.ID); err != nil {
			return nil, err
		}
		return o, nil
	})
}

func (e *Engine) MoveTo(ctx context.Context, orderID, areaID uuid.UUID, tableID *uuid.UUID) (*order.Order, error) {
	return e.LockAndModify(ctx, orderID, "move", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		if err := o.MoveTo(areaID, tableID); err != nil {
			return nil, err
		}
		return o, nil
	})
}

// CombineWith folds orderID into targetID.
func (e *Engine) CombineWith(ctx context.Context, orderID, targetID uuid.UUID) (*order.Order, error) {
	return e.Merge(ctx, []uuid.UUID{targetID, orderID})
}

// Merge claims every order, folds orders[1:] into orders[0] and deletes the
// sources. Nothing changes when any order is claimed elsewhere.
func (e *Engine) Merge(ctx context.Context, orderIDs []uuid.UUID) (*order.Order, error) {
	ids := distinct(orderIDs)
	if len(ids) < 2 {
		return nil, ErrMergeTooFew
	}

	handles, err := e.locks.AcquireAll(ctx, ids, "merge")
	if err != nil {
		return nil, err
	}
	defer lock.ReleaseAll(ctx, handles)

	orders := make([]*order.Order, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			o, err := e.load(gctx, id)
			orders[i] = o
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	target, sources := orders[0], orders[1:]
	if err := target.Absorb(sources...); err != nil {
		if errors.Is(err, order.ErrInvalidTransition) {
			e.logger.Debug("merge skipped", "order_id", target.ID.String(), "reason", err.Error())
			return nil, nil
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.persist(ctx, target); err != nil {
		return nil, err
	}
	for _, src := range sources {
		if err := e.repo.Delete(ctx, src.ID); err != nil {
			e.logger.Error("cannot delete merged order", "order_id", src.ID.String(), "error", err)
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		e.publishChange(ctx, event.EventOrderDeleted, src)
	}
	e.publishChange(ctx, event.EventOrderUpdated, target)

	e.logger.Info("orders merged", "order_id", target.ID.String(), "sources", len(sources))
	return target, nil
}

func (e *Engine) Close(ctx context.Context, orderID uuid.UUID, by string) (*order.Order, error) {
	return e.LockAndModify(ctx, orderID, "close", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		if err := o.Close(by, e.now()); err != nil {
			return nil, err
		}
		return o, nil
	})
}

// Abandon deletes an order that never got a number and holds no items. It
// reports whether the order was deleted.
func (e *Engine) Abandon(ctx context.Context, orderID uuid.UUID) (bool, error) {
	handle, err := e.locks.Acquire(ctx, orderID, "abandon")
	if err != nil {
		return false, err
	}
	defer handle.Release(ctx)

	o, err := e.load(ctx, orderID)
	if err != nil {
		return false, err
	}
	if !o.Abandonable() {
		return false, nil
	}

	if err := e.repo.Delete(ctx, orderID); err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	e.publishChange(ctx, event.EventOrderDeleted, o)
	e.logger.Info("order abandoned", "order_id", orderID.String())
	return true, nil
}

func (e *Engine) Locks(ctx context.Context) ([]lock.Claim, error) {
	return e.locks.Claims(ctx)
}

// ClearLock removes a claim left by a terminal that never came back.
func (e *Engine) ClearLock(ctx context.Context, orderID uuid.UUID) (*lock.Claim, error) {
	return e.locks.Clear(ctx, orderID)
}

func distinct(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	result := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	return result
}
