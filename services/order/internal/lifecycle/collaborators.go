package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/pos/pkg/event"
	"github.com/appetiteclub/pos/services/order/internal/order"
	"github.com/appetiteclub/pos/services/order/internal/selection"
)

type PrintKind string

const (
	PrintKitchen PrintKind = "kitchen"
	PrintResend  PrintKind = "resend"
)

// Printer renders kitchen tickets and guest checks. Print returns the items
// that actually reached a printer.
type Printer interface {
	Print(ctx context.Context, o *order.Order, items []*order.OrderItem, kind PrintKind) ([]*order.OrderItem, error)
	PrintCheck(ctx context.Context, o *order.Order, bill *order.Bill) error
}

type PermissionKind string

const (
	PermissionEditSent PermissionKind = "edit_sent"
	PermissionVoid     PermissionKind = "void"
	PermissionRefund   PermissionKind = "refund"
)

type Employee struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Prompter collects operator input while an order is locked.
// SelectReason returns "" and RequirePermission returns nil when the
// operator backs out.
type Prompter interface {
	selection.Chooser
	SelectReason(ctx context.Context, candidates []string) (string, error)
	RequirePermission(ctx context.Context, kind PermissionKind) (*Employee, error)
}

var DefaultVoidReasons = []string{
	"Customer changed mind",
	"Wrong item",
	"Kitchen error",
	"Long wait",
	"Manager comp",
}

// VoidNotice describes a completed void for auditing.
type VoidNotice struct {
	Order    *order.Order
	Employee string
	Reason   string
	Items    []*order.OrderItem
	Amount   decimal.Decimal
}

type VoidNotifier interface {
	OrderVoided(ctx context.Context, notice VoidNotice) error
}

// PrintPublisher hands print jobs to printer stations over the event bus.
type PrintPublisher struct {
	publisher events.Publisher
	logger    apt.Logger
}

func NewPrintPublisher(publisher events.Publisher, logger apt.Logger) *PrintPublisher {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &PrintPublisher{publisher: publisher, logger: logger}
}

func (p *PrintPublisher) Print(ctx context.Context, o *order.Order, items []*order.OrderItem, kind PrintKind) ([]*order.OrderItem, error) {
	var printable []*order.OrderItem
	for _, item := range items {
		if item.Voided || item.Hold {
			continue
		}
		printable = append(printable, item)
	}
	if len(printable) == 0 {
		return nil, nil
	}

	job := p.job(o, event.EventPrintKitchen)
	for _, item := range printable {
		job.Lines = append(job.Lines, printLine(item, item.Count))
	}
	if kind == PrintResend {
		for i := range job.Lines {
			job.Lines[i].Notes = joinNotes("RESEND", job.Lines[i].Notes)
		}
	}

	if err := p.send(ctx, job); err != nil {
		return nil, err
	}
	p.logger.Debug("kitchen ticket queued", "order_id", o.ID.String(), "items", len(printable), "kind", string(kind))
	return printable, nil
}

func (p *PrintPublisher) PrintCheck(ctx context.Context, o *order.Order, bill *order.Bill) error {
	job := p.job(o, event.EventPrintCheck)
	job.BillID = bill.ID.String()
	job.Total = order.Display(bill.Totals.Total).StringFixed(2)
	for _, line := range bill.Lines {
		item := o.Item(line.ItemID)
		if item == nil || item.Voided {
			continue
		}
		job.Lines = append(job.Lines, printLine(item, line.Quantity))
	}
	return p.send(ctx, job)
}

func (p *PrintPublisher) job(o *order.Order, eventType string) event.PrintJob {
	job := event.PrintJob{
		EventType:   eventType,
		OrderID:     o.ID.String(),
		OrderNumber: o.Number,
		OccurredAt:  time.Now().UTC(),
	}
	if o.TableID != nil {
		job.TableID = o.TableID.String()
	}
	return job
}

func (p *PrintPublisher) send(ctx context.Context, job event.PrintJob) error {
	if p.publisher == nil {
		return fmt.Errorf("no printer configured")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("cannot encode print job: %w", err)
	}
	if err := p.publisher.Publish(ctx, event.OrderPrintTopic, payload); err != nil {
		return fmt.Errorf("cannot publish print job: %w", err)
	}
	return nil
}

func printLine(item *order.OrderItem, quantity int) event.PrintJobLine {
	line := event.PrintJobLine{
		ItemID:   item.ID.String(),
		Name:     item.Name,
		Quantity: quantity,
		Togo:     item.Togo,
		Notes:    item.Notes,
	}
	for _, m := range item.Modifiers {
		for _, opt := range m.Options {
			line.Options = append(line.Options, opt.Name)
		}
	}
	return line
}

func joinNotes(prefix, notes string) string {
	if notes == "" {
		return prefix
	}
	return prefix + ": " + notes
}

// VoidPublisher sends void audit notices to the mailer over the event bus.
type VoidPublisher struct {
	publisher events.Publisher
}

func NewVoidPublisher(publisher events.Publisher) *VoidPublisher {
	return &VoidPublisher{publisher: publisher}
}

func (p *VoidPublisher) OrderVoided(ctx context.Context, notice VoidNotice) error {
	if p.publisher == nil {
		return nil
	}

	evt := event.OrderVoidedEvent{
		EventType:   event.EventItemsVoided,
		OrderID:     notice.Order.ID.String(),
		OrderNumber: notice.Order.Number,
		StoreID:     notice.Order.StoreID.String(),
		EmployeeID:  notice.Employee,
		Reason:      notice.Reason,
		Amount:      order.Display(notice.Amount).StringFixed(2),
		OccurredAt:  time.Now().UTC(),
	}
	if notice.Order.IsFinal() {
		evt.EventType = event.EventOrderVoided
	}
	for _, item := range notice.Items {
		evt.Items = append(evt.Items, item.ID.String())
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("cannot encode void notice: %w", err)
	}
	return p.publisher.Publish(ctx, event.OrderVoidsTopic, payload)
}

// requestPrompter answers prompts from values carried by an HTTP request.
type requestPrompter struct {
	reason     string
	approvedBy string
	orderID    *uuid.UUID
}

func (p requestPrompter) SelectReason(ctx context.Context, candidates []string) (string, error) {
	if p.reason == "" {
		return "", order.ErrReasonRequired
	}
	return p.reason, nil
}

func (p requestPrompter) RequirePermission(ctx context.Context, kind PermissionKind) (*Employee, error) {
	if p.approvedBy == "" {
		return nil, nil
	}
	return &Employee{ID: p.approvedBy}, nil
}

func (p requestPrompter) ChooseOrder(ctx context.Context, candidates []*order.Order) (*order.Order, error) {
	if p.orderID == nil {
		return nil, selection.ErrAmbiguous
	}
	for _, c := range candidates {
		if c.ID == *p.orderID {
			return c, nil
		}
	}
	return nil, nil
}
