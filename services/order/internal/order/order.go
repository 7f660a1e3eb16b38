package order

import (
	"strconv"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/pos/pkg/enums/orderstatus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is one dining or delivery transaction shared by every terminal of a
// store. Bills and transactions are persisted as their own documents and are
// attached by the repository on load.
type Order struct {
	ID                uuid.UUID      `json:"id" bson:"_id"`
	Number            int            `json:"number" bson:"number"`
	StoreID           uuid.UUID      `json:"store_id" bson:"store_id"`
	ShiftID           uuid.UUID      `json:"shift_id" bson:"shift_id"`
	EmployeeID        string         `json:"employee_id" bson:"employee_id"`
	AreaID            uuid.UUID      `json:"area_id" bson:"area_id"`
	TableID           *uuid.UUID     `json:"table_id,omitempty" bson:"table_id,omitempty"`
	TaxRate           float64        `json:"tax_rate" bson:"tax_rate"`
	Discount          Discount       `json:"discount" bson:"discount"`
	ServiceFeeRate    float64        `json:"service_fee_rate" bson:"service_fee_rate"`
	ServiceFeeTaxRate float64        `json:"service_fee_tax_rate" bson:"service_fee_tax_rate"`
	GuestCount        int            `json:"guest_count" bson:"guest_count"`
	Customer          *Customer      `json:"customer,omitempty" bson:"customer,omitempty"`
	Driver            *Driver        `json:"driver,omitempty" bson:"driver,omitempty"`
	Delivered         bool           `json:"delivered" bson:"delivered"`
	Status            string         `json:"status" bson:"status"`
	Items             []*OrderItem   `json:"items" bson:"items"`
	Bills             []*Bill        `json:"bills" bson:"-"`
	Transactions      []*Transaction `json:"transactions" bson:"-"`
	Revision          int64          `json:"revision" bson:"revision"`
	Totals            Totals         `json:"totals" bson:"totals"`
	VoidReason        string         `json:"void_reason,omitempty" bson:"void_reason,omitempty"`
	VoidedBy          string         `json:"voided_by,omitempty" bson:"voided_by,omitempty"`
	VoidedAt          *time.Time     `json:"voided_at,omitempty" bson:"voided_at,omitempty"`
	ClosedBy          string         `json:"closed_by,omitempty" bson:"closed_by,omitempty"`
	ClosedAt          *time.Time     `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at" bson:"created_at"`
	CreatedBy         string         `json:"created_by" bson:"created_by"`
	UpdatedAt         time.Time      `json:"updated_at" bson:"updated_at"`
	UpdatedBy         string         `json:"updated_by" bson:"updated_by"`
}

type Customer struct {
	Name    string `json:"name" bson:"name"`
	Phone   string `json:"phone,omitempty" bson:"phone,omitempty"`
	Address string `json:"address,omitempty" bson:"address,omitempty"`
}

type Driver struct {
	EmployeeID string `json:"employee_id" bson:"employee_id"`
	Name       string `json:"name" bson:"name"`
}

func (o *Order) GetID() uuid.UUID {
	return o.ID
}

func (o *Order) ResourceType() string {
	return "order"
}

func (o *Order) SetID(id uuid.UUID) {
	o.ID = id
}

func NewOrder(storeID uuid.UUID, employeeID string) *Order {
	return &Order{
		ID:         apt.GenerateNewID(),
		StoreID:    storeID,
		EmployeeID: employeeID,
		CreatedBy:  employeeID,
		Status:     orderstatus.Statuses.New.Code(),
	}
}

func (o *Order) EnsureID() {
	if o.ID == uuid.Nil {
		o.ID = apt.GenerateNewID()
	}
}

func (o *Order) BeforeCreate() {
	o.EnsureID()
	if o.Status == "" {
		o.Status = orderstatus.Statuses.New.Code()
	}
	o.CreatedAt = time.Now()
	o.UpdatedAt = time.Now()
	o.Recalculate()
}

func (o *Order) BeforeUpdate() {
	o.UpdatedAt = time.Now()
}

// IsFinal reports whether the order is closed or voided.
func (o *Order) IsFinal() bool {
	s := orderstatus.ByName(o.Status)
	return s != nil && s.Terminal()
}

func (o *Order) Rates() Rates {
	return Rates{
		Tax:           o.TaxRate,
		ServiceFee:    o.ServiceFeeRate,
		ServiceFeeTax: o.ServiceFeeTaxRate,
	}
}

func (o *Order) Item(id uuid.UUID) *OrderItem {
	for _, item := range o.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (o *Order) Bill(id uuid.UUID) *Bill {
	for _, bill := range o.Bills {
		if bill.ID == id {
			return bill
		}
	}
	return nil
}

func (o *Order) ActiveItems() []*OrderItem {
	var active []*OrderItem
	for _, item := range o.Items {
		if item.IsActive() {
			active = append(active, item)
		}
	}
	return active
}

func (o *Order) UnpaidBills() []*Bill {
	var unpaid []*Bill
	for _, bill := range o.Bills {
		if !bill.Paid {
			unpaid = append(unpaid, bill)
		}
	}
	return unpaid
}

// Recalculate refreshes the derived totals of the order and of every unpaid bill.
// Paid bills keep the totals they were settled with.
func (o *Order) Recalculate() {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.Subtotal())
	}

	for _, bill := range o.Bills {
		if bill.Paid {
			continue
		}
		bill.Totals = o.billTotals(bill, subtotal)
	}

	tips := decimal.Zero
	for _, tx := range o.Transactions {
		tips = tips.Add(tx.Tip)
	}

	o.Totals = ComputeTotals(subtotal, discountFor(o.Discount, subtotal, subtotal), o.Rates(), tips)
}

func (o *Order) billTotals(bill *Bill, orderSubtotal decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, line := range bill.Lines {
		item := o.Item(line.ItemID)
		if item == nil || item.Voided {
			continue
		}
		subtotal = subtotal.Add(item.UnitTotal().Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	tips := decimal.Zero
	for _, tx := range o.Transactions {
		if tx.BillID == bill.ID {
			tips = tips.Add(tx.Tip)
		}
	}

	return ComputeTotals(subtotal, discountFor(o.Discount, subtotal, orderSubtotal), o.Rates(), tips)
}

func (o *Order) advance(status string) {
	if orderstatus.Advances(o.Status, status) {
		o.Status = status
	}
}

// Add appends item, or raises the count of an equal new unmodified item, and
// returns the item that now holds the units.
func (o *Order) Add(item *OrderItem) (*OrderItem, error) {
	if o.IsFinal() {
		return nil, ErrOrderFinalized
	}
	if item.Count <= 0 {
		return nil, ErrInvalidCount
	}

	for _, existing := range o.Items {
		if existing.mergeable(item) {
			existing.Count += item.Count
			o.Recalculate()
			return existing, nil
		}
	}

	item.EnsureID()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	o.Items = append(o.Items, item)
	o.Recalculate()
	return item, nil
}

// AddOption selects a modifier option on an item. Items past new need the
// elevated permission. Billed units must be released with Unbill first.
func (o *Order) AddOption(itemID uuid.UUID, modifier OrderModifier, opt ModifierOption, elevated bool) error {
	item, err := o.editableItem(itemID, elevated)
	if err != nil {
		return err
	}

	if item.addOption(modifier, opt) {
		o.Recalculate()
	}
	return nil
}

// ItemEdit carries the optional changes of an item edit.
type ItemEdit struct {
	Count *int    `json:"count,omitempty"`
	Notes *string `json:"notes,omitempty"`
	Togo  *bool   `json:"togo,omitempty"`
	Hold  *bool   `json:"hold,omitempty"`
}

func (o *Order) EditItem(itemID uuid.UUID, edit ItemEdit, elevated bool) error {
	item, err := o.editableItem(itemID, elevated)
	if err != nil {
		return err
	}
	if edit.Count != nil && *edit.Count <= 0 {
		return ErrInvalidCount
	}

	if edit.Count != nil {
		item.Count = *edit.Count
	}
	if edit.Notes != nil {
		item.Notes = *edit.Notes
	}
	if edit.Togo != nil {
		item.Togo = *edit.Togo
	}
	if edit.Hold != nil && !item.Submitted {
		item.Hold = *edit.Hold
	}

	o.Recalculate()
	return nil
}

func (o *Order) editableItem(itemID uuid.UUID, elevated bool) (*OrderItem, error) {
	if o.IsFinal() {
		return nil, ErrOrderFinalized
	}
	item := o.Item(itemID)
	if item == nil {
		return nil, ErrItemNotFound
	}

	switch {
	case item.Voided:
		return nil, ErrItemVoided
	case item.HasPayment():
		return nil, ErrItemPaid
	case item.BilledCount > 0:
		return nil, ErrItemBilled
	case !item.IsNew() && !elevated:
		return nil, ErrPermissionRequired
	}
	return item, nil
}

// NeedsElevation reports whether any of the given items moved past new.
func (o *Order) NeedsElevation(itemIDs []uuid.UUID) bool {
	for _, id := range itemIDs {
		item := o.Item(id)
		if item != nil && !item.Voided && !item.IsNew() {
			return true
		}
	}
	return false
}

// PendingSend returns the new items that a send would submit. Held items wait.
func (o *Order) PendingSend() []*OrderItem {
	var pending []*OrderItem
	for _, item := range o.Items {
		if item.Voided || item.Submitted || item.Hold {
			continue
		}
		pending = append(pending, item)
	}
	return pending
}

// Send marks the given items submitted and returns the ones that changed.
func (o *Order) Send(itemIDs []uuid.UUID, now time.Time) []*OrderItem {
	if o.IsFinal() {
		return nil
	}

	var sent []*OrderItem
	for _, id := range itemIDs {
		item := o.Item(id)
		if item == nil || item.Voided || item.Submitted || item.Hold {
			continue
		}
		at := now
		item.Submitted = true
		item.SubmittedAt = &at
		sent = append(sent, item)
	}

	if len(sent) > 0 {
		o.advance(orderstatus.Statuses.Submitted.Code())
	}
	return sent
}

// Checkout moves every unbilled active unit into a new bill. It returns nil
// when nothing is left to bill, so repeated calls never bill a unit twice.
func (o *Order) Checkout(name string) (*Bill, error) {
	if o.IsFinal() {
		return nil, ErrOrderFinalized
	}

	var lines []BillLine
	for _, item := range o.Items {
		qty := item.Unbilled()
		if qty <= 0 {
			continue
		}
		lines = append(lines, BillLine{ItemID: item.ID, Quantity: qty})
		item.BilledCount += qty
	}
	if len(lines) == 0 {
		return nil, nil
	}

	if name == "" {
		name = billName(len(o.Bills) + 1)
	}
	bill := NewBill(o.ID, name, lines)
	o.Bills = append(o.Bills, bill)
	o.advance(orderstatus.Statuses.Checked.Code())
	o.Recalculate()
	return bill, nil
}

// Unbill removes unpaid bills that claim units of forItem, or every unpaid
// bill when forItem is nil, and returns the removed bills. Paid bills are
// never touched.
func (o *Order) Unbill(forItem *uuid.UUID) []*Bill {
	var kept, removed []*Bill
	for _, bill := range o.Bills {
		if bill.Paid || (forItem != nil && !bill.References(*forItem)) {
			kept = append(kept, bill)
			continue
		}
		for _, line := range bill.Lines {
			item := o.Item(line.ItemID)
			if item == nil {
				continue
			}
			item.BilledCount -= line.Quantity
			if item.BilledCount < item.PaidCount {
				item.BilledCount = item.PaidCount
			}
		}
		removed = append(removed, bill)
	}
	if len(removed) == 0 {
		return nil
	}

	o.Bills = kept
	if len(kept) == 0 && !o.IsFinal() {
		o.Status = orderstatus.Statuses.New.Code()
		for _, item := range o.Items {
			if item.Submitted {
				o.Status = orderstatus.Statuses.Submitted.Code()
				break
			}
		}
	}
	o.Recalculate()
	return removed
}

// Void removes new items and marks submitted or checked items voided. Nothing
// changes when any target is paid or when the permission or reason is missing.
func (o *Order) Void(itemIDs []uuid.UUID, reason, by string, elevated bool) ([]*OrderItem, error) {
	if o.IsFinal() {
		return nil, ErrOrderFinalized
	}

	var targets []*OrderItem
	pastNew := false
	for _, id := range itemIDs {
		item := o.Item(id)
		if item == nil {
			return nil, ErrItemNotFound
		}
		if item.Voided {
			continue
		}
		if item.HasPayment() {
			return nil, ErrItemPaid
		}
		if !item.IsNew() {
			pastNew = true
		}
		targets = append(targets, item)
	}
	if len(targets) == 0 {
		return nil, nil
	}
	if pastNew && !elevated {
		return nil, ErrPermissionRequired
	}
	if pastNew && reason == "" {
		return nil, ErrReasonRequired
	}

	// Unbilling one target can drop another target back to new, so every
	// target is classified before anything changes.
	removed := make(map[uuid.UUID]bool)
	var voided []*OrderItem
	for _, item := range targets {
		if item.IsNew() {
			removed[item.ID] = true
			continue
		}
		voided = append(voided, item)
	}

	now := time.Now()
	for _, item := range voided {
		id := item.ID
		o.Unbill(&id)
		item.Voided = true
		item.VoidReason = reason
		item.VoidedBy = by
		item.VoidedAt = &now
	}

	if len(removed) > 0 {
		kept := o.Items[:0]
		for _, item := range o.Items {
			if !removed[item.ID] {
				kept = append(kept, item)
			}
		}
		o.Items = kept
	}

	o.Recalculate()
	return targets, nil
}

// VoidOrder voids the whole order. Orders with any payment cannot be voided.
func (o *Order) VoidOrder(reason, by string, elevated bool) error {
	if o.IsFinal() {
		return ErrOrderFinalized
	}
	if len(o.Transactions) > 0 {
		return ErrHasPayments
	}
	for _, item := range o.Items {
		if item.HasPayment() {
			return ErrItemPaid
		}
	}

	pastNew := false
	for _, item := range o.Items {
		if !item.Voided && !item.IsNew() {
			pastNew = true
		}
	}
	if pastNew && !elevated {
		return ErrPermissionRequired
	}
	if pastNew && reason == "" {
		return ErrReasonRequired
	}

	o.Unbill(nil)
	now := time.Now()
	for _, item := range o.Items {
		if item.Voided {
			continue
		}
		item.Voided = true
		item.VoidReason = reason
		item.VoidedBy = by
		item.VoidedAt = &now
	}

	o.Status = orderstatus.Statuses.Voided.Code()
	o.VoidReason = reason
	o.VoidedBy = by
	o.VoidedAt = &now
	o.Recalculate()
	return nil
}

// Pay records a payment against a bill. The bill becomes paid once the
// tendered amount covers its displayed total, and its units count as paid.
func (o *Order) Pay(billID uuid.UUID, p Payment) (*Transaction, error) {
	if o.IsFinal() {
		return nil, ErrOrderFinalized
	}
	bill := o.Bill(billID)
	if bill == nil {
		return nil, ErrBillNotFound
	}
	if bill.Paid {
		return nil, ErrBillPaid
	}
	// A zero tender only settles a bill that has nothing left to pay.
	if p.Amount.IsNegative() || (p.Amount.IsZero() && !bill.Due().IsZero()) {
		return nil, ErrInvalidAmount
	}

	tx := newTransaction(o.ID, bill.ID, p)
	o.Transactions = append(o.Transactions, tx)
	bill.Tendered = bill.Tendered.Add(tx.Amount)
	o.Recalculate()

	if bill.Tendered.GreaterThanOrEqual(Display(bill.Totals.Total)) {
		now := time.Now()
		bill.Paid = true
		bill.PaidAt = &now
		bill.BeforeUpdate()
		for _, line := range bill.Lines {
			item := o.Item(line.ItemID)
			if item == nil {
				continue
			}
			item.PaidCount += line.Quantity
			if item.PaidCount > item.Count {
				item.PaidCount = item.Count
			}
		}
	}

	return tx, nil
}

// VoidTransaction appends a compensating transaction for a payment on a bill
// that has not been settled yet.
func (o *Order) VoidTransaction(txID uuid.UUID, by string) (*Transaction, error) {
	if o.IsFinal() {
		return nil, ErrOrderFinalized
	}

	var original *Transaction
	for _, tx := range o.Transactions {
		if tx.ID == txID {
			original = tx
		}
		if tx.VoidOf != nil && *tx.VoidOf == txID {
			return nil, ErrTxVoided
		}
	}
	if original == nil {
		return nil, ErrTransactionNotFound
	}
	if original.IsVoid() {
		return nil, ErrTxVoided
	}
	bill := o.Bill(original.BillID)
	if bill == nil {
		return nil, ErrBillNotFound
	}
	if bill.Paid {
		return nil, ErrBillPaid
	}

	compensating := newTransaction(o.ID, bill.ID, Payment{
		Type:       original.Type,
		Amount:     original.Amount.Neg(),
		Tip:        original.Tip.Neg(),
		Approval:   original.Approval,
		EmployeeID: by,
	})
	ref := original.ID
	compensating.VoidOf = &ref

	o.Transactions = append(o.Transactions, compensating)
	bill.Tendered = bill.Tendered.Sub(original.Amount)
	o.Recalculate()
	return compensating, nil
}

// MarkPrinted records that the guest check of a bill was printed.
func (o *Order) MarkPrinted(billID uuid.UUID, now time.Time) error {
	if o.IsFinal() {
		return ErrOrderFinalized
	}
	bill := o.Bill(billID)
	if bill == nil {
		return ErrBillNotFound
	}
	if len(bill.Lines) == 0 {
		return ErrNotPrintable
	}

	at := now
	bill.PrintedAt = &at
	bill.BeforeUpdate()
	o.advance(orderstatus.Statuses.Printed.Code())
	return nil
}

// CanClose holds when the order has no active items, or when every bill is
// paid and every active unit is covered by a paid bill.
func (o *Order) CanClose() bool {
	if o.IsFinal() {
		return false
	}
	active := o.ActiveItems()
	if len(active) == 0 {
		return true
	}
	if len(o.UnpaidBills()) > 0 {
		return false
	}
	for _, item := range active {
		if item.PaidCount < item.Count {
			return false
		}
	}
	return true
}

func (o *Order) Close(by string, now time.Time) error {
	if !o.CanClose() {
		if o.IsFinal() {
			return ErrOrderFinalized
		}
		return ErrNotClosable
	}

	at := now
	o.Status = orderstatus.Statuses.Closed.Code()
	o.ClosedBy = by
	o.ClosedAt = &at
	o.UpdatedBy = by
	return nil
}

func (o *Order) MoveTo(areaID uuid.UUID, tableID *uuid.UUID) error {
	if o.IsFinal() {
		return ErrOrderFinalized
	}
	o.AreaID = areaID
	o.TableID = tableID
	return nil
}

// Absorb folds the items of sources into o. Items keep their identity and
// the sources' unpaid bills are dropped. No order changes when any source
// already holds payments.
func (o *Order) Absorb(sources ...*Order) error {
	if o.IsFinal() {
		return ErrOrderFinalized
	}
	for _, src := range sources {
		if src.IsFinal() {
			return ErrOrderFinalized
		}
		if len(src.Transactions) > 0 {
			return ErrHasPayments
		}
		for _, bill := range src.Bills {
			if bill.Paid {
				return ErrHasPayments
			}
		}
	}

	for _, src := range sources {
		src.Unbill(nil)
		o.Items = append(o.Items, src.Items...)
		o.GuestCount += src.GuestCount
		for _, item := range src.Items {
			if item.Submitted {
				o.advance(orderstatus.Statuses.Submitted.Code())
			}
		}
		src.Items = nil
	}

	o.Recalculate()
	return nil
}

// Abandonable reports whether the order can be deleted outright: it never
// received a visible number and holds no items.
func (o *Order) Abandonable() bool {
	return o.Number == 0 && len(o.Items) == 0 && len(o.Transactions) == 0
}

// ToggleTogo flips the togo flag of the given unpaid active items.
func (o *Order) ToggleTogo(itemIDs []uuid.UUID) int {
	changed := 0
	for _, id := range itemIDs {
		item := o.Item(id)
		if item == nil || item.Voided || item.HasPayment() {
			continue
		}
		item.Togo = !item.Togo
		changed++
	}
	return changed
}

// ToggleHold flips the hold flag of the given items that were not sent yet.
func (o *Order) ToggleHold(itemIDs []uuid.UUID) int {
	changed := 0
	for _, id := range itemIDs {
		item := o.Item(id)
		if item == nil || item.Voided || item.Submitted {
			continue
		}
		item.Hold = !item.Hold
		changed++
	}
	return changed
}

func billName(n int) string {
	return "Check " + strconv.Itoa(n)
}
