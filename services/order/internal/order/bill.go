package order

import (
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bill is a payable subset of an order's item units produced by checkout.
type Bill struct {
	ID        uuid.UUID       `json:"id" bson:"_id"`
	OrderID   uuid.UUID       `json:"order_id" bson:"order_id"`
	Name      string          `json:"name" bson:"name"`
	Lines     []BillLine      `json:"lines" bson:"lines"`
	Totals    Totals          `json:"totals" bson:"totals"`
	Paid      bool            `json:"paid" bson:"paid"`
	PaidAt    *time.Time      `json:"paid_at,omitempty" bson:"paid_at,omitempty"`
	PrintedAt *time.Time      `json:"printed_at,omitempty" bson:"printed_at,omitempty"`
	Tendered  decimal.Decimal `json:"tendered" bson:"tendered"`
	CreatedAt time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" bson:"updated_at"`
}

type BillLine struct {
	ItemID   uuid.UUID `json:"item_id" bson:"item_id"`
	Quantity int       `json:"quantity" bson:"quantity"`
}

func (b *Bill) GetID() uuid.UUID {
	return b.ID
}

func (b *Bill) ResourceType() string {
	return "bill"
}

func NewBill(orderID uuid.UUID, name string, lines []BillLine) *Bill {
	bill := &Bill{
		ID:      apt.GenerateNewID(),
		OrderID: orderID,
		Name:    name,
		Lines:   lines,
	}
	bill.BeforeCreate()
	return bill
}

func (b *Bill) EnsureID() {
	if b.ID == uuid.Nil {
		b.ID = apt.GenerateNewID()
	}
}

func (b *Bill) BeforeCreate() {
	b.EnsureID()
	b.CreatedAt = time.Now()
	b.UpdatedAt = time.Now()
}

func (b *Bill) BeforeUpdate() {
	b.UpdatedAt = time.Now()
}

// References reports whether the bill claims units of the given item.
func (b *Bill) References(itemID uuid.UUID) bool {
	return b.Quantity(itemID) > 0
}

func (b *Bill) Quantity(itemID uuid.UUID) int {
	for _, line := range b.Lines {
		if line.ItemID == itemID {
			return line.Quantity
		}
	}
	return 0
}

// Due is what remains to be tendered at display precision.
func (b *Bill) Due() decimal.Decimal {
	due := Display(b.Totals.Total).Sub(b.Tendered)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}
