package order

import (
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/pos/pkg/enums/itemstatus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderItem struct {
	ID          uuid.UUID       `json:"id" bson:"id"`
	MenuItemID  uuid.UUID       `json:"menu_item_id" bson:"menu_item_id"`
	Name        string          `json:"name" bson:"name"`
	UnitPrice   decimal.Decimal `json:"unit_price" bson:"unit_price"`
	Count       int             `json:"count" bson:"count"`
	Modifiers   []OrderModifier `json:"modifiers,omitempty" bson:"modifiers,omitempty"`
	Notes       string          `json:"notes,omitempty" bson:"notes,omitempty"`
	BilledCount int             `json:"billed_count" bson:"billed_count"`
	PaidCount   int             `json:"paid_count" bson:"paid_count"`
	Submitted   bool            `json:"submitted" bson:"submitted"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty" bson:"submitted_at,omitempty"`
	Voided      bool            `json:"voided" bson:"voided"`
	VoidReason  string          `json:"void_reason,omitempty" bson:"void_reason,omitempty"`
	VoidedBy    string          `json:"voided_by,omitempty" bson:"voided_by,omitempty"`
	VoidedAt    *time.Time      `json:"voided_at,omitempty" bson:"voided_at,omitempty"`
	Togo        bool            `json:"togo" bson:"togo"`
	Hold        bool            `json:"hold" bson:"hold"`
	CreatedAt   time.Time       `json:"created_at" bson:"created_at"`
	CreatedBy   string          `json:"created_by" bson:"created_by"`
}

type OrderModifier struct {
	ModifierID uuid.UUID        `json:"modifier_id" bson:"modifier_id"`
	Name       string           `json:"name" bson:"name"`
	Options    []ModifierOption `json:"options" bson:"options"`
}

type ModifierOption struct {
	OptionID   uuid.UUID       `json:"option_id" bson:"option_id"`
	Name       string          `json:"name" bson:"name"`
	PriceDelta decimal.Decimal `json:"price_delta" bson:"price_delta"`
}

func NewOrderItem(menuItemID uuid.UUID, name string, unitPrice decimal.Decimal, count int) *OrderItem {
	return &OrderItem{
		ID:         apt.GenerateNewID(),
		MenuItemID: menuItemID,
		Name:       name,
		UnitPrice:  unitPrice,
		Count:      count,
		CreatedAt:  time.Now(),
	}
}

func (i *OrderItem) GetID() uuid.UUID {
	return i.ID
}

func (i *OrderItem) ResourceType() string {
	return "order-item"
}

func (i *OrderItem) EnsureID() {
	if i.ID == uuid.Nil {
		i.ID = apt.GenerateNewID()
	}
}

// Status is derived from the item flags, most significant first.
func (i *OrderItem) Status() string {
	switch {
	case i.Voided:
		return itemstatus.Statuses.Voided.Code()
	case i.Count > 0 && i.PaidCount >= i.Count:
		return itemstatus.Statuses.Paid.Code()
	case i.BilledCount > 0:
		return itemstatus.Statuses.Checked.Code()
	case i.Submitted:
		return itemstatus.Statuses.Submitted.Code()
	default:
		return itemstatus.Statuses.New.Code()
	}
}

func (i *OrderItem) IsNew() bool {
	return i.Status() == itemstatus.Statuses.New.Code()
}

func (i *OrderItem) IsActive() bool {
	return !i.Voided
}

// HasPayment reports whether any unit of the item is covered by a paid bill.
func (i *OrderItem) HasPayment() bool {
	return i.PaidCount > 0
}

// Unbilled returns the units not yet attached to a bill.
func (i *OrderItem) Unbilled() int {
	if i.Voided || i.BilledCount >= i.Count {
		return 0
	}
	return i.Count - i.BilledCount
}

// UnitTotal is the unit price plus every selected option delta.
func (i *OrderItem) UnitTotal() decimal.Decimal {
	total := i.UnitPrice
	for _, m := range i.Modifiers {
		for _, opt := range m.Options {
			total = total.Add(opt.PriceDelta)
		}
	}
	return total
}

func (i *OrderItem) Subtotal() decimal.Decimal {
	if i.Voided {
		return decimal.Zero
	}
	return i.UnitTotal().Mul(decimal.NewFromInt(int64(i.Count)))
}

// mergeable reports whether other can be folded into i by raising the count.
func (i *OrderItem) mergeable(other *OrderItem) bool {
	return i.IsNew() &&
		len(i.Modifiers) == 0 &&
		len(other.Modifiers) == 0 &&
		i.Notes == "" &&
		other.Notes == "" &&
		i.MenuItemID == other.MenuItemID &&
		i.Name == other.Name &&
		i.UnitPrice.Equal(other.UnitPrice) &&
		i.Togo == other.Togo &&
		i.Hold == other.Hold
}

// addOption selects opt under modifier, creating the modifier entry when the
// item has none yet. Selecting the same option twice is a no-op.
func (i *OrderItem) addOption(modifier OrderModifier, opt ModifierOption) bool {
	for idx := range i.Modifiers {
		m := &i.Modifiers[idx]
		if m.ModifierID != modifier.ModifierID {
			continue
		}
		for _, existing := range m.Options {
			if existing.OptionID == opt.OptionID {
				return false
			}
		}
		m.Options = append(m.Options, opt)
		return true
	}

	i.Modifiers = append(i.Modifiers, OrderModifier{
		ModifierID: modifier.ModifierID,
		Name:       modifier.Name,
		Options:    []ModifierOption{opt},
	})
	return true
}
