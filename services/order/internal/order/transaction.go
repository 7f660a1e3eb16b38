package order

import (
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is a payment against exactly one bill. It is never edited after
// creation; a void appends a compensating transaction instead.
type Transaction struct {
	ID         uuid.UUID       `json:"id" bson:"_id"`
	OrderID    uuid.UUID       `json:"order_id" bson:"order_id"`
	BillID     uuid.UUID       `json:"bill_id" bson:"bill_id"`
	Type       string          `json:"type" bson:"type"`
	Amount     decimal.Decimal `json:"amount" bson:"amount"`
	Tip        decimal.Decimal `json:"tip" bson:"tip"`
	Approval   string          `json:"approval,omitempty" bson:"approval,omitempty"`
	VoidOf     *uuid.UUID      `json:"void_of,omitempty" bson:"void_of,omitempty"`
	EmployeeID string          `json:"employee_id" bson:"employee_id"`
	CreatedAt  time.Time       `json:"created_at" bson:"created_at"`
}

// Payment is the input of a payment attempt.
type Payment struct {
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Tip        decimal.Decimal `json:"tip"`
	Approval   string          `json:"approval,omitempty"`
	EmployeeID string          `json:"employee_id"`
}

func (t *Transaction) GetID() uuid.UUID {
	return t.ID
}

func (t *Transaction) ResourceType() string {
	return "transaction"
}

func newTransaction(orderID, billID uuid.UUID, p Payment) *Transaction {
	return &Transaction{
		ID:         apt.GenerateNewID(),
		OrderID:    orderID,
		BillID:     billID,
		Type:       p.Type,
		Amount:     p.Amount,
		Tip:        p.Tip,
		Approval:   p.Approval,
		EmployeeID: p.EmployeeID,
		CreatedAt:  time.Now(),
	}
}

func (t *Transaction) IsVoid() bool {
	return t.VoidOf != nil
}
