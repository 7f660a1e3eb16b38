package lock

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrConflict matches every *ConflictError.
var ErrConflict = errors.New("order is locked by another holder")

// Claim is an advisory lock on one order. A claim without ExpiresAt stays
// live until its holder releases it or an operator clears it.
type Claim struct {
	OrderID uuid.UUID `json:"order_id" bson:"_id"`
	Holder  string    `json:"holder" bson:"holder"`
	Purpose string    `json:"purpose" bson:"purpose"`
	// Token tells apart successive claims of one holder on the same order.
	Token     string     `json:"token" bson:"token"`
	ClaimedAt time.Time  `json:"claimed_at" bson:"claimed_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
}

func (c *Claim) GetID() uuid.UUID {
	return c.OrderID
}

func (c *Claim) ResourceType() string {
	return "lock"
}

// Live reports whether the claim still excludes other holders at now.
func (c *Claim) Live(now time.Time) bool {
	return c.ExpiresAt == nil || now.Before(*c.ExpiresAt)
}

// Same reports whether other is this very claim and not a later one.
func (c *Claim) Same(other Claim) bool {
	return c.OrderID == other.OrderID && c.Holder == other.Holder && c.Token == other.Token
}

// ConflictError names the current holder of a contested order.
type ConflictError struct {
	OrderID uuid.UUID
	Holder  string
	Purpose string
}

func (e *ConflictError) Error() string {
	if e.Purpose == "" {
		return fmt.Sprintf("order %s is being edited by %s", e.OrderID, e.Holder)
	}
	return fmt.Sprintf("order %s is being edited by %s (%s)", e.OrderID, e.Holder, e.Purpose)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func conflictWith(c *Claim) *ConflictError {
	return &ConflictError{OrderID: c.OrderID, Holder: c.Holder, Purpose: c.Purpose}
}
