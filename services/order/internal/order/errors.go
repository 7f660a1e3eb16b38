package order

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition marks requests that are reachable from a terminal but
// logically inert, such as closing an order with unpaid bills. Callers treat
// it as "no change" rather than as a failure.
var ErrInvalidTransition = errors.New("invalid state transition")

var (
	ErrOrderFinalized = fmt.Errorf("order is closed or voided: %w", ErrInvalidTransition)
	ErrItemPaid       = fmt.Errorf("item already paid: %w", ErrInvalidTransition)
	ErrItemVoided     = fmt.Errorf("item already voided: %w", ErrInvalidTransition)
	ErrItemBilled     = fmt.Errorf("item is claimed by an unpaid bill: %w", ErrInvalidTransition)
	ErrBillPaid       = fmt.Errorf("bill already paid: %w", ErrInvalidTransition)
	ErrHasPayments    = fmt.Errorf("order has recorded payments: %w", ErrInvalidTransition)
	ErrNotClosable    = fmt.Errorf("order has unpaid items: %w", ErrInvalidTransition)
	ErrNotPrintable   = fmt.Errorf("order has no check to print: %w", ErrInvalidTransition)
	ErrTxVoided       = fmt.Errorf("transaction already voided: %w", ErrInvalidTransition)
)

var (
	ErrItemNotFound        = errors.New("order item not found")
	ErrBillNotFound        = errors.New("bill not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPermissionRequired  = errors.New("elevated permission required")
	ErrReasonRequired      = errors.New("void reason required")
	ErrInvalidAmount       = errors.New("payment amount must cover the bill or be positive")
	ErrInvalidCount        = errors.New("item count must be positive")
	ErrStaleRevision       = errors.New("order was modified by another writer")
)
