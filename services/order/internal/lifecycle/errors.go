package lifecycle

import (
	"errors"

	"github.com/appetiteclub/pos/services/order/internal/selection"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrPermissionDenied = errors.New("elevated permission declined")
	ErrPersistence      = errors.New("cannot persist order")
	ErrMergeTooFew      = errors.New("merge needs at least two orders")
	// ErrCancelled aborts an action whose prompt the operator dismissed.
	ErrCancelled = selection.ErrCancelled
)
