package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"

	"github.com/appetiteclub/pos/services/order/internal/lock"
)

// LockTarget selects the claims clear-locks removes.
type LockTarget struct {
	OrderID *uuid.UUID
	Holder  string
	All     bool
}

// ParseLockTarget reads "all", "holder=<terminal>" or an order id.
func ParseLockTarget(args []string) (LockTarget, error) {
	if len(args) != 1 {
		return LockTarget{}, fmt.Errorf("clear-locks needs exactly one target")
	}

	arg := args[0]
	switch {
	case arg == "all":
		return LockTarget{All: true}, nil
	case strings.HasPrefix(arg, "holder="):
		h := strings.TrimPrefix(arg, "holder=")
		if h == "" {
			return LockTarget{}, fmt.Errorf("holder must not be empty")
		}
		return LockTarget{Holder: h}, nil
	default:
		id, err := uuid.Parse(arg)
		if err != nil {
			return LockTarget{}, fmt.Errorf("invalid order id %q", arg)
		}
		return LockTarget{OrderID: &id}, nil
	}
}

func (t LockTarget) matches(c lock.Claim) bool {
	switch {
	case t.All:
		return true
	case t.OrderID != nil:
		return c.OrderID == *t.OrderID
	default:
		return c.Holder == t.Holder
	}
}

func selectClaims(claims []lock.Claim, target LockTarget) []lock.Claim {
	var selected []lock.Claim
	for _, c := range claims {
		if target.matches(c) {
			selected = append(selected, c)
		}
	}
	return selected
}

// ListLocks prints the current claims.
func ListLocks(ctx context.Context, config *apt.Config, logger apt.Logger, out io.Writer) error {
	e, err := open(ctx, config, logger)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	claims, err := e.registry.Claims(ctx)
	if err != nil {
		return err
	}
	return writeClaims(out, claims, time.Now())
}

func writeClaims(out io.Writer, claims []lock.Claim, now time.Time) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tHOLDER\tPURPOSE\tAGE\tEXPIRES")
	for _, c := range claims {
		expires := "never"
		if c.ExpiresAt != nil {
			expires = c.ExpiresAt.Format(time.RFC3339)
		}
		age := now.Sub(c.ClaimedAt).Truncate(time.Second)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.OrderID, c.Holder, c.Purpose, age, expires)
	}
	return tw.Flush()
}

// ClearLocks removes the selected claims whoever holds them and reports how
// many were removed.
func ClearLocks(ctx context.Context, config *apt.Config, logger apt.Logger, target LockTarget) (int, error) {
	e, err := open(ctx, config, logger)
	if err != nil {
		return 0, err
	}
	defer e.close(ctx)

	claims, err := e.registry.Claims(ctx)
	if err != nil {
		return 0, err
	}
	return clearClaims(ctx, e.registry, selectClaims(claims, target))
}

func clearClaims(ctx context.Context, registry *lock.Registry, claims []lock.Claim) (int, error) {
	cleared := 0
	for _, c := range claims {
		prev, err := registry.Clear(ctx, c.OrderID)
		if err != nil {
			return cleared, err
		}
		if prev != nil {
			cleared++
		}
	}
	return cleared, nil
}
