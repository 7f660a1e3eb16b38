package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/pos/pkg/event"
	"github.com/appetiteclub/pos/services/order/internal/lock"
	"github.com/appetiteclub/pos/services/order/internal/order"
	"github.com/appetiteclub/pos/services/order/internal/selection"
)

type fixture struct {
	repo     *MockOrderRepo
	store    *lock.MemoryStore
	locks    *lock.Registry
	pub      *MockPublisher
	printer  *MockPrinter
	notifier *MockNotifier
	numbers  *MockNumberer
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     NewMockOrderRepo(),
		store:    lock.NewMemoryStore(),
		pub:      NewMockPublisher(),
		printer:  &MockPrinter{},
		notifier: &MockNotifier{},
		numbers:  &MockNumberer{},
	}
	f.locks = lock.NewRegistry(f.store, lock.Options{Holder: "terminal-a"}, nil, nil)
	f.engine = NewEngine(EngineDeps{
		Repo:      f.repo,
		Locks:     f.locks,
		Numbers:   f.numbers,
		Publisher: f.pub,
		Printer:   f.printer,
		Notifier:  f.notifier,
	}, nil)
	return f
}

// otherTerminal shares the lock store under a different holder.
func (f *fixture) otherTerminal() *lock.Registry {
	return lock.NewRegistry(f.store, lock.Options{Holder: "terminal-b"}, nil, nil)
}

// seed stores a new order prepared by build.
func (f *fixture) seed(t *testing.T, build func(o *order.Order)) *order.Order {
	t.Helper()
	o := order.NewOrder(uuid.New(), "emp-1")
	if build != nil {
		build(o)
	}
	o.BeforeCreate()
	if err := f.repo.Create(context.Background(), o); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return o
}

func (f *fixture) assertNoClaims(t *testing.T) {
	t.Helper()
	claims, err := f.store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("claims left behind = %+v, want none", claims)
	}
}

func addTo(t *testing.T, o *order.Order, name, price string, count int) *order.OrderItem {
	t.Helper()
	item, err := o.Add(order.NewOrderItem(uuid.New(), name, decimal.RequireFromString(price), count))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return item
}

func sendAll(o *order.Order) {
	var ids []uuid.UUID
	for _, item := range o.Items {
		ids = append(ids, item.ID)
	}
	o.Send(ids, time.Now())
}

func TestLockAndModifyPersistsAndReleases(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, func(o *order.Order) { o.TaxRate = 0.1 })

	o, item, err := f.engine.AddItem(context.Background(), seeded.ID,
		order.NewOrderItem(uuid.New(), "Burger", decimal.RequireFromString("10.00"), 3))
	if err != nil {
		t.Fatalf("AddItem() error = %v", err)
	}
	if o == nil || item == nil {
		t.Fatal("AddItem() returned nil order or item")
	}

	stored := f.repo.Stored(seeded.ID)
	if stored.Revision != 1 {
		t.Errorf("stored revision = %d, want 1", stored.Revision)
	}
	if !stored.Totals.Total.Equal(decimal.RequireFromString("33.00")) {
		t.Errorf("stored total = %s, want 33.00", stored.Totals.Total)
	}
	if got := f.pub.Count(event.OrderChangesTopic); got != 1 {
		t.Errorf("change events = %d, want 1", got)
	}
	f.assertNoClaims(t)
}

func TestLockAndModifyOutcomes(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		task      Task
		saveErr   error
		wantErr   error
		wantNil   bool
		wantSaves int
	}{
		{
			name: "changed",
			task: func(ctx context.Context, o *order.Order) (*order.Order, error) {
				o.GuestCount = 4
				return o, nil
			},
			wantSaves: 1,
		},
		{
			name: "noChange",
			task: func(ctx context.Context, o *order.Order) (*order.Order, error) {
				return nil, nil
			},
			wantNil: true,
		},
		{
			name: "invalidTransitionIsNoop",
			task: func(ctx context.Context, o *order.Order) (*order.Order, error) {
				return nil, order.ErrNotClosable
			},
			wantNil: true,
		},
		{
			name: "taskFailure",
			task: func(ctx context.Context, o *order.Order) (*order.Order, error) {
				return nil, boom
			},
			wantErr: boom,
			wantNil: true,
		},
		{
			name: "persistenceFailure",
			task: func(ctx context.Context, o *order.Order) (*order.Order, error) {
				o.GuestCount = 2
				return o, nil
			},
			saveErr: errors.New("replica set unavailable"),
			wantErr: ErrPersistence,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			seeded := f.seed(t, nil)
			if tt.saveErr != nil {
				f.repo.SaveFunc = func(ctx context.Context, o *order.Order) error { return tt.saveErr }
			}

			got, err := f.engine.LockAndModify(context.Background(), seeded.ID, "test", tt.task)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("LockAndModify() error = %v, want %v", err, tt.wantErr)
			}
			if (got == nil) != tt.wantNil {
				t.Errorf("LockAndModify() order = %v, wantNil %v", got, tt.wantNil)
			}
			if f.repo.Saves != tt.wantSaves {
				t.Errorf("saves = %d, want %d", f.repo.Saves, tt.wantSaves)
			}
			f.assertNoClaims(t)
		})
	}
}

func TestLockAndModifyReleasesOnPanic(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, nil)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("LockAndModify() should propagate the panic")
			}
		}()
		f.engine.LockAndModify(context.Background(), seeded.ID, "test", func(ctx context.Context, o *order.Order) (*order.Order, error) {
			panic("dialog crashed")
		})
	}()

	f.assertNoClaims(t)
}

func TestLockAndModifyReleasesOnCancel(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	o, err := f.engine.LockAndModify(ctx, seeded.ID, "test", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		o.GuestCount = 9
		cancel()
		return o, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("LockAndModify() error = %v, want context.Canceled", err)
	}
	if o != nil {
		t.Error("LockAndModify() should not return an order after cancellation")
	}
	if f.repo.Saves != 0 {
		t.Errorf("saves = %d, want 0", f.repo.Saves)
	}
	f.assertNoClaims(t)
}

func TestLockAndModifyMissingOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.LockAndModify(context.Background(), uuid.New(), "test", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		return o, nil
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("LockAndModify() error = %v, want ErrOrderNotFound", err)
	}
	f.assertNoClaims(t)
}

func TestLockAndModifyNoLeakedLocks(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, nil)
	rng := rand.New(rand.NewSource(42))

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		outcome := rng.Intn(5)
		delay := time.Duration(rng.Intn(200)) * time.Microsecond

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { recover() }()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			f.engine.LockAndModify(ctx, seeded.ID, "fuzz", func(ctx context.Context, o *order.Order) (*order.Order, error) {
				n := atomic.AddInt32(&inside, 1)
				defer atomic.AddInt32(&inside, -1)
				for {
					current := atomic.LoadInt32(&maxInside)
					if n <= current || atomic.CompareAndSwapInt32(&maxInside, current, n) {
						break
					}
				}
				time.Sleep(delay)

				switch outcome {
				case 0:
					o.GuestCount++
					return o, nil
				case 1:
					return nil, errors.New("declined")
				case 2:
					return nil, nil
				case 3:
					cancel()
					return o, nil
				default:
					panic("crash")
				}
			})
		}()
	}
	wg.Wait()

	if maxInside > 1 {
		t.Errorf("tasks running at once = %d, want at most 1", maxInside)
	}
	f.assertNoClaims(t)
}

func TestTwoTerminalsRaceForOrder(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, nil)
	other := NewEngine(EngineDeps{Repo: f.repo, Locks: f.otherTerminal()}, nil)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.engine.LockAndModify(context.Background(), seeded.ID, "edit", func(ctx context.Context, o *order.Order) (*order.Order, error) {
			close(entered)
			<-proceed
			o.GuestCount = 2
			return o, nil
		})
		done <- err
	}()

	<-entered
	_, err := other.LockAndModify(context.Background(), seeded.ID, "edit", func(ctx context.Context, o *order.Order) (*order.Order, error) {
		t.Error("losing terminal must not run its task")
		return o, nil
	})
	close(proceed)

	var conflict *lock.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("loser error = %v, want *lock.ConflictError", err)
	}
	if conflict.Holder != "terminal-a" {
		t.Errorf("conflict holder = %q, want terminal-a", conflict.Holder)
	}
	if err := <-done; err != nil {
		t.Fatalf("winner error = %v", err)
	}
	f.assertNoClaims(t)
}

func TestMerge(t *testing.T) {
	f := newFixture(t)
	var x, y *order.OrderItem
	a := f.seed(t, func(o *order.Order) { x = addTo(t, o, "x", "4.00", 2) })
	b := f.seed(t, func(o *order.Order) { y = addTo(t, o, "y", "6.00", 1) })

	merged, err := f.engine.Merge(context.Background(), []uuid.UUID{a.ID, b.ID})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if merged == nil || merged.ID != a.ID {
		t.Fatalf("Merge() order = %v, want order %s", merged, a.ID)
	}

	stored := f.repo.Stored(a.ID)
	if len(stored.Items) != 2 {
		t.Fatalf("merged items = %d, want 2", len(stored.Items))
	}
	want := []struct {
		id    uuid.UUID
		count int
	}{{x.ID, 2}, {y.ID, 1}}
	for i, w := range want {
		if stored.Items[i].ID != w.id || stored.Items[i].Count != w.count {
			t.Errorf("item %d = %s x%d, want %s x%d", i, stored.Items[i].ID, stored.Items[i].Count, w.id, w.count)
		}
	}
	if !stored.Totals.Subtotal.Equal(decimal.RequireFromString("14.00")) {
		t.Errorf("merged subtotal = %s, want 14.00", stored.Totals.Subtotal)
	}
	if f.repo.Stored(b.ID) != nil {
		t.Error("source order should be removed")
	}
	f.assertNoClaims(t)
}

func TestMergeConflictLeavesOrdersUntouched(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, func(o *order.Order) { addTo(t, o, "x", "4.00", 2) })
	b := f.seed(t, func(o *order.Order) { addTo(t, o, "y", "6.00", 1) })

	other := f.otherTerminal()
	held, err := other.Acquire(context.Background(), b.ID, "edit")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer held.Release(context.Background())

	merged, err := f.engine.Merge(context.Background(), []uuid.UUID{a.ID, b.ID})
	if !errors.Is(err, lock.ErrConflict) {
		t.Fatalf("Merge() error = %v, want lock.ErrConflict", err)
	}
	if merged != nil {
		t.Error("Merge() should not return an order on conflict")
	}

	for _, o := range []*order.Order{a, b} {
		stored := f.repo.Stored(o.ID)
		if stored == nil || stored.Revision != 0 || len(stored.Items) != 1 {
			t.Errorf("order %s changed: %+v", o.ID, stored)
		}
	}

	holder, _ := f.locks.HolderOf(context.Background(), a.ID)
	if holder != "" {
		t.Errorf("order a still claimed by %q", holder)
	}
	holder, _ = f.locks.HolderOf(context.Background(), b.ID)
	if holder != "terminal-b" {
		t.Errorf("order b holder = %q, want terminal-b", holder)
	}
}

func TestMergeRejections(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, func(o *order.Order) { addTo(t, o, "x", "4.00", 1) })
	paid := f.seed(t, func(o *order.Order) {
		addTo(t, o, "y", "6.00", 1)
		bill, _ := o.Checkout("")
		o.Pay(bill.ID, order.Payment{Type: "cash", Amount: decimal.NewFromInt(6)})
	})

	tests := []struct {
		name    string
		ids     []uuid.UUID
		wantErr error
	}{
		{name: "singleOrder", ids: []uuid.UUID{a.ID}, wantErr: ErrMergeTooFew},
		{name: "sameOrderTwice", ids: []uuid.UUID{a.ID, a.ID}, wantErr: ErrMergeTooFew},
		{name: "sourceWithPayments", ids: []uuid.UUID{a.ID, paid.ID}},
		{name: "missingOrder", ids: []uuid.UUID{a.ID, uuid.New()}, wantErr: ErrOrderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, err := f.engine.Merge(context.Background(), tt.ids)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Merge() error = %v, want %v", err, tt.wantErr)
			}
			if merged != nil {
				t.Error("Merge() should not return an order")
			}
			if f.repo.Stored(a.ID).Revision != 0 {
				t.Error("target order should be untouched")
			}
			f.assertNoClaims(t)
		})
	}
}

func TestCombineWith(t *testing.T) {
	f := newFixture(t)
	source := f.seed(t, func(o *order.Order) { addTo(t, o, "x", "4.00", 1) })
	target := f.seed(t, func(o *order.Order) { addTo(t, o, "y", "6.00", 1) })

	merged, err := f.engine.CombineWith(context.Background(), source.ID, target.ID)
	if err != nil {
		t.Fatalf("CombineWith() error = %v", err)
	}
	if merged.ID != target.ID || len(merged.Items) != 2 {
		t.Errorf("CombineWith() = %s with %d items, want %s with 2", merged.ID, len(merged.Items), target.ID)
	}
	if f.repo.Stored(source.ID) != nil {
		t.Error("combined order should be removed")
	}
}

func TestSend(t *testing.T) {
	tests := []struct {
		name       string
		print      bool
		printFunc  func(ctx context.Context, o *order.Order, items []*order.OrderItem, kind PrintKind) ([]*order.OrderItem, error)
		wantSent   int
		wantPrints int
		wantErr    bool
	}{
		{name: "printsAndSubmits", print: true, wantSent: 2, wantPrints: 1},
		{name: "withoutPrint", print: false, wantSent: 2},
		{
			name:  "onlyPrintedItemsSubmit",
			print: true,
			printFunc: func(ctx context.Context, o *order.Order, items []*order.OrderItem, kind PrintKind) ([]*order.OrderItem, error) {
				return items[:1], nil
			},
			wantSent: 1,
		},
		{
			name:  "printerFailureAborts",
			print: true,
			printFunc: func(ctx context.Context, o *order.Order, items []*order.OrderItem, kind PrintKind) ([]*order.OrderItem, error) {
				return nil, errors.New("paper out")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.printer.PrintFunc = tt.printFunc
			seeded := f.seed(t, func(o *order.Order) {
				addTo(t, o, "Soup", "5.00", 1)
				addTo(t, o, "Salad", "7.00", 1)
				held := addTo(t, o, "Cake", "4.00", 1)
				held.Hold = true
			})

			o, sent, err := f.engine.Send(context.Background(), seeded.ID, tt.print)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Send() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(sent) != tt.wantSent {
				t.Errorf("sent = %d, want %d", len(sent), tt.wantSent)
			}
			if len(f.printer.Printed) != tt.wantPrints {
				t.Errorf("print jobs = %d, want %d", len(f.printer.Printed), tt.wantPrints)
			}

			stored := f.repo.Stored(seeded.ID)
			if tt.wantErr {
				if stored.Number != 0 || stored.Revision != 0 {
					t.Error("failed send should not change the order")
				}
				f.assertNoClaims(t)
				return
			}
			if o.Number != 1 || stored.Number != 1 {
				t.Errorf("order number = %d, want 1", stored.Number)
			}
			if stored.Status != "submitted" {
				t.Errorf("status = %q, want submitted", stored.Status)
			}
			if stored.Items[2].Submitted {
				t.Error("held item should not be submitted")
			}
			f.assertNoClaims(t)
		})
	}
}

func TestSendKeepsExistingNumber(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, func(o *order.Order) {
		o.Number = 41
		addTo(t, o, "Soup", "5.00", 1)
	})

	o, _, err := f.engine.Send(context.Background(), seeded.ID, false)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if o.Number != 41 {
		t.Errorf("order number = %d, want 41", o.Number)
	}
}

func TestVoidItems(t *testing.T) {
	approver := &Employee{ID: "mgr-1"}

	tests := []struct {
		name        string
		sent        bool
		prompter    *MockPrompter
		nilPrompter bool
		wantErr     error
		wantVoided  bool
		wantRemoved bool
		wantNotices int
	}{
		{name: "newItemRemovedWithoutPrompt", prompter: &MockPrompter{}, wantRemoved: true},
		{name: "sentItemWithoutPrompter", sent: true, nilPrompter: true, wantErr: ErrPermissionDenied},
		{name: "sentItemPermissionDeclined", sent: true, prompter: &MockPrompter{}, wantErr: ErrPermissionDenied},
		{name: "sentItemReasonCancelled", sent: true, prompter: &MockPrompter{Approver: approver}, wantErr: ErrCancelled},
		{name: "sentItemVoided", sent: true, prompter: &MockPrompter{Approver: approver, Reason: "Wrong item"}, wantVoided: true, wantNotices: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var target *order.OrderItem
			seeded := f.seed(t, func(o *order.Order) {
				target = addTo(t, o, "Steak", "20.00", 1)
				addTo(t, o, "Fries", "4.00", 1)
				if tt.sent {
					sendAll(o)
				}
			})

			var p Prompter
			if !tt.nilPrompter {
				p = tt.prompter
			}
			_, err := f.engine.VoidItems(context.Background(), seeded.ID, []uuid.UUID{target.ID}, p)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("VoidItems() error = %v, want %v", err, tt.wantErr)
			}

			stored := f.repo.Stored(seeded.ID)
			item := stored.Item(target.ID)
			switch {
			case tt.wantRemoved:
				if item != nil {
					t.Error("new item should be removed")
				}
			case tt.wantVoided:
				if item == nil || !item.Voided || item.VoidedBy != "mgr-1" || item.VoidReason != "Wrong item" {
					t.Errorf("item = %+v, want voided by mgr-1", item)
				}
				if !stored.Totals.Subtotal.Equal(decimal.RequireFromString("4.00")) {
					t.Errorf("subtotal = %s, want 4.00", stored.Totals.Subtotal)
				}
			default:
				if item == nil || item.Voided || stored.Revision != 0 {
					t.Error("declined void should not change the order")
				}
			}
			if len(f.notifier.Notices) != tt.wantNotices {
				t.Errorf("void notices = %d, want %d", len(f.notifier.Notices), tt.wantNotices)
			}
			f.assertNoClaims(t)
		})
	}
}

func TestVoidOrder(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, func(o *order.Order) {
		addTo(t, o, "Steak", "20.00", 1)
		sendAll(o)
	})

	p := &MockPrompter{Approver: &Employee{ID: "mgr-1"}, Reason: "Customer left"}
	o, err := f.engine.VoidOrder(context.Background(), seeded.ID, p)
	if err != nil {
		t.Fatalf("VoidOrder() error = %v", err)
	}
	if o.Status != "voided" {
		t.Errorf("status = %q, want voided", o.Status)
	}
	if len(f.notifier.Notices) != 1 || !f.notifier.Notices[0].Amount.Equal(decimal.RequireFromString("20.00")) {
		t.Errorf("notices = %+v, want one notice of 20.00", f.notifier.Notices)
	}
}

func TestEditItemUnbillsFirst(t *testing.T) {
	f := newFixture(t)
	var item *order.OrderItem
	seeded := f.seed(t, func(o *order.Order) {
		item = addTo(t, o, "Wine", "9.00", 1)
		o.Checkout("")
	})

	count := 2
	o, err := f.engine.EditItem(context.Background(), seeded.ID, item.ID, order.ItemEdit{Count: &count}, nil)
	if err != nil {
		t.Fatalf("EditItem() error = %v", err)
	}
	if len(o.Bills) != 0 {
		t.Errorf("bills = %d, want 0 after unbill", len(o.Bills))
	}
	if got := o.Item(item.ID); got.Count != 2 || got.BilledCount != 0 {
		t.Errorf("item count = %d billed = %d, want 2 and 0", got.Count, got.BilledCount)
	}
}

func TestEditPaidItemIsNoop(t *testing.T) {
	f := newFixture(t)
	var item *order.OrderItem
	seeded := f.seed(t, func(o *order.Order) {
		item = addTo(t, o, "Wine", "9.00", 1)
		bill, _ := o.Checkout("")
		o.Pay(bill.ID, order.Payment{Type: "cash", Amount: decimal.NewFromInt(9)})
	})

	count := 3
	o, err := f.engine.EditItem(context.Background(), seeded.ID, item.ID, order.ItemEdit{Count: &count}, nil)
	if err != nil || o != nil {
		t.Fatalf("EditItem() = %v, %v, want nil, nil", o, err)
	}
	if f.repo.Stored(seeded.ID).Item(item.ID).Count != 1 {
		t.Error("paid item should keep its count")
	}
}

func TestEditSentItemNeedsPermission(t *testing.T) {
	f := newFixture(t)
	var item *order.OrderItem
	seeded := f.seed(t, func(o *order.Order) {
		item = addTo(t, o, "Wine", "9.00", 1)
		sendAll(o)
	})
	notes := "no ice"

	_, err := f.engine.EditItem(context.Background(), seeded.ID, item.ID, order.ItemEdit{Notes: &notes}, &MockPrompter{})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("EditItem() error = %v, want ErrPermissionDenied", err)
	}

	p := &MockPrompter{Approver: &Employee{ID: "mgr-1"}}
	o, err := f.engine.EditItem(context.Background(), seeded.ID, item.ID, order.ItemEdit{Notes: &notes}, p)
	if err != nil {
		t.Fatalf("EditItem() error = %v", err)
	}
	if o.Item(item.ID).Notes != notes || p.PermissionCalls != 1 {
		t.Errorf("notes = %q permission calls = %d", o.Item(item.ID).Notes, p.PermissionCalls)
	}
}

func TestAddOption(t *testing.T) {
	f := newFixture(t)
	var item *order.OrderItem
	seeded := f.seed(t, func(o *order.Order) { item = addTo(t, o, "Burger", "10.00", 2) })

	modifier := order.OrderModifier{ModifierID: uuid.New(), Name: "Extras"}
	opt := order.ModifierOption{OptionID: uuid.New(), Name: "Bacon", PriceDelta: decimal.RequireFromString("1.50")}
	o, err := f.engine.AddOption(context.Background(), seeded.ID, item.ID, modifier, opt, nil)
	if err != nil {
		t.Fatalf("AddOption() error = %v", err)
	}
	if !o.Totals.Subtotal.Equal(decimal.RequireFromString("23.00")) {
		t.Errorf("subtotal = %s, want 23.00", o.Totals.Subtotal)
	}
}

func TestCheckoutAndClose(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, func(o *order.Order) {
		o.TaxRate = 0.1
		addTo(t, o, "Burger", "10.00", 3)
	})
	ctx := context.Background()

	_, bill, err := f.engine.Checkout(ctx, seeded.ID, "")
	if err != nil || bill == nil {
		t.Fatalf("Checkout() = %v, %v", bill, err)
	}
	_, again, err := f.engine.Checkout(ctx, seeded.ID, "")
	if err != nil || again != nil {
		t.Fatalf("second Checkout() = %v, %v, want nil, nil", again, err)
	}

	closed, err := f.engine.Close(ctx, seeded.ID, "emp-1")
	if err != nil || closed != nil {
		t.Fatalf("Close() with unpaid bill = %v, %v, want nil, nil", closed, err)
	}
	if f.repo.Stored(seeded.ID).Status != "checked" {
		t.Errorf("status = %q, want checked", f.repo.Stored(seeded.ID).Status)
	}

	_, tx, err := f.engine.Pay(ctx, seeded.ID, bill.ID, order.Payment{Type: "cash", Amount: decimal.RequireFromString("33.00")})
	if err != nil || tx == nil {
		t.Fatalf("Pay() = %v, %v", tx, err)
	}

	closed, err = f.engine.Close(ctx, seeded.ID, "emp-1")
	if err != nil || closed == nil {
		t.Fatalf("Close() = %v, %v", closed, err)
	}
	if closed.Status != "closed" || closed.ClosedBy != "emp-1" {
		t.Errorf("closed order = %s by %q", closed.Status, closed.ClosedBy)
	}
	f.assertNoClaims(t)
}

func TestPrintCheck(t *testing.T) {
	f := newFixture(t)
	var billID uuid.UUID
	seeded := f.seed(t, func(o *order.Order) {
		addTo(t, o, "Burger", "10.00", 1)
		bill, _ := o.Checkout("")
		billID = bill.ID
	})

	o, err := f.engine.PrintCheck(context.Background(), seeded.ID, billID)
	if err != nil {
		t.Fatalf("PrintCheck() error = %v", err)
	}
	if o.Status != "printed" || o.Bill(billID).PrintedAt == nil {
		t.Errorf("status = %q printed_at = %v", o.Status, o.Bill(billID).PrintedAt)
	}
	if len(f.printer.Checks) != 1 {
		t.Errorf("checks printed = %d, want 1", len(f.printer.Checks))
	}

	if _, err := f.engine.PrintCheck(context.Background(), seeded.ID, uuid.New()); !errors.Is(err, order.ErrBillNotFound) {
		t.Errorf("PrintCheck() unknown bill error = %v, want ErrBillNotFound", err)
	}
}

func TestVoidTransactionNeedsPermission(t *testing.T) {
	f := newFixture(t)
	var txID uuid.UUID
	seeded := f.seed(t, func(o *order.Order) {
		addTo(t, o, "Burger", "10.00", 1)
		bill, _ := o.Checkout("")
		tx, _ := o.Pay(bill.ID, order.Payment{Type: "credit", Amount: decimal.NewFromInt(4)})
		txID = tx.ID
	})

	if _, err := f.engine.VoidTransaction(context.Background(), seeded.ID, txID, nil); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("VoidTransaction() error = %v, want ErrPermissionDenied", err)
	}

	o, err := f.engine.VoidTransaction(context.Background(), seeded.ID, txID, &MockPrompter{Approver: &Employee{ID: "mgr-1"}})
	if err != nil {
		t.Fatalf("VoidTransaction() error = %v", err)
	}
	if len(o.Transactions) != 2 || !o.Bills[0].Tendered.IsZero() {
		t.Errorf("transactions = %d tendered = %s", len(o.Transactions), o.Bills[0].Tendered)
	}
}

func TestMoveTo(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, nil)
	area, table := uuid.New(), uuid.New()

	o, err := f.engine.MoveTo(context.Background(), seeded.ID, area, &table)
	if err != nil {
		t.Fatalf("MoveTo() error = %v", err)
	}
	if o.AreaID != area || o.TableID == nil || *o.TableID != table {
		t.Errorf("order at %s/%v, want %s/%s", o.AreaID, o.TableID, area, table)
	}
}

func TestAbandon(t *testing.T) {
	f := newFixture(t)
	empty := f.seed(t, nil)
	busy := f.seed(t, func(o *order.Order) { addTo(t, o, "Soup", "5.00", 1) })

	deleted, err := f.engine.Abandon(context.Background(), empty.ID)
	if err != nil || !deleted {
		t.Fatalf("Abandon(empty) = %v, %v, want true", deleted, err)
	}
	if f.repo.Stored(empty.ID) != nil {
		t.Error("empty order should be deleted")
	}

	deleted, err = f.engine.Abandon(context.Background(), busy.ID)
	if err != nil || deleted {
		t.Fatalf("Abandon(busy) = %v, %v, want false", deleted, err)
	}
	f.assertNoClaims(t)
}

func TestToggle(t *testing.T) {
	f := newFixture(t)
	var fresh, sent *order.OrderItem
	seeded := f.seed(t, func(o *order.Order) {
		sent = addTo(t, o, "Soup", "5.00", 1)
		sendAll(o)
		fresh = addTo(t, o, "Cake", "4.00", 1)
	})

	o, err := f.engine.Toggle(context.Background(), seeded.ID, ToggleHold, selection.FilterAll, nil)
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if !o.Item(fresh.ID).Hold || o.Item(sent.ID).Hold {
		t.Error("only the unsent item should be held")
	}

	o, err = f.engine.Toggle(context.Background(), seeded.ID, ToggleTogo, selection.FilterNone, []uuid.UUID{sent.ID})
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if !o.Item(sent.ID).Togo {
		t.Error("sent item should be togo")
	}

	o, err = f.engine.Toggle(context.Background(), seeded.ID, ToggleTogo, selection.FilterNone, nil)
	if err != nil || o != nil {
		t.Errorf("Toggle() with empty selection = %v, %v, want nil, nil", o, err)
	}
}

func TestResolveTableOrder(t *testing.T) {
	f := newFixture(t)
	table := uuid.New()
	first := f.seed(t, func(o *order.Order) { o.TableID = &table })
	second := f.seed(t, func(o *order.Order) { o.TableID = &table })
	f.seed(t, func(o *order.Order) {
		o.TableID = &table
		o.Close("emp-1", time.Now())
	})

	if _, err := f.engine.ResolveTableOrder(context.Background(), table, nil); !errors.Is(err, selection.ErrAmbiguous) {
		t.Fatalf("ResolveTableOrder() error = %v, want ErrAmbiguous", err)
	}

	choice := f.repo.Stored(second.ID)
	o, err := f.engine.ResolveTableOrder(context.Background(), table, &MockPrompter{Choice: choice})
	if err != nil || o.ID != second.ID {
		t.Fatalf("ResolveTableOrder() = %v, %v, want %s", o, err, second.ID)
	}

	if _, err := f.engine.ResolveTableOrder(context.Background(), table, &MockPrompter{}); !errors.Is(err, ErrCancelled) {
		t.Errorf("ResolveTableOrder() error = %v, want ErrCancelled", err)
	}

	f.engine.Abandon(context.Background(), second.ID)
	o, err = f.engine.ResolveTableOrder(context.Background(), table, nil)
	if err != nil || o.ID != first.ID {
		t.Errorf("ResolveTableOrder() = %v, %v, want %s", o, err, first.ID)
	}
}

func TestPublishChangeEvent(t *testing.T) {
	f := newFixture(t)
	table := uuid.New()
	seeded := f.seed(t, func(o *order.Order) { o.TableID = &table })

	if _, err := f.engine.MoveTo(context.Background(), seeded.ID, uuid.New(), &table); err != nil {
		t.Fatalf("MoveTo() error = %v", err)
	}

	var evt event.OrderChangedEvent
	if err := json.Unmarshal(f.pub.Messages[event.OrderChangesTopic][0], &evt); err != nil {
		t.Fatalf("cannot decode change event: %v", err)
	}
	if evt.OrderID != seeded.ID.String() || evt.Revision != 1 || evt.Source != "terminal-a" || evt.TableID != table.String() {
		t.Errorf("change event = %+v", evt)
	}
}
