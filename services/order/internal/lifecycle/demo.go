package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/seed"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/appetiteclub/pos/services/order/internal/order"
	"github.com/appetiteclub/pos/services/order/internal/selection"
)

const orderDemoSeedApplication = "pos_demo"

const demoEmployee = "seed:demo"

// DemoSeedID names the demo seed in the seed tracker.
const DemoSeedID = "2026-10-01_demo_orders_v1"

// DemoStoreID is the store every demo order belongs to.
var DemoStoreID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pos:store:demo"))

// DemoTableID derives a stable table id from its label so reseeding lands
// on the same tables.
func DemoTableID(label string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("pos:table:"+label))
}

// ApplyDemoSeeds drives a handful of orders through the engine so terminals
// start with open, checked and paid orders to work with.
func ApplyDemoSeeds(ctx context.Context, engine *Engine, db *mongo.Database, logger apt.Logger) error {
	if db == nil {
		return errors.New("database is required for demo seeding")
	}
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	demoSeeds := buildDemoOrderSeeds(engine, logger)
	tracker := seed.NewMongoTracker(db)

	logger.Info("Applying demo order seeds")
	if err := seed.Apply(ctx, tracker, demoSeeds, orderDemoSeedApplication); err != nil {
		return err
	}
	logger.Info("Demo order seeds applied successfully")
	return nil
}

func buildDemoOrderSeeds(engine *Engine, logger apt.Logger) []seed.Seed {
	return []seed.Seed{
		{
			ID:          DemoSeedID,
			Description: "Create demo orders across the lifecycle",
			Run: func(ctx context.Context) error {
				return seedDemoOrders(ctx, engine, logger)
			},
		},
	}
}

type demoScenario struct {
	table string
	run   func(ctx context.Context, e *Engine, tableID uuid.UUID) error
}

var demoScenarios = []demoScenario{
	{table: "Window-1", run: seedDrinksInProgress},
	{table: "Center-2", run: seedCheckPrinted},
	{table: "Patio-3", run: seedPaidAwaitingClose},
	{table: "Booth-7", run: seedSharedTable},
}

func seedDemoOrders(ctx context.Context, e *Engine, logger apt.Logger) error {
	if e == nil {
		return errors.New("engine is required for demo seeding")
	}
	for _, s := range demoScenarios {
		if err := s.run(ctx, e, DemoTableID(s.table)); err != nil {
			return fmt.Errorf("seed %s: %w", s.table, err)
		}
		logger.Debug("demo scenario seeded", "table", s.table)
	}
	logger.Info("Demo orders created successfully", "scenarios", len(demoScenarios))
	return nil
}

// Window-1: a couple with drinks sent and dessert still on the screen.
func seedDrinksInProgress(ctx context.Context, e *Engine, tableID uuid.UUID) error {
	o, err := openDemoOrder(ctx, e, tableID, 2)
	if err != nil {
		return err
	}
	if err := addDemoItems(ctx, e, o.ID,
		demoItem("Aperol Spritz", "11.00", 1, ""),
		demoItem("Espresso Martini", "12.50", 1, ""),
	); err != nil {
		return err
	}
	if _, _, err := e.Send(ctx, o.ID, false); err != nil {
		return err
	}
	return addDemoItems(ctx, e, o.ID, demoItem("Chocolate Lava Cake", "10.00", 1, "Extra vanilla ice cream"))
}

// Center-2: a group of four whose check was printed.
func seedCheckPrinted(ctx context.Context, e *Engine, tableID uuid.UUID) error {
	o, err := openDemoOrder(ctx, e, tableID, 4)
	if err != nil {
		return err
	}
	if err := addDemoItems(ctx, e, o.ID,
		demoItem("Ribeye Steak", "34.00", 2, "Medium rare"),
		demoItem("Grilled Salmon", "27.50", 1, ""),
		demoItem("Mushroom Risotto", "21.00", 1, "No parmesan"),
		demoItem("House Red", "9.00", 4, ""),
	); err != nil {
		return err
	}
	if _, _, err := e.Send(ctx, o.ID, false); err != nil {
		return err
	}
	_, bill, err := e.Checkout(ctx, o.ID, "Center-2")
	if err != nil {
		return err
	}
	if bill == nil {
		return fmt.Errorf("order %s produced no bill", o.ID)
	}
	_, err = e.PrintCheck(ctx, o.ID, bill.ID)
	return err
}

// Patio-3: a solo diner who paid cash and has not left yet.
func seedPaidAwaitingClose(ctx context.Context, e *Engine, tableID uuid.UUID) error {
	o, err := openDemoOrder(ctx, e, tableID, 1)
	if err != nil {
		return err
	}
	if err := addDemoItems(ctx, e, o.ID,
		demoItem("Caesar Salad", "13.00", 1, ""),
		demoItem("Sparkling Water", "3.50", 1, ""),
	); err != nil {
		return err
	}
	if _, _, err := e.Send(ctx, o.ID, false); err != nil {
		return err
	}
	_, bill, err := e.Checkout(ctx, o.ID, "Patio-3")
	if err != nil {
		return err
	}
	if bill == nil {
		return fmt.Errorf("order %s produced no bill", o.ID)
	}
	_, _, err = e.Pay(ctx, o.ID, bill.ID, order.Payment{
		Type:       "cash",
		Amount:     order.Display(bill.Totals.Total),
		Tip:        decimal.RequireFromString("3.00"),
		EmployeeID: demoEmployee,
	})
	return err
}

// Booth-7: two parties share the booth, one of them holding its mains.
func seedSharedTable(ctx context.Context, e *Engine, tableID uuid.UUID) error {
	first, err := openDemoOrder(ctx, e, tableID, 2)
	if err != nil {
		return err
	}
	if err := addDemoItems(ctx, e, first.ID,
		demoItem("Negroni", "12.00", 2, ""),
		demoItem("Truffle Fries", "8.00", 1, ""),
	); err != nil {
		return err
	}
	if _, _, err := e.Send(ctx, first.ID, false); err != nil {
		return err
	}

	second, err := openDemoOrder(ctx, e, tableID, 3)
	if err != nil {
		return err
	}
	if err := addDemoItems(ctx, e, second.ID,
		demoItem("Margherita Pizza", "16.00", 2, ""),
		demoItem("Lemonade", "4.50", 3, ""),
	); err != nil {
		return err
	}
	_, err = e.Toggle(ctx, second.ID, ToggleHold, selection.FilterNew, nil)
	return err
}

func openDemoOrder(ctx context.Context, e *Engine, tableID uuid.UUID, guests int) (*order.Order, error) {
	return e.NewOrder(ctx, NewOrderRequest{
		StoreID:    DemoStoreID,
		EmployeeID: demoEmployee,
		TableID:    &tableID,
		GuestCount: guests,
		TaxRate:    0.08,
	})
}

func addDemoItems(ctx context.Context, e *Engine, orderID uuid.UUID, items ...*order.OrderItem) error {
	for _, item := range items {
		o, _, err := e.AddItem(ctx, orderID, item)
		if err != nil {
			return fmt.Errorf("add %s: %w", item.Name, err)
		}
		if o == nil {
			return fmt.Errorf("add %s: order %s is final", item.Name, orderID)
		}
	}
	return nil
}

func demoItem(name, price string, count int, notes string) *order.OrderItem {
	item := order.NewOrderItem(uuid.NewSHA1(uuid.NameSpaceURL, []byte("pos:menu:"+name)), name, decimal.RequireFromString(price), count)
	item.Notes = notes
	item.CreatedBy = demoEmployee
	return item
}

// DemoSeedingFunc returns an OnStart hook that seeds demo orders in the
// background.
func DemoSeedingFunc(seedCtx context.Context, engine *Engine, db *mongo.Database, logger apt.Logger) func(ctx context.Context) error {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	return func(ctx context.Context) error {
		logger.Info("Starting demo order seeding in background")
		go func() {
			if err := ApplyDemoSeeds(seedCtx, engine, db, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Demo order seeds failed", "error", err)
			} else if err == nil {
				logger.Info("Demo order seeding completed successfully")
			}
		}()
		return nil
	}
}
