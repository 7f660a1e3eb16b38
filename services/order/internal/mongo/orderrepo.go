package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/appetiteclub/pos/services/order/internal/order"
)

const ordersCollection = "orders"

var errOrderNotFound = errors.New("order not found")

// OrderRepo keeps each order, bill and transaction in its own document.
type OrderRepo struct {
	collection   *mongo.Collection
	bills        *BillRepo
	transactions *TransactionRepo
}

func NewOrderRepo(db *mongo.Database) *OrderRepo {
	return &OrderRepo{
		collection:   db.Collection(ordersCollection),
		bills:        NewBillRepo(db),
		transactions: NewTransactionRepo(db),
	}
}

func (r *OrderRepo) Create(ctx context.Context, o *order.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	if _, err := r.collection.InsertOne(ctx, o); err != nil {
		return fmt.Errorf("cannot create order: %w", err)
	}

	return r.saveChildren(ctx, o)
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var o order.Order
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get order: %w", err)
	}

	if err := r.attach(ctx, []*order.Order{&o}); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepo) ListByTable(ctx context.Context, tableID uuid.UUID) ([]*order.Order, error) {
	return r.find(ctx, bson.M{"table_id": tableID}, "cannot list orders by table")
}

func (r *OrderRepo) ListByStatus(ctx context.Context, status string) ([]*order.Order, error) {
	return r.find(ctx, bson.M{"status": status}, "cannot list orders by status")
}

func (r *OrderRepo) List(ctx context.Context) ([]*order.Order, error) {
	return r.find(ctx, bson.M{}, "cannot list orders")
}

// Save replaces the order only when the stored revision precedes o.Revision.
func (r *OrderRepo) Save(ctx context.Context, o *order.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	filter := bson.M{"_id": o.ID, "revision": o.Revision - 1}
	result, err := r.collection.ReplaceOne(ctx, filter, o)
	if err != nil {
		return fmt.Errorf("cannot update order: %w", err)
	}

	if result.MatchedCount == 0 {
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": o.ID})
		if err != nil {
			return fmt.Errorf("cannot update order: %w", err)
		}
		if count == 0 {
			return errOrderNotFound
		}
		return order.ErrStaleRevision
	}

	return r.saveChildren(ctx, o)
}

func (r *OrderRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("cannot delete order: %w", err)
	}

	if result.DeletedCount == 0 {
		return errOrderNotFound
	}

	if err := r.bills.DeleteByOrder(ctx, id); err != nil {
		return err
	}
	return r.transactions.DeleteByOrder(ctx, id)
}

func (r *OrderRepo) find(ctx context.Context, filter bson.M, errMsg string) ([]*order.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	defer cursor.Close(ctx)

	var result []*order.Order
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode orders: %w", err)
	}

	if err := r.attach(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// attach loads bills and transactions for a batch of orders.
func (r *OrderRepo) attach(ctx context.Context, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}

	bills, err := r.bills.ListByOrders(ctx, ids)
	if err != nil {
		return err
	}
	txs, err := r.transactions.ListByOrders(ctx, ids)
	if err != nil {
		return err
	}

	for _, o := range orders {
		o.Bills = bills[o.ID]
		o.Transactions = txs[o.ID]
	}
	return nil
}

func (r *OrderRepo) saveChildren(ctx context.Context, o *order.Order) error {
	if err := r.bills.Sync(ctx, o.ID, o.Bills); err != nil {
		return err
	}
	return r.transactions.Append(ctx, o.Transactions)
}
