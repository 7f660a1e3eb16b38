package mongo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/appetiteclub/pos/services/order/internal/order"
)

const billsCollection = "bills"

// BillRepo stores one document per bill. Bills are written through the
// order repository so they always match the order revision they belong to.
type BillRepo struct {
	collection *mongo.Collection
}

func NewBillRepo(db *mongo.Database) *BillRepo {
	return &BillRepo{collection: db.Collection(billsCollection)}
}

func (r *BillRepo) ListByOrders(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]*order.Bill, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"order_id": bson.M{"$in": orderIDs}}, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list bills: %w", err)
	}
	defer cursor.Close(ctx)

	var bills []*order.Bill
	if err := cursor.All(ctx, &bills); err != nil {
		return nil, fmt.Errorf("cannot decode bills: %w", err)
	}

	byOrder := make(map[uuid.UUID][]*order.Bill, len(orderIDs))
	for _, b := range bills {
		byOrder[b.OrderID] = append(byOrder[b.OrderID], b)
	}
	return byOrder, nil
}

// Sync upserts the given bills and removes every other bill of the order,
// which is how an unbill reaches the store.
func (r *BillRepo) Sync(ctx context.Context, orderID uuid.UUID, bills []*order.Bill) error {
	keep := make([]uuid.UUID, 0, len(bills))
	for _, b := range bills {
		b.OrderID = orderID
		_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": b.ID}, b, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("cannot save bill: %w", err)
		}
		keep = append(keep, b.ID)
	}

	_, err := r.collection.DeleteMany(ctx, bson.M{"order_id": orderID, "_id": bson.M{"$nin": keep}})
	if err != nil {
		return fmt.Errorf("cannot delete stale bills: %w", err)
	}
	return nil
}

func (r *BillRepo) DeleteByOrder(ctx context.Context, orderID uuid.UUID) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"order_id": orderID}); err != nil {
		return fmt.Errorf("cannot delete bills: %w", err)
	}
	return nil
}
