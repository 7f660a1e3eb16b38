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

const transactionsCollection = "transactions"

// TransactionRepo is append-only: existing transactions are never rewritten.
type TransactionRepo struct {
	collection *mongo.Collection
}

func NewTransactionRepo(db *mongo.Database) *TransactionRepo {
	return &TransactionRepo{collection: db.Collection(transactionsCollection)}
}

func (r *TransactionRepo) ListByOrders(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]*order.Transaction, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"order_id": bson.M{"$in": orderIDs}}, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var txs []*order.Transaction
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("cannot decode transactions: %w", err)
	}

	byOrder := make(map[uuid.UUID][]*order.Transaction, len(orderIDs))
	for _, tx := range txs {
		byOrder[tx.OrderID] = append(byOrder[tx.OrderID], tx)
	}
	return byOrder, nil
}

// Append inserts the transactions that are not stored yet.
func (r *TransactionRepo) Append(ctx context.Context, txs []*order.Transaction) error {
	for _, tx := range txs {
		_, err := r.collection.InsertOne(ctx, tx)
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("cannot record transaction: %w", err)
		}
	}
	return nil
}

func (r *TransactionRepo) DeleteByOrder(ctx context.Context, orderID uuid.UUID) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"order_id": orderID}); err != nil {
		return fmt.Errorf("cannot delete transactions: %w", err)
	}
	return nil
}
