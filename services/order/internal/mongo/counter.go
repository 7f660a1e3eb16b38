package mongo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const countersCollection = "counters"

// OrderNumberer hands out visible order numbers from a per-store counter.
type OrderNumberer struct {
	collection *mongo.Collection
}

func NewOrderNumberer(db *mongo.Database) *OrderNumberer {
	return &OrderNumberer{collection: db.Collection(countersCollection)}
}

func (n *OrderNumberer) Next(ctx context.Context, storeID uuid.UUID) (int, error) {
	filter := bson.M{"_id": "order_number:" + storeID.String()}
	update := bson.M{"$inc": bson.M{"seq": 1}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc struct {
		Seq int `bson:"seq"`
	}
	if err := n.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return 0, fmt.Errorf("cannot allocate order number: %w", err)
	}
	return doc.Seq, nil
}
