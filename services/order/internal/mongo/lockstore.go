package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/appetiteclub/pos/services/order/internal/lock"
)

const locksCollection = "locks"

var _ lock.Store = (*LockStore)(nil)

// LockStore keeps one document per claimed order, keyed by order id. The
// unique _id makes the claim atomic across terminals sharing the database.
type LockStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewLockStore(db *mongo.Database) *LockStore {
	return &LockStore{
		collection: db.Collection(locksCollection),
		now:        time.Now,
	}
}

func (s *LockStore) Claim(ctx context.Context, c lock.Claim) error {
	_, err := s.collection.InsertOne(ctx, c)
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("cannot insert claim: %w", err)
	}

	// Take over a claim whose lease ran out before the TTL monitor purged it.
	filter := bson.M{"_id": c.OrderID, "expires_at": bson.M{"$lte": s.now()}}
	res, err := s.collection.ReplaceOne(ctx, filter, c)
	if err != nil {
		return fmt.Errorf("cannot replace expired claim: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	current, err := s.Get(ctx, c.OrderID)
	if err != nil {
		return err
	}
	if current == nil {
		// Released between the insert and the read.
		if _, err := s.collection.InsertOne(ctx, c); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return &lock.ConflictError{OrderID: c.OrderID, Holder: "unknown"}
			}
			return fmt.Errorf("cannot insert claim: %w", err)
		}
		return nil
	}
	return &lock.ConflictError{OrderID: c.OrderID, Holder: current.Holder, Purpose: current.Purpose}
}

func (s *LockStore) Release(ctx context.Context, c lock.Claim) (bool, error) {
	filter := bson.M{"_id": c.OrderID, "holder": c.Holder, "token": c.Token}
	res, err := s.collection.DeleteOne(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("cannot delete claim: %w", err)
	}
	return res.DeletedCount == 1, nil
}

func (s *LockStore) Clear(ctx context.Context, orderID uuid.UUID) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": orderID}); err != nil {
		return fmt.Errorf("cannot delete claim: %w", err)
	}
	return nil
}

func (s *LockStore) Get(ctx context.Context, orderID uuid.UUID) (*lock.Claim, error) {
	var c lock.Claim
	err := s.collection.FindOne(ctx, bson.M{"_id": orderID}).Decode(&c)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get claim: %w", err)
	}
	if !c.Live(s.now()) {
		return nil, nil
	}
	return &c, nil
}

func (s *LockStore) List(ctx context.Context) ([]lock.Claim, error) {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("cannot list claims: %w", err)
	}
	defer cursor.Close(ctx)

	var all []lock.Claim
	if err := cursor.All(ctx, &all); err != nil {
		return nil, fmt.Errorf("cannot decode claims: %w", err)
	}

	now := s.now()
	live := make([]lock.Claim, 0, len(all))
	for _, c := range all {
		if c.Live(now) {
			live = append(live, c)
		}
	}
	return live, nil
}
