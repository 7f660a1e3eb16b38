package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/appetiteclub/pos/services/order/internal/lock"
)

const keyPrefix = "pos:lock:"

var _ lock.Store = (*LockStore)(nil)

// releaseScript deletes the claim only while it is the caller's claim.
var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return 0
end
local c = cjson.decode(v)
if c.holder == ARGV[1] and c.token == ARGV[2] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockStore keeps claims as Redis keys. SETNX gives the atomic claim and
// the key TTL carries the lease when one is configured.
type LockStore struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewLockStore(rdb redis.UniversalClient) *LockStore {
	return &LockStore{rdb: rdb, now: time.Now}
}

func (s *LockStore) Claim(ctx context.Context, c lock.Claim) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal claim: %w", err)
	}

	var ttl time.Duration
	if c.ExpiresAt != nil {
		ttl = c.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			ttl = time.Millisecond
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.rdb.SetNX(ctx, key(c.OrderID), payload, ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to claim order: %w", err)
		}
		if ok {
			return nil
		}

		current, err := s.Get(ctx, c.OrderID)
		if err != nil {
			return err
		}
		if current != nil {
			return &lock.ConflictError{OrderID: c.OrderID, Holder: current.Holder, Purpose: current.Purpose}
		}
	}
	return &lock.ConflictError{OrderID: c.OrderID, Holder: "unknown"}
}

func (s *LockStore) Release(ctx context.Context, c lock.Claim) (bool, error) {
	n, err := releaseScript.Run(ctx, s.rdb, []string{key(c.OrderID)}, c.Holder, c.Token).Int()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("failed to release claim: %w", err)
	}
	return n == 1, nil
}

func (s *LockStore) Clear(ctx context.Context, orderID uuid.UUID) error {
	return s.rdb.Del(ctx, key(orderID)).Err()
}

func (s *LockStore) Get(ctx context.Context, orderID uuid.UUID) (*lock.Claim, error) {
	val, err := s.rdb.Get(ctx, key(orderID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return decodeClaim(val)
}

func (s *LockStore) List(ctx context.Context) ([]lock.Claim, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan claims: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read claims: %w", err)
	}

	claims := make([]lock.Claim, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		c, err := decodeClaim(raw)
		if err != nil {
			return nil, err
		}
		claims = append(claims, *c)
	}
	return claims, nil
}

func decodeClaim(raw string) (*lock.Claim, error) {
	var c lock.Claim
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claim: %w", err)
	}
	return &c, nil
}

func key(orderID uuid.UUID) string {
	return keyPrefix + orderID.String()
}
