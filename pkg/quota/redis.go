package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "quota:"
	maxRetries = 5
)

// redisStore keeps one counter key per client and day. Keys expire at the
// next local midnight.
type redisStore struct {
	client     *redis.Client
	ownsClient bool // dialed by NewStore rather than injected
	max        int
	now        func() time.Time
}

func newRedisStore(client *redis.Client, o *options) *redisStore {
	return &redisStore{
		client:     client,
		ownsClient: client != o.redisClient,
		max:        o.dailyMax,
		now:        o.now,
	}
}

func (s *redisStore) key(clientID, date string) string {
	return keyPrefix + clientID + ":" + date
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getCount(ctx context.Context, c getter, key string) (int, error) {
	n, err := c.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Check implements Store.
func (s *redisStore) Check(ctx context.Context, clientID string) (Status, error) {
	now := s.now()
	date, _ := day(now)
	n, err := getCount(ctx, s.client, s.key(clientID, date))
	if err != nil {
		return Status{}, err
	}
	return newStatus(clientID, now, n, s.max), nil
}

// Consume implements Store. The read, limit check and INCR run under
// WATCH so concurrent consumers cannot push the count past max.
func (s *redisStore) Consume(ctx context.Context, clientID string) (Status, error) {
	now := s.now()
	date, reset := day(now)
	key := s.key(clientID, date)

	var n int
	txf := func(tx *redis.Tx) error {
		var err error
		n, err = getCount(ctx, tx, key)
		if err != nil {
			return err
		}
		if n >= s.max {
			return ErrExhausted
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Incr(ctx, key)
			pipe.ExpireAt(ctx, key, reset)
			return nil
		})
		return err
	}

	for range maxRetries {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return newStatus(clientID, now, n+1, s.max), nil
		case errors.Is(err, ErrExhausted):
			return newStatus(clientID, now, n, s.max), ErrExhausted
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return Status{}, err
		}
	}
	return Status{}, fmt.Errorf("quota: %s still contended after %d attempts", key, maxRetries)
}

// Close implements Store.
// Close releases the client only when the store dialed it; an injected
// client stays with its owner.
func (s *redisStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}
