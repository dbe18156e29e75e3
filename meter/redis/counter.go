// Package redis stores meter counters in Redis so every node sees the same
// daily usage.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/escrow/meter"
)

// decrExisting decrements KEYS[1] only while it exists. A plain DECR on a key
// that expired at midnight would recreate it at -1 without a TTL.
var decrExisting = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

// Counter implements meter.Counter with INCR and EXPIREAT.
type Counter struct {
	client redis.UniversalClient
}

var _ meter.Counter = (*Counter)(nil)

// New wraps an existing client. Single-node and cluster clients both work.
func New(client redis.UniversalClient) *Counter {
	return &Counter{client: client}
}

// Open connects to addrs. More than one address selects cluster mode.
func Open(ctx context.Context, addrs []string, password string) (*Counter, error) {
	if len(addrs) == 0 {
		return nil, errors.New("meter/redis: no address")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Counter{client: client}, nil
}

// Client returns the underlying client.
func (c *Counter) Client() redis.UniversalClient { return c.client }

// Incr bumps key and sets its expiry in one MULTI block.
func (c *Counter) Incr(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Decr undoes one Incr. A key that has already expired stays absent.
func (c *Counter) Decr(ctx context.Context, key string) error {
	return decrExisting.Run(ctx, c.client, []string{key}).Err()
}

func (c *Counter) Get(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Close closes the client.
func (c *Counter) Close() error { return c.client.Close() }
