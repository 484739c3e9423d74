package health

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Pinger is a store that can report its own reachability. *db.Store and
// *db.MemoryStore satisfy it.
type Pinger interface {
	Ping(ctx context.Context, timeout time.Duration) error
}

// Deps probes the payment store and Redis.
type Deps struct {
	Store Pinger
	Redis redis.UniversalClient
}

func (d Deps) PingDB(ctx context.Context, timeout time.Duration) error {
	if d.Store == nil {
		return errors.New("db not configured")
	}
	return d.Store.Ping(ctx, timeout)
}

func (d Deps) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}
