package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror is the shared-store seam a multi-gateway deployment would hang a
// distributed presence registry off. The single-process gateway uses it for
// two things only: an observable presence key per user, and the pending
// delivery-receipt backlog drained on reconnect.
type Mirror interface {
	SetOnline(ctx context.Context, user, gatewayID string, ttl time.Duration) error
	SetOffline(ctx context.Context, user string) error
	QueueDelivered(ctx context.Context, user string, payload []byte) error
	DrainDelivered(ctx context.Context, user string) ([][]byte, error)
}

// presence key: im:presence:<user>, value: gateway id, TTL bounds staleness.
func presenceKey(user string) string { return "im:presence:" + user }

// pending delivery receipts for a fully-offline sender:
// im:pending:deliv:<user>, a list of raw event frames.
func pendingDeliveredKey(user string) string { return "im:pending:deliv:" + user }

type RedisMirror struct {
	rdb *redis.Client
}

func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

func (m *RedisMirror) SetOnline(ctx context.Context, user, gatewayID string, ttl time.Duration) error {
	return m.rdb.Set(ctx, presenceKey(user), gatewayID, ttl).Err()
}

func (m *RedisMirror) SetOffline(ctx context.Context, user string) error {
	return m.rdb.Del(ctx, presenceKey(user)).Err()
}

func (m *RedisMirror) QueueDelivered(ctx context.Context, user string, payload []byte) error {
	return m.rdb.RPush(ctx, pendingDeliveredKey(user), payload).Err()
}

// DrainDelivered atomically takes the whole backlog. Best-effort: if the push
// to the fresh connection fails afterwards the drained events are gone.
func (m *RedisMirror) DrainDelivered(ctx context.Context, user string) ([][]byte, error) {
	key := pendingDeliveredKey(user)
	pipe := m.rdb.TxPipeline()
	lr := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	vals, err := lr.Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}
