package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/netsync/internal/transport"
)

// RedisChecker checks Redis connectivity.
type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Name() string { return "redis" }

func (r *RedisChecker) Check(ctx context.Context) error {
	if r.client == nil {
		return errors.New("redis client not configured")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// SnapshotSource is anything that publishes a transport snapshot.
type SnapshotSource interface {
	Snapshot() *transport.Snapshot
}

// TransportChecker reports the server down when it is not listening and
// degraded when its tick loop has stopped publishing.
type TransportChecker struct {
	source SnapshotSource
	stale  time.Duration
	now    func() time.Time
}

// NewTransportChecker flags the tick loop as stalled once the latest
// snapshot is older than stale.
func NewTransportChecker(source SnapshotSource, stale time.Duration) *TransportChecker {
	return &TransportChecker{source: source, stale: stale, now: time.Now}
}

func (t *TransportChecker) Name() string { return "transport" }

func (t *TransportChecker) Check(ctx context.Context) error {
	snap := t.source.Snapshot()
	switch {
	case snap == nil, !snap.Listening:
		return errors.New("transport listener is not active")
	case snap.Queue.Closed:
		return errors.New("transport delivery queue is closed")
	}

	if age := t.now().Sub(snap.UpdatedAt); t.stale > 0 && age > t.stale {
		return Degraded("tick loop has not run for %s", age.Round(time.Millisecond))
	}
	return nil
}
