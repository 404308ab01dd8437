package presence

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zsiec/netsync/internal/config"
	"github.com/zsiec/netsync/internal/logger"
	"github.com/zsiec/netsync/internal/metrics"
	"github.com/zsiec/netsync/internal/transport"
)

// opTimeout bounds one store call.
const opTimeout = 2 * time.Second

type opKind uint8

const (
	opAnnounce opKind = iota
	opWithdraw
)

type op struct {
	kind opKind
	rec  *Record
	id   string
}

// SnapshotSource is the server state the heartbeat reads from.
type SnapshotSource interface {
	Snapshot() *transport.Snapshot
}

// Tracker turns server events into store writes. Handle runs on the tick
// goroutine and never blocks: events that do not fit in the buffer are
// dropped and the next heartbeat repairs what it can.
type Tracker struct {
	store    Store
	source   SnapshotSource
	node     string
	interval time.Duration
	ops      chan op
	logger   logger.Logger
	dropped  atomic.Int64
	now      func() time.Time
}

func NewTracker(store Store, source SnapshotSource, cfg *config.PresenceConfig, node string, log logger.Logger) *Tracker {
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 1024
	}
	return &Tracker{
		store:    store,
		source:   source,
		node:     node,
		interval: cfg.HeartbeatInterval,
		ops:      make(chan op, buffer),
		logger:   logger.OrNull(log).WithField("component", "presence"),
		now:      time.Now,
	}
}

// Handle is a transport.Handler.
func (t *Tracker) Handle(ev transport.Event) {
	var o op
	switch ev.Type {
	case transport.ClientConnected:
		o = op{kind: opAnnounce, rec: RecordFromConnection(t.node, ev.Conn, t.now())}
	case transport.ClientDisconnected:
		o = op{kind: opWithdraw, id: ev.ClientID()}
	default:
		return
	}

	select {
	case t.ops <- o:
	default:
		t.dropped.Add(1)
		metrics.IncrementPresenceError("dropped")
	}
}

// Dropped returns how many events did not fit in the buffer.
func (t *Tracker) Dropped() int64 { return t.dropped.Load() }

// Run applies queued events and heartbeats until ctx is done, then flushes
// what is still queued.
func (t *Tracker) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if t.interval > 0 {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case o := <-t.ops:
			t.apply(ctx, o)
		case <-tick:
			t.heartbeat(ctx)
		case <-ctx.Done():
			t.flush()
			return nil
		}
	}
}

func (t *Tracker) flush() {
	for {
		select {
		case o := <-t.ops:
			t.apply(context.Background(), o)
		default:
			return
		}
	}
}

func (t *Tracker) apply(ctx context.Context, o op) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	switch o.kind {
	case opAnnounce:
		if err := t.store.Announce(ctx, o.rec); err != nil {
			metrics.IncrementPresenceError("announce")
			t.logger.WithError(err).WithField("client_id", o.rec.ClientID).Warn("Failed to announce client")
		}
	case opWithdraw:
		if err := t.store.Withdraw(ctx, o.id); err != nil {
			metrics.IncrementPresenceError("withdraw")
			t.logger.WithError(err).WithField("client_id", o.id).Warn("Failed to withdraw client")
		}
	}
}

func (t *Tracker) heartbeat(ctx context.Context) {
	snap := t.source.Snapshot()
	if snap == nil || len(snap.Clients) == 0 {
		return
	}

	now := t.now()
	recs := make([]*Record, 0, len(snap.Clients))
	for _, ci := range snap.Clients {
		recs = append(recs, RecordFromInfo(t.node, ci, now))
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := t.store.Heartbeat(ctx, recs); err != nil {
		metrics.IncrementPresenceError("heartbeat")
		t.logger.WithError(err).Warn("Presence heartbeat failed")
	}
}
