package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionLimiter caps registered connections per remote host and in total.
// A limit of 0 disables that check.
type ConnectionLimiter struct {
	maxPerHost int
	maxTotal   int
	hosts      map[string]int // host -> connection count
	total      int
	mu         sync.Mutex
}

// NewConnectionLimiter creates a new connection limiter
func NewConnectionLimiter(maxPerHost, maxTotal int) *ConnectionLimiter {
	return &ConnectionLimiter{
		maxPerHost: maxPerHost,
		maxTotal:   maxTotal,
		hosts:      make(map[string]int),
	}
}

// Verdict explains the outcome of TryAcquire.
type Verdict int

const (
	Admitted Verdict = iota
	TotalExceeded
	HostExceeded
)

func (v Verdict) String() string {
	switch v {
	case Admitted:
		return "admitted"
	case TotalExceeded:
		return "max_connections"
	case HostExceeded:
		return "per_host"
	default:
		return "unknown"
	}
}

// TryAcquire takes a slot for host if both limits allow it.
func (cl *ConnectionLimiter) TryAcquire(host string) Verdict {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.maxTotal > 0 && cl.total >= cl.maxTotal {
		return TotalExceeded
	}

	current := cl.hosts[host]
	if cl.maxPerHost > 0 && current >= cl.maxPerHost {
		return HostExceeded
	}

	cl.hosts[host] = current + 1
	cl.total++
	return Admitted
}

// Release returns a slot taken by TryAcquire.
func (cl *ConnectionLimiter) Release(host string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	count, ok := cl.hosts[host]
	if !ok || count == 0 {
		return
	}
	if count == 1 {
		delete(cl.hosts, host)
	} else {
		cl.hosts[host] = count - 1
	}
	cl.total--
}

// Count returns the current connection count for a host
func (cl *ConnectionLimiter) Count(host string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.hosts[host]
}

// Total returns the total connection count
func (cl *ConnectionLimiter) Total() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.total
}

// AcceptLimiter throttles how fast new connections are admitted. A nil
// *AcceptLimiter admits everything.
type AcceptLimiter struct {
	limiter *rate.Limiter
}

// NewAcceptLimiter allows perSecond new connections with the given burst.
// perSecond <= 0 returns nil, which disables throttling.
func NewAcceptLimiter(perSecond float64, burst int) *AcceptLimiter {
	if perSecond <= 0 {
		return nil
	}
	return &AcceptLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow reports whether one more connection may be admitted now.
func (a *AcceptLimiter) Allow() bool {
	if a == nil {
		return true
	}
	return a.limiter.Allow()
}

// AllowAt is Allow for an explicit instant.
func (a *AcceptLimiter) AllowAt(t time.Time) bool {
	if a == nil {
		return true
	}
	return a.limiter.AllowN(t, 1)
}
