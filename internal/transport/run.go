package transport

import (
	"context"
	"time"
)

// Run calls p.Process every interval until ctx is done. It is the simplest
// tick driver; applications with their own loop call Process directly.
func Run(ctx context.Context, p Peer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Process()
		}
	}
}
