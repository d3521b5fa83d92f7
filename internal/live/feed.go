// Package live keeps observers of a conversation in step with its transcript.
package live

import (
	"context"
	"time"
)

// Notice tells subscribers that a conversation may have changed.
type Notice struct {
	SessionID string
	At        time.Time
}

// Feed is a changefeed over conversations. Publish announces a change and
// Subscribe delivers notices until the returned cancel func is called or ctx ends.
type Feed interface {
	Publish(ctx context.Context, sessionID string) error
	Subscribe(ctx context.Context, sessionID string) (<-chan Notice, func())
}

// offer delivers n without blocking, dropping it when an undelivered notice is
// already pending; one pending notice is enough to trigger a refresh.
func offer(ch chan Notice, n Notice) {
	select {
	case ch <- n:
	default:
	}
}
