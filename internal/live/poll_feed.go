package live

import (
	"context"
	"time"
)

const DefaultPollInterval = 2 * time.Second

// PollFeed is the fallback changefeed: it emits a notice on every tick and
// ignores Publish, so observers re-read the transcript at a fixed interval.
type PollFeed struct {
	interval time.Duration
}

func NewPollFeed(interval time.Duration) *PollFeed {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollFeed{interval: interval}
}

func (p *PollFeed) Publish(context.Context, string) error {
	return nil
}

func (p *PollFeed) Subscribe(ctx context.Context, sessionID string) (<-chan Notice, func()) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Notice, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				offer(ch, Notice{SessionID: sessionID, At: t})
			}
		}
	}()
	return ch, cancel
}
