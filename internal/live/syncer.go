package live

import (
	"context"
	"time"

	"portfoliochat/internal/models"
)

// HistoryLoader is the read side of the transcript store.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, sessionID string, limit int) []*models.Message
}

// Snapshot is the full message list an observer should render.
type Snapshot struct {
	SessionID string            `json:"session_id"`
	Messages  []*models.Message `json:"messages"`
}

// Syncer turns change notices into transcript snapshots.
type Syncer struct {
	loader  HistoryLoader
	feed    Feed
	limit   int
	refresh time.Duration
}

// NewSyncer builds a Syncer. A positive refresh re-reads the transcript on
// that interval as well, so a lost notice delays an observer by at most one
// interval. Feeds that already tick, such as PollFeed, can pass 0.
func NewSyncer(loader HistoryLoader, feed Feed, limit int, refresh time.Duration) *Syncer {
	return &Syncer{loader: loader, feed: feed, limit: limit, refresh: refresh}
}

// Watch emits the current snapshot right away and then one snapshot per
// observed change. A snapshot identical to the previous one is not emitted,
// and an unread snapshot is replaced by a newer one rather than queued. The
// channel closes when ctx ends or the feed goes away.
func (s *Syncer) Watch(ctx context.Context, sessionID string) <-chan Snapshot {
	out := make(chan Snapshot, 1)
	notices, cancel := s.feed.Subscribe(ctx, sessionID)
	go func() {
		defer close(out)
		defer cancel()

		var last signature
		emit := func() {
			msgs := s.loader.LoadHistory(ctx, sessionID, s.limit)
			sig := signatureOf(msgs)
			if sig == last && last.valid {
				return
			}
			// transcripts only grow; an empty read after a non-empty one is a failed load
			if sig.count == 0 && last.count > 0 {
				return
			}
			last = sig
			replace(out, Snapshot{SessionID: sessionID, Messages: msgs})
		}

		var tick <-chan time.Time
		if s.refresh > 0 {
			ticker := time.NewTicker(s.refresh)
			defer ticker.Stop()
			tick = ticker.C
		}

		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notices:
				if !ok {
					return
				}
				emit()
			case <-tick:
				emit()
			}
		}
	}()
	return out
}

// signature identifies an append-only window of messages.
type signature struct {
	valid   bool
	count   int
	firstID int64
	lastID  int64
}

func signatureOf(msgs []*models.Message) signature {
	sig := signature{valid: true, count: len(msgs)}
	if len(msgs) > 0 {
		sig.firstID = msgs[0].ID
		sig.lastID = msgs[len(msgs)-1].ID
	}
	return sig
}

// replace sends snap, discarding a pending unread snapshot if needed.
// out must only be written by the caller's goroutine.
func replace(out chan Snapshot, snap Snapshot) {
	select {
	case out <- snap:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	out <- snap
}
