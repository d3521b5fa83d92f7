package live

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"portfoliochat/internal/config"
	"portfoliochat/internal/models"
	"portfoliochat/internal/redis"
)

type memoryLoader struct {
	mu    sync.Mutex
	msgs  []*models.Message
	loads int
}

func (m *memoryLoader) LoadHistory(_ context.Context, _ string, _ int) []*models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	return append([]*models.Message(nil), m.msgs...)
}

func (m *memoryLoader) add(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, &models.Message{ID: int64(len(m.msgs) + 1), Content: content})
}

// manualFeed delivers a notice whenever the test calls Publish.
type manualFeed struct {
	mu   sync.Mutex
	subs []chan Notice
}

func (f *manualFeed) Publish(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		offer(ch, Notice{SessionID: sessionID, At: time.Now()})
	}
	return nil
}

func (f *manualFeed) Subscribe(ctx context.Context, _ string) (<-chan Notice, func()) {
	ch := make(chan Notice, 1)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func receive(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("snapshot channel closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func expectNone(t *testing.T, ch <-chan Snapshot, wait time.Duration) {
	t.Helper()
	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot with %d messages", len(snap.Messages))
	case <-time.After(wait):
	}
}

func TestSyncerEmitsInitialAndChanges(t *testing.T) {
	loader := &memoryLoader{}
	loader.add("hi")
	feed := &manualFeed{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snaps := NewSyncer(loader, feed, 50, 0).Watch(ctx, "s1")
	if snap := receive(t, snaps); len(snap.Messages) != 1 || snap.SessionID != "s1" {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}

	loader.add("hello")
	feed.Publish(ctx, "s1")
	if snap := receive(t, snaps); len(snap.Messages) != 2 || snap.Messages[1].Content != "hello" {
		t.Fatalf("unexpected snapshot after change: %+v", snap)
	}
}

func TestSyncerSkipsUnchangedSnapshots(t *testing.T) {
	loader := &memoryLoader{}
	loader.add("hi")
	feed := &manualFeed{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snaps := NewSyncer(loader, feed, 50, 0).Watch(ctx, "s1")
	receive(t, snaps)
	feed.Publish(ctx, "s1")
	expectNone(t, snaps, 100*time.Millisecond)
}

func TestSyncerClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	snaps := NewSyncer(&memoryLoader{}, &manualFeed{}, 50, 0).Watch(ctx, "s1")
	receive(t, snaps)
	cancel()
	select {
	case _, ok := <-snaps:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}

func TestReplaceKeepsNewest(t *testing.T) {
	out := make(chan Snapshot, 1)
	replace(out, Snapshot{SessionID: "old"})
	replace(out, Snapshot{SessionID: "new"})
	if snap := <-out; snap.SessionID != "new" {
		t.Fatalf("expected newest snapshot, got %q", snap.SessionID)
	}
}

func TestPollFeedTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notices, stop := NewPollFeed(10 * time.Millisecond).Subscribe(ctx, "s1")
	defer stop()
	select {
	case n := <-notices:
		if n.SessionID != "s1" {
			t.Fatalf("unexpected notice %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("no tick received")
	}
}

func TestSyncerWithPollFeed(t *testing.T) {
	loader := &memoryLoader{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snaps := NewSyncer(loader, NewPollFeed(10*time.Millisecond), 50, 0).Watch(ctx, "s1")
	if snap := receive(t, snaps); len(snap.Messages) != 0 {
		t.Fatalf("expected empty initial snapshot")
	}
	loader.add("admin joined")
	if snap := receive(t, snaps); len(snap.Messages) != 1 {
		t.Fatalf("expected polled snapshot with 1 message, got %d", len(snap.Messages))
	}
}

func TestSyncerRefreshCoversLostNotice(t *testing.T) {
	loader := &memoryLoader{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// manualFeed never fires unless Publish is called
	snaps := NewSyncer(loader, &manualFeed{}, 50, 20*time.Millisecond).Watch(ctx, "s1")
	receive(t, snaps)

	loader.add("written while the notice was lost")
	if snap := receive(t, snaps); len(snap.Messages) != 1 {
		t.Fatalf("expected refreshed snapshot with 1 message, got %d", len(snap.Messages))
	}
	expectNone(t, snaps, 80*time.Millisecond)
}

func TestRedisFeedRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		t.Fatalf("TEST_REDIS_ADDR must be host:port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("invalid port: %v", err)
	}
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	feed := NewRedisFeed(client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notices, stop := feed.Subscribe(ctx, "redis-feed-test")
	defer stop()

	if err := feed.Publish(ctx, "redis-feed-test"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case n := <-notices:
		if n.SessionID != "redis-feed-test" {
			t.Fatalf("unexpected notice %+v", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no notice received")
	}
}
