package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherRunsJob(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4})
	defer d.Close()

	var ran bool
	if err := d.Do(context.Background(), "s1", func(context.Context) { ran = true }); err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if !ran {
		t.Fatalf("job did not run before Do returned")
	}
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	const maxWorkers = 2
	d := NewDispatcher(DispatcherConfig{MinWorkers: 0, MaxWorkers: maxWorkers, QueueSize: 16})
	defer d.Close()

	var (
		current int32
		peak    int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		session := string(rune('a' + i))
		go func() {
			defer wg.Done()
			err := d.Do(context.Background(), session, func(context.Context) {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&current, -1)
			})
			if err != nil {
				t.Errorf("Do error: %v", err)
			}
		}()
	}
	wg.Wait()
	if p := atomic.LoadInt32(&peak); p > maxWorkers {
		t.Fatalf("peak concurrency %d exceeds %d workers", p, maxWorkers)
	}
}

func TestDispatcherBusyWhenSaturated(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	defer d.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go d.Do(context.Background(), "blocker", func(context.Context) {
		close(started)
		<-release
	})
	<-started

	// one worker busy, at most one job held by the dispatch loop and one
	// buffered: of four more submissions at least two must be refused
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			errs <- d.Do(context.Background(), "other", func(context.Context) {})
		}()
	}
	busy := 0
	deadline := time.After(2 * time.Second)
	for busy < 2 {
		select {
		case err := <-errs:
			if errors.Is(err, ErrDispatcherBusy) {
				busy++
			}
		case <-deadline:
			t.Fatalf("expected ErrDispatcherBusy, got %d refusals", busy)
		}
	}
	close(release)
}

func TestDispatcherSkipsCancelledJob(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran atomic.Bool
	if err := d.Do(ctx, "s1", func(context.Context) { ran.Store(true) }); err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if ran.Load() {
		t.Fatalf("job with cancelled context should be skipped")
	}
}

func TestDispatcherRecoversFromPanic(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	defer d.Close()

	if err := d.Do(context.Background(), "s1", func(context.Context) { panic("boom") }); err != nil {
		t.Fatalf("Do error: %v", err)
	}
	var ran bool
	if err := d.Do(context.Background(), "s1", func(context.Context) { ran = true }); err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if !ran {
		t.Fatalf("worker should survive a panicking job")
	}
}

func TestDispatcherClosed(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	d.Close()
	if err := d.Do(context.Background(), "s1", func(context.Context) {}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestDoReturnsWhenCloseRaces(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 8})
		var wg sync.WaitGroup
		var ran atomic.Int32
		results := make(chan error, 4)
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- d.Do(context.Background(), "s1", func(context.Context) { ran.Add(1) })
			}()
		}
		go d.Close()

		finished := make(chan struct{})
		go func() {
			wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: Do blocked after Close", i)
		}
		close(results)
		var ok int32
		for err := range results {
			switch {
			case err == nil:
				ok++
			case !errors.Is(err, ErrDispatcherClosed):
				t.Fatalf("unexpected error %v", err)
			}
		}
		// a nil result means the job really ran
		if ok != ran.Load() {
			t.Fatalf("iteration %d: %d calls returned nil but %d jobs ran", i, ok, ran.Load())
		}
	}
}

func TestPoolRetiresIdleWorkersAboveMin(t *testing.T) {
	p := newJobChannelPool(1, 3, time.Minute)
	defer p.close()

	a := p.acquire()
	b := p.acquire()
	c := p.acquire()
	if p.size() != 3 {
		t.Fatalf("expected 3 workers, got %d", p.size())
	}
	p.Release(a)
	p.Release(b)
	p.Release(c)

	p.shutdownExpired(time.Now().Add(2 * time.Minute))
	deadline := time.Now().Add(2 * time.Second)
	for p.size() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected pool to shrink to min, size=%d", p.size())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
