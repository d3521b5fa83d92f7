package worker

import (
	"sync"
	"time"
)

type workerMeta struct {
	ch        chan Job
	lastUsed  time.Time
	idle      bool // sitting in the idle list
	discarded bool // retired or about to be
}

// jobChannelPool keeps between min and max workers alive. Workers above min
// that stay idle longer than expiry are retired.
type jobChannelPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*workerMeta
	metadata map[chan Job]*workerMeta
	min      int
	max      int
	running  int
	expiry   time.Duration
	quit     chan struct{}
}

const defaultWorkerIdle = 30 * time.Second

func newJobChannelPool(minWorkers, maxWorkers int, idle time.Duration) *jobChannelPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if minWorkers < 0 {
		minWorkers = 0
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &jobChannelPool{
		metadata: make(map[chan Job]*workerMeta),
		min:      minWorkers,
		max:      maxWorkers,
		expiry:   idle,
		quit:     make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < minWorkers; i++ {
		if ch := p.spawn(); ch != nil {
			p.Release(ch)
		}
	}
	go p.purgeStaleWorkers()
	return p
}

// spawn starts a worker if the pool has room and returns its channel.
func (p *jobChannelPool) spawn() chan Job {
	p.mu.Lock()
	if p.running >= p.max {
		p.mu.Unlock()
		return nil
	}
	w := NewWorker(p)
	p.metadata[w.jobChannel] = &workerMeta{ch: w.jobChannel, lastUsed: time.Now()}
	p.running++
	p.mu.Unlock()
	w.Start()
	return w.jobChannel
}

// acquire returns an idle worker, starts a new one, or waits for a release.
func (p *jobChannelPool) acquire() chan Job {
	for {
		p.mu.Lock()
		if meta := p.popIdleLocked(); meta != nil {
			p.mu.Unlock()
			return meta.ch
		}
		full := p.running >= p.max
		if full {
			p.cond.Wait()
		}
		p.mu.Unlock()
		if !full {
			if ch := p.spawn(); ch != nil {
				return ch
			}
		}
	}
}

// Release puts a worker back on the idle list.
func (p *jobChannelPool) Release(ch chan Job) {
	p.mu.Lock()
	meta, ok := p.metadata[ch]
	if !ok || meta.discarded || meta.idle {
		p.mu.Unlock()
		return
	}
	meta.idle = true
	meta.lastUsed = time.Now()
	p.idle = append(p.idle, meta)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *jobChannelPool) retire(ch chan Job) {
	p.mu.Lock()
	if meta, ok := p.metadata[ch]; ok {
		delete(p.metadata, ch)
		meta.discarded = true
		if p.running > 0 {
			p.running--
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *jobChannelPool) popIdleLocked() *workerMeta {
	for len(p.idle) > 0 {
		meta := p.idle[0]
		p.idle = p.idle[1:]
		if meta.discarded {
			continue
		}
		meta.idle = false
		return meta
	}
	return nil
}

func (p *jobChannelPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *jobChannelPool) purgeStaleWorkers() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.shutdownExpired(time.Now())
		}
	}
}

// shutdownExpired retires idle workers past expiry while staying at or above min.
func (p *jobChannelPool) shutdownExpired(now time.Time) {
	var stale []*workerMeta

	p.mu.Lock()
	remaining := p.idle[:0]
	for _, meta := range p.idle {
		if meta.discarded {
			continue
		}
		if now.Sub(meta.lastUsed) >= p.expiry && p.running-len(stale) > p.min {
			meta.discarded = true
			meta.idle = false
			stale = append(stale, meta)
			continue
		}
		remaining = append(remaining, meta)
	}
	p.idle = remaining
	p.mu.Unlock()

	for _, meta := range stale {
		meta.ch <- Job{Type: Stop}
	}
}

func (p *jobChannelPool) close() {
	select {
	case <-p.quit:
	default:
		close(p.quit)
	}
}
