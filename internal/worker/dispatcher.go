package worker

import (
	"container/list"
	"context"
	"log"
	"sync"
	"time"
)

// DispatcherConfig sizes the worker pool and the intake queue.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
	// Debug logs every hand-off to a worker.
	Debug bool
}

type sessionQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands queued jobs to pooled workers, taking one job per
// conversation in round-robin order so a busy conversation cannot starve others.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job

	mu        sync.Mutex
	queues    map[string]*sessionQueue
	ready     *list.List // session ids with pending jobs
	positions map[string]*list.Element

	// closeMu orders intake against Close so that every accepted job is
	// either run or released by drain.
	closeMu   sync.RWMutex
	closed    bool
	quit      chan struct{}
	closeOnce sync.Once
	debug     bool
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout),
		jobQueue:  make(chan Job, queueSize),
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		quit:      make(chan struct{}),
		debug:     cfg.Debug,
	}
	go d.run()
	return d
}

// Do queues fn for sessionID and blocks until it has run. fn is skipped when ctx
// is already done by the time a worker picks it up. Jobs still queued when the
// dispatcher closes are not run and report ErrDispatcherClosed.
func (d *Dispatcher) Do(ctx context.Context, sessionID string, fn func(context.Context)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	job := Job{
		Type:      Generate,
		SessionID: sessionID,
		ctx:       ctx,
		fn:        fn,
		done:      make(chan error, 1),
	}
	d.closeMu.RLock()
	if d.closed {
		d.closeMu.RUnlock()
		return ErrDispatcherClosed
	}
	select {
	case d.jobQueue <- job:
	default:
		d.closeMu.RUnlock()
		return ErrDispatcherBusy
	}
	d.closeMu.RUnlock()
	return <-job.done
}

// Close stops intake. Jobs already handed to workers finish normally.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.closeMu.Lock()
		d.closed = true
		d.closeMu.Unlock()
		close(d.quit)
		d.pool.close()
	})
}

func (d *Dispatcher) run() {
	for {
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				d.drain()
				return
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			d.drain()
			return
		default:
		}
	}
}

// drain releases callers whose jobs never reached a worker.
func (d *Dispatcher) drain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, q := range d.queues {
		for _, job := range q.jobs {
			job.release()
		}
	}
	d.queues = make(map[string]*sessionQueue)
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	for {
		select {
		case job := <-d.jobQueue:
			job.release()
		default:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.SessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[job.SessionID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.SessionID] = d.ready.PushBack(job.SessionID)
}

// dispatchOne hands the front conversation's oldest job to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	sessionID := elem.Value.(string)
	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
		delete(d.queues, sessionID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if d.debug {
		log.Printf("[dispatcher] assign %s job for session %s (workers=%d)", job.Type, sessionID, d.pool.size())
	}
	workerChan <- job
	return true
}
