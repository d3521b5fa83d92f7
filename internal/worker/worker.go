package worker

import "log"

// Worker runs jobs handed to it through its own channel and returns itself to
// the pool after each one.
type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.execute(job)
			w.pool.Release(w.jobChannel)
		}
	}()
}

func (w *Worker) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker: job %s for session %s panicked: %v", job.Type, job.SessionID, r)
		}
	}()
	job.run()
}
