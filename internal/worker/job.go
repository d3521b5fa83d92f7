package worker

import (
	"context"
	"errors"
)

// ErrDispatcherBusy is returned when the intake queue is full.
var ErrDispatcherBusy = errors.New("dispatcher busy")

// ErrDispatcherClosed is returned after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

type JobType string

const (
	Generate JobType = "generate"
	Stop     JobType = "stop"
)

// Job is one unit of work queued for a conversation.
type Job struct {
	Type      JobType
	SessionID string
	ctx       context.Context
	fn        func(context.Context)
	done      chan error // closed after run, or given ErrDispatcherClosed by drain
}

func (j Job) run() {
	defer close(j.done)
	// skip work whose caller has already gone away
	if j.ctx.Err() != nil {
		return
	}
	j.fn(j.ctx)
}

// release hands back a job that will never run.
func (j Job) release() {
	j.done <- ErrDispatcherClosed
	close(j.done)
}
