package sheets

import (
	"context"
	"sync"
)

// Pool is the bounded worker pool every blocking vendor RPC is shipped to.
// Its size is the single concurrency knob for spreadsheet I/O.
type Pool struct {
	jobs chan poolJob
	wg   sync.WaitGroup

	closeOnce sync.Once
}

type poolJob struct {
	ctx  context.Context
	fn   func() error
	done chan error
}

// NewPool starts size workers. Size is fixed for the process lifetime.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 8
	}
	p := &Pool{jobs: make(chan poolJob, size*4)}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := job.ctx.Err(); err != nil {
			job.done <- err
			continue
		}
		job.done <- job.fn()
	}
}

// Do runs fn on a worker and waits for the result. The caller is released as
// soon as ctx is cancelled even if the job is still queued; a queued job whose
// context died is skipped by the worker.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	job := poolJob{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for in-flight ones.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
