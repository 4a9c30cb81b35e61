package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

// PanicResult is delivered in place of the result of a job that panicked
type PanicResult struct {
	Value any
}

// GetError implements Result
func (r *PanicResult) GetError() error {
	return fmt.Errorf("job panicked: %v", r.Value)
}

// Pool runs jobs on a fixed set of workers started by NewPool. Results are
// delivered on Results in completion order; a job that has started always
// delivers its result, even if the pool is stopped while it runs. The results
// channel is closed once the pool is closed and every accepted job has
// finished, or once the pool's context is done and running jobs have returned.
type Pool struct {
	size    int
	jobs    chan Job
	results chan Result
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts size workers. Cancelling parent stops the pool as Stop does.
func NewPool(parent context.Context, size int) *Pool {
	if size <= 0 {
		size = 1
	}

	ctx, cancel := context.WithCancel(parent)
	p := &Pool{
		size:    size,
		jobs:    make(chan Job, size),
		results: make(chan Result, size),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.running.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	go func() {
		p.running.Wait()
		close(p.results)
	}()
	return p
}

func (p *Pool) work() {
	defer p.running.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if p.ctx.Err() != nil {
				return
			}
			p.results <- p.execute(job)
		}
	}
}

func (p *Pool) execute(job Job) (res Result) {
	defer func() {
		if v := recover(); v != nil {
			slog.Error("worker job panicked", "panic", v)
			res = &PanicResult{Value: v}
		}
	}()
	return job.Execute(p.ctx)
}

// Submit queues a job. It blocks while the queue is full and returns false
// if the pool is closed or stopped. Results must be drained concurrently
// once more jobs are submitted than the pool can buffer.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || p.ctx.Err() != nil {
		return false
	}

	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- job:
		return true
	}
}

// Results returns the channel results are delivered on
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops accepting jobs. Queued jobs still run. Close waits for
// in-progress Submit calls, so call it from the submitting goroutine.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
}

// Stop cancels the pool's context and waits for the workers to exit.
// Unstarted jobs are dropped; running jobs observe cancellation. Results not
// yet received are discarded, so drain Results first to keep them.
func (p *Pool) Stop() {
	p.cancel()
	for range p.results {
	}
}
