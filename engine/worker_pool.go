package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// JobHandler transfers one job. A returned error counts as a failed job.
type JobHandler func(context.Context, TransferJob) error

// WorkerPool drains a JobChannel with a resizable number of goroutines.
//
// A worker stops when the channel is closed and empty, when the pool shrinks
// below it, or when the pool context is canceled. Shrinking never interrupts
// a job: the retired worker finishes its current transfer first.
type WorkerPool struct {
	jobs    JobChannel
	handler JobHandler
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	retire  []chan struct{} // one per live worker, newest last
	spawned int
	running sync.WaitGroup

	failed atomic.Int64
}

// NewWorkerPool creates a pool with no workers; call SetWorkerCount to start.
func NewWorkerPool(ctx context.Context, jobs JobChannel, handler JobHandler, log *slog.Logger) *WorkerPool {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		jobs:    jobs,
		handler: handler,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetWorkerCount grows or shrinks the pool to n workers.
func (p *WorkerPool) SetWorkerCount(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.retire) < n {
		stop := make(chan struct{})
		p.retire = append(p.retire, stop)
		p.spawned++
		p.running.Add(1)
		go p.work(p.spawned, stop)
	}
	for len(p.retire) > n && len(p.retire) > 0 {
		last := len(p.retire) - 1
		close(p.retire[last])
		p.retire = p.retire[:last]
	}
}

// WorkerCount returns the number of workers the pool is sized for.
func (p *WorkerPool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.retire)
}

// Failed returns how many jobs returned an error.
func (p *WorkerPool) Failed() int64 {
	return p.failed.Load()
}

func (p *WorkerPool) work(id int, stop <-chan struct{}) {
	defer p.running.Done()
	for {
		// a pending retire or cancel wins over queued jobs
		select {
		case <-stop:
			return
		case <-p.ctx.Done():
			return
		default:
		}

		select {
		case <-stop:
			return
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := p.handler(p.ctx, job); err != nil {
				p.failed.Add(1)
				p.log.Warn("Transfer failed",
					slog.Int("worker", id),
					slog.String("source", job.SourcePath),
					"err", err)
			}
		}
	}
}

// Wait blocks until every worker has exited, which happens on its own once
// the job channel is closed and drained.
func (p *WorkerPool) Wait() {
	p.running.Wait()
	p.cancel()
}

// Stop cancels running jobs and waits for all workers to exit.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.running.Wait()
}
