// Package worker provides a bounded worker pool for fire-and-forget jobs.
package worker

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrQueueFull  = errors.New("worker queue is full")
)

// DropPolicy controls Submit behaviour when the queue is full.
type DropPolicy int

const (
	// DropPolicyBlock waits for queue space
	DropPolicyBlock DropPolicy = iota
	// DropPolicyDropNewest rejects the job with ErrQueueFull
	DropPolicyDropNewest
)

// Job represents a unit of work to be executed by a worker.
type Job struct {
	// ID is an optional identifier used in error reports
	ID      string
	Execute func(ctx context.Context) error
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	DropPolicy DropPolicy
	// OnError receives every failed job. Called from worker goroutines.
	OnError func(job Job, err error)
}

// Pool runs jobs on a fixed number of goroutines.
// Close drains the queue before returning.
type Pool struct {
	cfg      PoolConfig
	jobQueue chan Job
	wg       sync.WaitGroup
	ctx      context.Context

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a blocking pool with the given worker count and queue size.
func NewPool(ctx context.Context, workers int, queueSize int) *Pool {
	return NewPoolWithConfig(ctx, PoolConfig{Workers: workers, QueueSize: queueSize})
}

// NewPoolWithConfig creates a pool and starts its workers.
func NewPoolWithConfig(ctx context.Context, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	p := &Pool{
		cfg:      cfg,
		jobQueue: make(chan Job, cfg.QueueSize),
		ctx:      ctx,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobQueue {
		if err := job.Execute(p.ctx); err != nil && p.cfg.OnError != nil {
			p.cfg.OnError(job, err)
		}
	}
}

// Submit queues a job. It returns ErrPoolClosed after Close, and ErrQueueFull
// when the queue is full under DropPolicyDropNewest.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	if p.cfg.DropPolicy == DropPolicyDropNewest {
		select {
		case p.jobQueue <- job:
			return nil
		default:
			return ErrQueueFull
		}
	}

	select {
	case p.jobQueue <- job:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Close stops accepting jobs and waits until every queued job has run.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobQueue)
	p.mu.Unlock()

	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.cfg.Workers
}

// DropPolicy returns the configured drop policy.
func (p *Pool) DropPolicy() DropPolicy {
	return p.cfg.DropPolicy
}

// QueueLen returns the current number of jobs waiting in the queue.
func (p *Pool) QueueLen() int {
	return len(p.jobQueue)
}
