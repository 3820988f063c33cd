// Package workers provides a bounded goroutine pool for running
// independent backtests in parallel. Each task must own its component
// set; the pool adds no synchronization around task state.
package workers

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work.
type Task interface {
	Execute() error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

var (
	ErrPoolStopped = errors.New("pool is stopped")
	ErrQueueFull   = errors.New("task queue is full")
)

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	ShutdownTimeout time.Duration
}

// DefaultPoolConfig sizes the pool for CPU-bound backtest jobs.
func DefaultPoolConfig(name string) PoolConfig {
	return PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       256,
		ShutdownTimeout: 30 * time.Second,
	}
}

// PoolStats are the pool counters.
type PoolStats struct {
	TasksSubmitted int64 `json:"tasksSubmitted"`
	TasksCompleted int64 `json:"tasksCompleted"`
	TasksFailed    int64 `json:"tasksFailed"`
	PanicRecovered int64 `json:"panicRecovered"`
}

// Pool runs submitted tasks on a fixed set of worker goroutines.
type Pool struct {
	logger *zap.Logger
	config PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	submitted      atomic.Int64
	completed      atomic.Int64
	failed         atomic.Int64
	panicRecovered atomic.Int64
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(logger *zap.Logger, config PoolConfig) *Pool {
	if config.NumWorkers <= 0 {
		config.NumWorkers = runtime.NumCPU()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	p.logger.Info("worker pool starting",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
	)
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.execute(id, task)
		}
	}
}

func (p *Pool) execute(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panicRecovered.Add(1)
			p.failed.Add(1)
			p.logger.Error("task panic recovered",
				zap.String("pool", p.config.Name),
				zap.Int("worker_id", id),
				zap.Any("panic", r),
			)
		}
	}()

	if err := task.Execute(); err != nil {
		p.failed.Add(1)
		p.logger.Debug("task failed",
			zap.String("pool", p.config.Name),
			zap.Error(err),
		)
		return
	}
	p.completed.Add(1)
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		p.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc enqueues a function as a task.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	for {
		if p.submitted.Load() == p.completed.Load()+p.failed.Load() && len(p.taskQueue) == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// Stop drains nothing: it signals the workers and waits up to the
// shutdown timeout.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timeout := p.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("pool shutdown timed out")
	}
}

// QueueLength returns the number of queued tasks.
func (p *Pool) QueueLength() int {
	return len(p.taskQueue)
}

// Stats returns the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TasksSubmitted: p.submitted.Load(),
		TasksCompleted: p.completed.Load(),
		TasksFailed:    p.failed.Load(),
		PanicRecovered: p.panicRecovered.Load(),
	}
}
