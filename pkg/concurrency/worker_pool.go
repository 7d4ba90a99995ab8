// Package concurrency provides the bounded worker pool that limits how many
// slow outbound calls the process runs at once.
//
// Work beyond the worker count waits in a queue, and when the queue is full
// Submit blocks the caller. Nothing is rejected for lack of capacity.
//
// Tasks run with the pool's own context rather than the submitter's. A caller
// that gives up stops waiting for the result, but the task it submitted still
// runs to completion.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrPoolStopped is returned when work is submitted to a stopped pool.
var ErrPoolStopped = errors.New("worker pool is stopped")

// RuntimeEnvironment represents the deployment environment
type RuntimeEnvironment string

const (
	EnvironmentLambda RuntimeEnvironment = "lambda"
	EnvironmentECS    RuntimeEnvironment = "ecs"
	EnvironmentLocal  RuntimeEnvironment = "local"
)

// PoolConfig contains configuration for the worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	QueueSize   int
	Environment RuntimeEnvironment
}

// Task is a unit of work executed by one worker.
type Task struct {
	ID       string
	Execute  func(ctx context.Context) error
	Callback func(id string, err error)
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Name          string `json:"name"`
	Environment   string `json:"environment"`
	Workers       int    `json:"workers"`
	Busy          int64  `json:"busy"`
	Queued        int    `json:"queued"`
	QueueCapacity int    `json:"queue_capacity"`
	Completed     int64  `json:"completed"`
	Failed        int64  `json:"failed"`
	Panics        int64  `json:"panics"`
	Running       bool   `json:"running"`
}

// WorkerPool runs tasks on a fixed number of goroutines.
type WorkerPool struct {
	name        string
	environment RuntimeEnvironment
	workers     int
	taskQueue   chan Task
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.RWMutex
	running     bool
	started     sync.Once
	logger      *zap.Logger

	busy      atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// DetectEnvironment automatically detects the runtime environment
func DetectEnvironment() RuntimeEnvironment {
	if _, exists := os.LookupEnv("AWS_LAMBDA_FUNCTION_NAME"); exists {
		return EnvironmentLambda
	}
	if _, exists := os.LookupEnv("ECS_CONTAINER_METADATA_URI_V4"); exists {
		return EnvironmentECS
	}
	if _, exists := os.LookupEnv("ECS_CONTAINER_METADATA_URI"); exists {
		return EnvironmentECS
	}
	return EnvironmentLocal
}

func lambdaMemoryMB() int {
	mem, err := strconv.Atoi(os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE"))
	if err != nil || mem <= 0 {
		return 512
	}
	return mem
}

// DefaultWorkerCount returns the worker count used when none is configured.
// Outbound model calls are I/O bound, so counts exceed the CPU count.
func DefaultWorkerCount(env RuntimeEnvironment) int {
	switch env {
	case EnvironmentLambda:
		if lambdaMemoryMB() < 1024 {
			return 2
		}
		return 4
	case EnvironmentECS:
		return min(runtime.NumCPU()*4, 32)
	default:
		return min(max(runtime.NumCPU(), 2)*2, 16)
	}
}

// NewWorkerPool creates a pool. Workers start on first submission.
func NewWorkerPool(ctx context.Context, config PoolConfig, logger *zap.Logger) *WorkerPool {
	if config.Environment == "" {
		config.Environment = DetectEnvironment()
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultWorkerCount(config.Environment)
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.MaxWorkers * 16
	}
	if config.Name == "" {
		config.Name = "worker_pool"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &WorkerPool{
		name:        config.Name,
		environment: config.Environment,
		workers:     config.MaxWorkers,
		taskQueue:   make(chan Task, config.QueueSize),
		ctx:         poolCtx,
		cancel:      cancel,
		logger:      logger.With(zap.String("pool", config.Name)),
	}
}

func (p *WorkerPool) startWorkersLazy() {
	p.started.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.running || p.ctx.Err() != nil {
			return
		}
		p.logger.Debug("Starting workers",
			zap.Int("workers", p.workers),
			zap.String("environment", string(p.environment)),
		)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.workerWithRecovery(i)
		}
		p.running = true
	})
}

func (p *WorkerPool) workerWithRecovery(id int) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("Worker recovered from panic",
				zap.Int("worker", id),
				zap.Any("panic", r),
			)
			p.mu.RLock()
			if p.running {
				p.wg.Add(1)
				go p.workerWithRecovery(id)
			}
			p.mu.RUnlock()
		}
	}()
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *WorkerPool) run(task Task) {
	p.busy.Add(1)
	start := time.Now()
	err := p.execute(task)
	p.busy.Add(-1)

	if err != nil {
		p.failed.Add(1)
		p.logger.Debug("Task failed",
			zap.String("task_id", task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	} else {
		p.completed.Add(1)
	}
	if task.Callback != nil {
		task.Callback(task.ID, err)
	}
}

func (p *WorkerPool) execute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("Task panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	return task.Execute(p.ctx)
}

// Submit queues a task, blocking while the queue is full. It returns early
// only when ctx is done or the pool is stopped.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	if task.Execute == nil {
		return fmt.Errorf("task %q has no Execute function", task.ID)
	}
	p.startWorkersLazy()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the pool and waits for it. If ctx ends first, Do returns
// ctx.Err() while fn keeps running and its result is discarded.
func (p *WorkerPool) Do(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	err := p.Submit(ctx, Task{
		ID:      id,
		Execute: fn,
		Callback: func(_ string, err error) {
			done <- err
		},
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the pool context and waits for the workers to exit.
// Queued tasks that have not started are dropped.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns current pool statistics.
func (p *WorkerPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PoolStats{
		Name:          p.name,
		Environment:   string(p.environment),
		Workers:       p.workers,
		Busy:          p.busy.Load(),
		Queued:        len(p.taskQueue),
		QueueCapacity: cap(p.taskQueue),
		Completed:     p.completed.Load(),
		Failed:        p.failed.Load(),
		Panics:        p.panics.Load(),
		Running:       p.running,
	}
}
