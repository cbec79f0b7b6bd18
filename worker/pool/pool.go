package pool

import (
	"context"
	"sync"

	"imageOptimizer/worker/kafka"
)

// WorkerPool bounds concurrent task execution. The semaphore size doubles as
// the consumer's effective prefetch limit: once it is full, the consume loop
// blocks and no further deliveries are pulled.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

// Run executes the handler for one message, blocking until a slot frees up.
// Blocking here (instead of spawning) is what propagates backpressure to the
// queue consumer.
func (p *WorkerPool) Run(ctx context.Context, msg *kafka.TaskMessage, handler func(context.Context, *kafka.TaskMessage) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	defer func() {
		<-p.sem
		p.wg.Done()
	}()
	return handler(ctx, msg)
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
