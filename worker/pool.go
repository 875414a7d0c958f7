package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/queue"
)

// Pool runs several independent worker loops on the same queue in one
// process.
type Pool struct {
	workers []*Worker
	logger  *slog.Logger
}

// NewPool creates concurrency workers for q. Every worker gets its own id;
// a WithID option is ignored.
func NewPool(q queue.Queue, concurrency int, opts ...Option) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	p := &Pool{workers: make([]*Worker, concurrency)}
	for i := range p.workers {
		w := New(q, opts...)
		w.id = id.NewWorkerID().String()
		p.workers[i] = w
	}
	p.logger = p.workers[0].logger
	return p
}

// Workers returns the pool's workers.
func (p *Pool) Workers() []*Worker { return p.workers }

// Run starts every worker and blocks until all of them have exited.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting",
		slog.Int("concurrency", len(p.workers)),
		slog.String("queue", p.workers[0].queueName),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	err := g.Wait()

	p.logger.Info("worker pool stopped")
	return err
}

// Stop asks every worker to exit after the job in hand.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
}

// Kill terminates the pool without waiting for running jobs.
func (p *Pool) Kill() {
	for _, w := range p.workers {
		w.Kill()
	}
}
