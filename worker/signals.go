package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// stoppable is implemented by Worker and Pool.
type stoppable interface {
	Stop()
	Kill()
}

// HandleSignals maps SIGINT and SIGTERM to Stop and SIGQUIT to Kill until
// ctx is done. The returned function unregisters the handler.
func (w *Worker) HandleSignals(ctx context.Context) func() {
	return handleSignals(ctx, w)
}

// HandleSignals maps SIGINT and SIGTERM to Stop and SIGQUIT to Kill until
// ctx is done. The returned function unregisters the handler.
func (p *Pool) HandleSignals(ctx context.Context) func() {
	return handleSignals(ctx, p)
}

func handleSignals(ctx context.Context, target stoppable) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				dispatchSignal(sig, target)
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		cancel()
	}
}

func dispatchSignal(sig os.Signal, target stoppable) {
	switch sig {
	case syscall.SIGQUIT:
		target.Kill()
	default:
		target.Stop()
	}
}
