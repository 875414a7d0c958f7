package worker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Spawner runs one single-shot worker process to completion.
type Spawner interface {
	Spawn(ctx context.Context) error
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context) error

// Spawn implements Spawner.
func (f SpawnerFunc) Spawn(ctx context.Context) error { return f(ctx) }

// ExecSpawner starts a command for every spawn, typically the backlog
// binary itself with "run-worker --once".
type ExecSpawner struct {
	Path   string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	return cmd.Run()
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger.
func WithListenerLogger(l *slog.Logger) ListenerOption {
	return func(li *Listener) { li.logger = l }
}

// WithSpawnPause sets how long the listener waits after a failed spawn.
func WithSpawnPause(d time.Duration) ListenerOption {
	return func(li *Listener) { li.pause = d }
}

// Listener supervises worker processes: it spawns one, waits for it to
// exit and spawns the next, so code changes are picked up without a
// restart signal.
type Listener struct {
	spawner Spawner
	logger  *slog.Logger
	pause   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewListener creates a listener around spawner.
func NewListener(spawner Spawner, opts ...ListenerOption) *Listener {
	l := &Listener{
		spawner: spawner,
		logger:  slog.Default(),
		pause:   time.Second,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run spawns worker processes until Stop is called or ctx is canceled.
// It returns the number of processes spawned.
func (l *Listener) Run(ctx context.Context) int {
	spawned := 0
	for {
		select {
		case <-l.stopCh:
			return spawned
		case <-ctx.Done():
			return spawned
		default:
		}

		spawned++
		if err := l.spawner.Spawn(ctx); err != nil {
			if ctx.Err() != nil {
				return spawned
			}
			l.logger.Warn("worker process exited with error",
				slog.Int("spawn", spawned),
				slog.String("error", err.Error()),
			)
			l.wait(ctx)
		}
	}
}

func (l *Listener) wait(ctx context.Context) {
	t := time.NewTimer(l.pause)
	defer t.Stop()
	select {
	case <-t.C:
	case <-l.stopCh:
	case <-ctx.Done():
	}
}

// Stop makes Run return once the current process exits.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
