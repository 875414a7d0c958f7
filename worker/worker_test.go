package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
	"github.com/xraph/backlog/store/memory"
	"github.com/xraph/backlog/worker"
)

type ping struct {
	N int `json:"n"`
}

// stopLog records worker lifecycle events.
type stopLog struct {
	mu      sync.Mutex
	started int
	reasons []string
}

func (s *stopLog) Name() string { return "stop-log" }

func (s *stopLog) OnWorkerStarted(context.Context, ext.WorkerInfo) error {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()
	return nil
}

func (s *stopLog) OnWorkerStopped(_ context.Context, _ ext.WorkerInfo, reason string) error {
	s.mu.Lock()
	s.reasons = append(s.reasons, reason)
	s.mu.Unlock()
	return nil
}

func (s *stopLog) get() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, append([]string(nil), s.reasons...)
}

type setup struct {
	store   *memory.Store
	queue   *queue.Backed
	exts    *ext.Registry
	events  *stopLog
	def     *job.Definition[ping]
	handled atomic.Int64
	handler func(ctx context.Context, p ping) error
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	s := &setup{store: memory.New(), events: &stopLog{}}
	s.def = job.NewDefinition("ping", func(ctx context.Context, p ping) error {
		s.handled.Add(1)
		if s.handler != nil {
			return s.handler(ctx, p)
		}
		return nil
	})
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, s.def)
	s.exts = ext.NewRegistry(slog.Default())
	s.exts.Register(s.events)
	s.queue = queue.New(s.store,
		queue.WithRegistry(reg),
		queue.WithExtensions(s.exts),
		queue.WithFailureStore(s.store),
	)
	return s
}

func (s *setup) enqueue(t *testing.T, n int) {
	t.Helper()
	for i := range n {
		if _, err := s.queue.Enqueue(context.Background(), s.def.Spec(ping{N: i})); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
}

func (s *setup) worker(opts ...worker.Option) *worker.Worker {
	base := []worker.Option{
		worker.WithTimeout(10 * time.Millisecond),
		worker.WithExtensions(s.exts),
		worker.WithErrorPause(time.Millisecond),
	}
	return worker.New(s.queue, append(base, opts...)...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func runAsync(ctx context.Context, w *worker.Worker) <-chan error {
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestWorker_ProcessesUntilStopped(t *testing.T) {
	s := newSetup(t)
	s.enqueue(t, 3)
	w := s.worker()

	done := runAsync(context.Background(), w)
	waitFor(t, func() bool { return s.handled.Load() == 3 })
	w.Stop()
	waitDone(t, done)

	stats, err := s.queue.Stats(context.Background())
	if err != nil || stats.Total() != 0 {
		t.Fatalf("stats = %+v, %v", stats, err)
	}
	started, reasons := s.events.get()
	if started != 1 || len(reasons) != 1 || reasons[0] != worker.ReasonStopped {
		t.Fatalf("events = %d started, %v", started, reasons)
	}
	if w.Running() {
		t.Error("Running() true after exit")
	}
}

func TestWorker_StopInterruptsWait(t *testing.T) {
	s := newSetup(t)
	w := s.worker(worker.WithTimeout(time.Minute))

	done := runAsync(context.Background(), w)
	waitFor(t, w.Running)
	time.Sleep(10 * time.Millisecond)
	w.Stop()
	waitDone(t, done)
}

func TestWorker_ExitsOnRestartSignal(t *testing.T) {
	s := newSetup(t)
	w := s.worker()

	done := runAsync(context.Background(), w)
	waitFor(t, w.Running)
	time.Sleep(5 * time.Millisecond)
	if err := s.queue.SignalWorkerRestart(context.Background()); err != nil {
		t.Fatalf("SignalWorkerRestart: %v", err)
	}
	waitDone(t, done)

	if _, reasons := s.events.get(); len(reasons) != 1 || reasons[0] != worker.ReasonRestart {
		t.Fatalf("reasons = %v, want restart", reasons)
	}
}

func TestWorker_IgnoresOlderRestartSignal(t *testing.T) {
	s := newSetup(t)
	if err := s.queue.SignalWorkerRestart(context.Background()); err != nil {
		t.Fatalf("SignalWorkerRestart: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	s.enqueue(t, 1)

	w := s.worker()
	done := runAsync(context.Background(), w)
	waitFor(t, func() bool { return s.handled.Load() == 1 })
	w.Stop()
	waitDone(t, done)
}

func TestWorker_ContextCanceled(t *testing.T) {
	s := newSetup(t)
	w := s.worker()
	ctx, cancel := context.WithCancel(context.Background())

	done := runAsync(ctx, w)
	waitFor(t, w.Running)
	cancel()
	waitDone(t, done)

	if _, reasons := s.events.get(); len(reasons) != 1 || reasons[0] != worker.ReasonCanceled {
		t.Fatalf("reasons = %v, want canceled", reasons)
	}
}

func TestWorker_RunningUntilJobFinishes(t *testing.T) {
	s := newSetup(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	s.handler = func(context.Context, ping) error {
		close(entered)
		<-release
		return nil
	}
	s.enqueue(t, 1)

	w := s.worker()
	done := runAsync(context.Background(), w)

	<-entered
	w.Stop()
	if !w.Running() {
		t.Fatal("Running() = false while a job is still executing")
	}
	close(release)
	waitDone(t, done)
	if w.Running() {
		t.Fatal("Running() = true after Run returned")
	}
}

func TestWorker_JobFinishesAfterCancel(t *testing.T) {
	s := newSetup(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var jobCanceled atomic.Bool
	s.handler = func(ctx context.Context, _ ping) error {
		close(entered)
		<-release
		jobCanceled.Store(ctx.Err() != nil)
		return nil
	}
	s.enqueue(t, 1)

	w := s.worker()
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, w)

	<-entered
	cancel()
	close(release)
	waitDone(t, done)

	if jobCanceled.Load() {
		t.Fatal("job context was canceled")
	}
	stats, err := s.queue.Stats(context.Background())
	if err != nil || stats.Total() != 0 {
		t.Fatalf("job did not complete: %+v, %v", stats, err)
	}
}

func TestWorker_SkipsCorruptRecords(t *testing.T) {
	s := newSetup(t)
	if err := s.store.Push(context.Background(), job.DefaultQueue, []byte("garbage")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	s.enqueue(t, 1)

	w := s.worker()
	done := runAsync(context.Background(), w)
	waitFor(t, func() bool { return s.handled.Load() == 1 })
	w.Stop()
	waitDone(t, done)
}

// flakyQueue fails the first n dequeues.
type flakyQueue struct {
	queue.Queue
	fails atomic.Int64
}

func (f *flakyQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Pending, error) {
	if f.fails.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return f.Queue.Dequeue(ctx, timeout)
}

func TestWorker_PausesOnStoreError(t *testing.T) {
	s := newSetup(t)
	s.enqueue(t, 1)
	fq := &flakyQueue{Queue: s.queue}
	fq.fails.Store(3)

	w := worker.New(fq, worker.WithTimeout(10*time.Millisecond), worker.WithErrorPause(time.Millisecond))
	done := runAsync(context.Background(), w)
	waitFor(t, func() bool { return s.handled.Load() == 1 })
	w.Stop()
	waitDone(t, done)
}

func TestWorker_RunOnce(t *testing.T) {
	s := newSetup(t)
	w := s.worker()
	ctx := context.Background()

	found, err := w.RunOnce(ctx)
	if err != nil || found {
		t.Fatalf("RunOnce on empty queue = %v, %v", found, err)
	}

	s.enqueue(t, 2)
	found, err = w.RunOnce(ctx)
	if err != nil || !found {
		t.Fatalf("RunOnce = %v, %v", found, err)
	}
	if s.handled.Load() != 1 {
		t.Fatalf("handled = %d, want exactly one job", s.handled.Load())
	}
}

func TestWorker_RunOnceReportsCorruptRecord(t *testing.T) {
	s := newSetup(t)
	if err := s.store.Push(context.Background(), job.DefaultQueue, []byte("garbage")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	_, err := s.worker().RunOnce(context.Background())
	if !errors.Is(err, backlog.ErrCorruptRecord) {
		t.Fatalf("RunOnce = %v, want ErrCorruptRecord", err)
	}
}

func TestWorker_RunTwice(t *testing.T) {
	s := newSetup(t)
	w := s.worker()

	done := runAsync(context.Background(), w)
	waitFor(t, w.Running)
	if err := w.Run(context.Background()); !errors.Is(err, backlog.ErrWorkerRunning) {
		t.Fatalf("second Run = %v, want ErrWorkerRunning", err)
	}
	w.Stop()
	waitDone(t, done)
}

func TestWorker_Kill(t *testing.T) {
	s := newSetup(t)
	killed := make(chan struct{})
	w := s.worker(worker.WithTerminate(func() { close(killed) }))

	done := runAsync(context.Background(), w)
	waitFor(t, w.Running)
	w.Kill()

	select {
	case <-killed:
	case <-time.After(3 * time.Second):
		t.Fatal("terminate not called")
	}
	if _, reasons := s.events.get(); len(reasons) != 1 || reasons[0] != worker.ReasonKilled {
		t.Fatalf("reasons = %v, want killed", reasons)
	}

	// The stub does not end the process, so stop the loop ourselves.
	w.Stop()
	waitDone(t, done)
}

func TestWorker_RateLimit(t *testing.T) {
	s := newSetup(t)
	s.enqueue(t, 3)
	w := s.worker(worker.WithRateLimit(50, 1))

	start := time.Now()
	done := runAsync(context.Background(), w)
	waitFor(t, func() bool { return s.handled.Load() == 3 })
	elapsed := time.Since(start)
	w.Stop()
	waitDone(t, done)

	if elapsed < 30*time.Millisecond {
		t.Fatalf("3 jobs at 50/s took %v, expected throttling", elapsed)
	}
}

func TestPool_ProcessesEachJobOnce(t *testing.T) {
	s := newSetup(t)
	var (
		mu   sync.Mutex
		seen = make(map[int]int)
	)
	s.handler = func(_ context.Context, p ping) error {
		mu.Lock()
		seen[p.N]++
		mu.Unlock()
		return nil
	}
	s.enqueue(t, 40)

	pool := worker.NewPool(s.queue, 4,
		worker.WithTimeout(10*time.Millisecond),
		worker.WithExtensions(s.exts),
	)
	ids := make(map[string]bool)
	for _, w := range pool.Workers() {
		ids[w.ID()] = true
	}
	if len(ids) != 4 {
		t.Fatalf("pool workers share ids: %v", ids)
	}

	done := make(chan error, 1)
	go func() { done <- pool.Run(context.Background()) }()
	waitFor(t, func() bool { return s.handled.Load() == 40 })
	pool.Stop()
	waitDone(t, done)

	for n, count := range seen {
		if count != 1 {
			t.Errorf("job %d ran %d times", n, count)
		}
	}
	if started, reasons := s.events.get(); started != 4 || len(reasons) != 4 {
		t.Fatalf("events = %d started, %v", started, reasons)
	}
}

func TestListener_RespawnsUntilStopped(t *testing.T) {
	var l *worker.Listener
	var spawns atomic.Int64
	l = worker.NewListener(worker.SpawnerFunc(func(context.Context) error {
		n := spawns.Add(1)
		if n == 2 {
			return errors.New("exit status 1")
		}
		if n == 4 {
			l.Stop()
		}
		return nil
	}), worker.WithSpawnPause(time.Millisecond))

	if got := l.Run(context.Background()); got != 4 {
		t.Fatalf("spawned %d, want 4", got)
	}
}

func TestExecSpawner(t *testing.T) {
	sp := &worker.ExecSpawner{Path: os.Args[0], Args: []string{"-test.run=^$"}}
	if err := sp.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	failing := &worker.ExecSpawner{Path: os.Args[0], Args: []string{"-test.badflag"}}
	if err := failing.Spawn(context.Background()); err == nil {
		t.Fatal("expected a non-zero exit to be reported")
	}
}
