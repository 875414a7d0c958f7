package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
	"github.com/xraph/backlog/store/memory"
)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type emailPayload struct {
	To string `json:"to"`
}

// harness wires a queue over a memory store with a fake clock and an
// "email" definition whose handler is swappable per test.
type harness struct {
	t      *testing.T
	clock  *clock
	store  *memory.Store
	queue  *queue.Backed
	def    *job.Definition[emailPayload]
	events *eventLog

	mu      sync.Mutex
	handler func(ctx context.Context, p emailPayload) error
	calls   int
}

func newHarness(t *testing.T, opts ...queue.Option) *harness {
	t.Helper()
	h := &harness{t: t, clock: newClock(), store: memory.New(), events: &eventLog{}}
	h.def = job.NewDefinition("send-email", func(ctx context.Context, p emailPayload) error {
		h.mu.Lock()
		h.calls++
		fn := h.handler
		h.mu.Unlock()
		if fn == nil {
			return nil
		}
		return fn(ctx, p)
	})

	reg := job.NewRegistry()
	job.RegisterDefinition(reg, h.def)

	exts := ext.NewRegistry(nil)
	exts.Register(h.events)

	base := []queue.Option{
		queue.WithClock(h.clock.Now),
		queue.WithRegistry(reg),
		queue.WithExtensions(exts),
		queue.WithFailureStore(h.store),
	}
	h.queue = queue.New(h.store, append(base, opts...)...)
	return h
}

func (h *harness) handle(fn func(ctx context.Context, p emailPayload) error) {
	h.mu.Lock()
	h.handler = fn
	h.mu.Unlock()
}

func (h *harness) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *harness) enqueue(opts ...job.Option) string {
	h.t.Helper()
	jobID, err := h.queue.Enqueue(context.Background(), h.def.Spec(emailPayload{To: "a@example.com"}, opts...))
	if err != nil {
		h.t.Fatalf("Enqueue: %v", err)
	}
	return jobID
}

func (h *harness) dequeue() *queue.Pending {
	h.t.Helper()
	p, err := h.queue.Dequeue(context.Background(), 0)
	if err != nil {
		h.t.Fatalf("Dequeue: %v", err)
	}
	return p
}

func (h *harness) mustDequeue() *queue.Pending {
	h.t.Helper()
	p := h.dequeue()
	if p == nil {
		h.t.Fatal("Dequeue: expected a job, got none")
	}
	return p
}

func (h *harness) run(p *queue.Pending) {
	h.t.Helper()
	ctx := context.Background()
	if err := p.Run(ctx); err != nil {
		h.t.Fatalf("Run: %v", err)
	}
	if err := p.Release(ctx); err != nil {
		h.t.Fatalf("Release: %v", err)
	}
}

func (h *harness) stats() queue.Stats {
	h.t.Helper()
	s, err := h.queue.Stats(context.Background())
	if err != nil {
		h.t.Fatalf("Stats: %v", err)
	}
	return s
}

func (h *harness) assertStats(want queue.Stats) {
	h.t.Helper()
	if got := h.stats(); got != want {
		h.t.Fatalf("stats = %+v, want %+v", got, want)
	}
}

func (h *harness) failed() []*dlq.Entry {
	h.t.Helper()
	entries, err := h.store.ListDLQ(context.Background(), dlq.ListOpts{})
	if err != nil {
		h.t.Fatalf("ListDLQ: %v", err)
	}
	return entries
}

// eventLog records lifecycle events as "<event>:<job id>".
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) Name() string { return "event-log" }

func (e *eventLog) add(event, jobID string) error {
	e.mu.Lock()
	e.events = append(e.events, event+":"+jobID)
	e.mu.Unlock()
	return nil
}

func (e *eventLog) OnJobEnqueued(_ context.Context, j *job.Job) error {
	return e.add("enqueued", j.ID)
}

func (e *eventLog) OnJobRunning(_ context.Context, j *job.Job) error {
	return e.add("running", j.ID)
}

func (e *eventLog) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	return e.add("completed", j.ID)
}

func (e *eventLog) OnJobException(_ context.Context, j *job.Job, _ error, _ time.Time) error {
	return e.add("exception", j.ID)
}

func (e *eventLog) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	return e.add("failed", j.ID)
}

func (e *eventLog) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ──────────────────────────────────────────────────
// Scenarios
// ──────────────────────────────────────────────────

func TestSuccess(t *testing.T) {
	h := newHarness(t)
	jobID := h.enqueue()
	h.assertStats(queue.Stats{Ready: 1})

	p := h.mustDequeue()
	if p.Job().ID != jobID || p.Job().Attempts != 1 || p.Job().Name != "send-email" {
		t.Fatalf("job = %+v", p.Job().Record)
	}
	h.run(p)

	if p.State() != queue.StateCompleted {
		t.Fatalf("state = %s, want completed", p.State())
	}
	h.assertStats(queue.Stats{})
	want := []string{"enqueued:" + jobID, "running:" + jobID, "completed:" + jobID}
	if got := h.events.list(); !equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.handle(func(context.Context, emailPayload) error {
		if h.callCount() == 1 {
			return errors.New("smtp timeout")
		}
		return nil
	})
	jobID := h.enqueue(job.WithMaxAttempts(3), job.WithRetryAfter(10*time.Second))

	p := h.mustDequeue()
	h.run(p)
	if p.State() != queue.StateRetryScheduled {
		t.Fatalf("state = %s, want retry_scheduled", p.State())
	}
	if p.Err() == nil || p.Err().Error() != "smtp timeout" {
		t.Fatalf("Err = %v", p.Err())
	}
	h.assertStats(queue.Stats{Delayed: 1})

	h.clock.Advance(9 * time.Second)
	if p := h.dequeue(); p != nil {
		t.Fatal("retry became ready before its delay")
	}

	h.clock.Advance(time.Second)
	p = h.mustDequeue()
	if p.Job().Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", p.Job().Attempts)
	}
	h.run(p)
	if p.State() != queue.StateCompleted {
		t.Fatalf("state = %s, want completed", p.State())
	}
	h.assertStats(queue.Stats{})

	want := []string{
		"enqueued:" + jobID, "running:" + jobID, "exception:" + jobID,
		"running:" + jobID, "completed:" + jobID,
	}
	if got := h.events.list(); !equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestExhaustion(t *testing.T) {
	h := newHarness(t)
	h.handle(func(context.Context, emailPayload) error { return errors.New("mailbox full") })
	jobID := h.enqueue(job.WithMaxAttempts(2))

	h.run(h.mustDequeue())
	p := h.mustDequeue()
	h.run(p)

	if p.State() != queue.StateFailed {
		t.Fatalf("state = %s, want failed", p.State())
	}
	h.assertStats(queue.Stats{})
	if h.callCount() != 2 {
		t.Fatalf("handler calls = %d, want 2", h.callCount())
	}

	entries := h.failed()
	if len(entries) != 1 {
		t.Fatalf("failed entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != jobID || e.Queue != job.DefaultQueue || e.Name != "send-email" || e.Attempts != 2 {
		t.Fatalf("entry = %+v", e)
	}
	if e.Exception.Message != "mailbox full" || e.Exception.Class != "*errors.errorString" {
		t.Fatalf("exception = %+v", e.Exception)
	}
	if !e.HappenedAt.Equal(h.clock.Now()) {
		t.Fatalf("HappenedAt = %v, want %v", e.HappenedAt, h.clock.Now())
	}
	rec, err := job.DecodeRecord(e.Payload)
	if err != nil {
		t.Fatalf("DecodeRecord(payload): %v", err)
	}
	if rec.Attempts != 1 {
		t.Fatalf("stored payload attempts = %d, want the pre-reservation value 1", rec.Attempts)
	}

	want := []string{
		"enqueued:" + jobID, "running:" + jobID, "exception:" + jobID,
		"running:" + jobID, "failed:" + jobID,
	}
	if got := h.events.list(); !equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestDelayedJob(t *testing.T) {
	h := newHarness(t)
	h.enqueue(job.WithDelay(10 * time.Second))
	h.assertStats(queue.Stats{Delayed: 1})

	if p := h.dequeue(); p != nil {
		t.Fatal("delayed job reserved early")
	}
	h.clock.Advance(10 * time.Second)
	h.run(h.mustDequeue())
	h.assertStats(queue.Stats{})
}

func TestAvailableAtInPastIsImmediate(t *testing.T) {
	h := newHarness(t)
	h.enqueue(job.WithAvailableAt(h.clock.Now().Add(-time.Hour)))
	h.assertStats(queue.Stats{Ready: 1})
}

func TestVisibilityTimeoutReclaims(t *testing.T) {
	h := newHarness(t)
	h.enqueue(job.WithRunningTimeout(5 * time.Second))

	first := h.mustDequeue()
	h.clock.Advance(4 * time.Second)
	if p := h.dequeue(); p != nil {
		t.Fatal("reservation reclaimed before its timeout")
	}

	h.clock.Advance(time.Second)
	second := h.mustDequeue()
	if second.Job().ID != first.Job().ID || second.Job().Attempts != 2 {
		t.Fatalf("reclaimed job = %+v", second.Job().Record)
	}

	// The stale worker finishing does not disturb the new reservation.
	h.run(first)
	h.assertStats(queue.Stats{Reserved: 1})
	h.run(second)
	h.assertStats(queue.Stats{})
}

func TestSubSecondClockNeverMaturesEarly(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(900 * time.Millisecond)

	h.enqueue(job.WithDelay(10 * time.Second))
	h.clock.Advance(9200 * time.Millisecond)
	if p := h.dequeue(); p != nil {
		t.Fatal("delayed job eligible after 9.2s of a 10s delay")
	}
	h.clock.Advance(800 * time.Millisecond)
	h.run(h.mustDequeue())

	h.clock.Advance(300 * time.Millisecond)
	h.enqueue(job.WithRunningTimeout(5 * time.Second))
	first := h.mustDequeue()
	h.clock.Advance(4200 * time.Millisecond)
	if p := h.dequeue(); p != nil {
		t.Fatal("reservation reclaimed after 4.2s of a 5s running timeout")
	}
	h.clock.Advance(800 * time.Millisecond)
	second := h.mustDequeue()
	if second.Job().ID != first.Job().ID {
		t.Fatalf("reclaimed job = %q, want %q", second.Job().ID, first.Job().ID)
	}
}

func TestRetryDelayWithSubSecondClock(t *testing.T) {
	h := newHarness(t)
	h.handle(func(context.Context, emailPayload) error {
		if h.callCount() == 1 {
			return errors.New("smtp timeout")
		}
		return nil
	})
	h.clock.Advance(700 * time.Millisecond)
	h.enqueue(job.WithMaxAttempts(2), job.WithRetryAfter(3*time.Second))
	h.run(h.mustDequeue())

	h.clock.Advance(2999 * time.Millisecond)
	if p := h.dequeue(); p != nil {
		t.Fatal("retry eligible 1ms before its backoff")
	}
	h.clock.Advance(time.Millisecond)
	h.run(h.mustDequeue())
	h.assertStats(queue.Stats{})
}

func TestReservationLostBeforeRetry(t *testing.T) {
	h := newHarness(t)
	h.handle(func(context.Context, emailPayload) error { return errors.New("slow and failing") })
	jobID := h.enqueue(job.WithRunningTimeout(time.Second), job.WithRetryAfter(time.Minute))

	p := h.mustDequeue()
	h.clock.Advance(2 * time.Second)
	if _, err := h.queue.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	h.run(p)
	if p.State() != queue.StateRetryScheduled {
		t.Fatalf("state = %s", p.State())
	}
	// The reclaimed copy stays ready; no second delayed copy appears.
	h.assertStats(queue.Stats{Ready: 1})

	events := h.events.list()
	if last := events[len(events)-1]; last != "exception:"+jobID {
		t.Fatalf("last event = %q, want exception", last)
	}
}

func TestAttemptsNeverDecrease(t *testing.T) {
	h := newHarness(t)
	h.handle(func(context.Context, emailPayload) error { return errors.New("again") })
	h.enqueue(job.WithMaxAttempts(0))

	prev := 0
	for range 5 {
		p := h.mustDequeue()
		if p.Job().Attempts <= prev {
			t.Fatalf("attempts went from %d to %d", prev, p.Job().Attempts)
		}
		prev = p.Job().Attempts
		h.run(p)
		if p.State() != queue.StateRetryScheduled {
			t.Fatalf("unlimited job state = %s", p.State())
		}
	}
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	h := newHarness(t)
	h.handle(func(context.Context, emailPayload) error {
		return job.Permanent(errors.New("invalid address"))
	})
	h.enqueue(job.WithMaxAttempts(5))

	p := h.mustDequeue()
	h.run(p)
	if p.State() != queue.StateFailed {
		t.Fatalf("state = %s, want failed", p.State())
	}
	if n := len(h.failed()); n != 1 {
		t.Fatalf("failed entries = %d, want 1", n)
	}
}

func TestPanicIsRetriedThenRecorded(t *testing.T) {
	h := newHarness(t)
	h.handle(func(context.Context, emailPayload) error { panic("nil template") })
	h.enqueue(job.WithMaxAttempts(1))

	p := h.mustDequeue()
	h.run(p)

	var pe *job.PanicError
	if !errors.As(p.Err(), &pe) || pe.Value != "nil template" {
		t.Fatalf("Err = %v, want *job.PanicError", p.Err())
	}
	entries := h.failed()
	if len(entries) != 1 || entries[0].Exception.Trace == "" {
		t.Fatalf("failed entry missing stack trace: %+v", entries)
	}
}

func TestUnknownTargetFailsPermanently(t *testing.T) {
	h := newHarness(t)
	h.enqueue(job.WithMaxAttempts(3))

	// A worker whose registry does not know the target.
	stranger := queue.New(h.store,
		queue.WithClock(h.clock.Now),
		queue.WithFailureStore(h.store),
	)
	p, err := stranger.Dequeue(context.Background(), 0)
	if err != nil || p == nil {
		t.Fatalf("Dequeue = %v, %v", p, err)
	}
	h.run(p)

	if p.State() != queue.StateFailed {
		t.Fatalf("state = %s, want failed", p.State())
	}
	if !errors.Is(p.Err(), backlog.ErrUnknownTarget) {
		t.Fatalf("Err = %v, want ErrUnknownTarget", p.Err())
	}
	if h.callCount() != 0 {
		t.Fatal("handler ran for an undecodable target")
	}
}

func TestCorruptRecordIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.store.Push(ctx, job.DefaultQueue, []byte("not json")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := h.store.Push(ctx, job.DefaultQueue, []byte(`{"name":"no-id"}`)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	h.enqueue()

	for range 2 {
		_, err := h.queue.Dequeue(ctx, 0)
		var corrupt *queue.CorruptRecordError
		if !errors.As(err, &corrupt) || !errors.Is(err, backlog.ErrCorruptRecord) {
			t.Fatalf("Dequeue = %v, want a corrupt record error", err)
		}
	}
	h.assertStats(queue.Stats{Ready: 1})
	h.run(h.mustDequeue())
}

func TestReleaseWithoutRun(t *testing.T) {
	h := newHarness(t)
	h.enqueue()

	p := h.mustDequeue()
	if err := p.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := p.Release(context.Background()); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	again := h.mustDequeue()
	if again.Job().Attempts != 2 {
		t.Fatalf("attempts after release = %d, want 2", again.Job().Attempts)
	}
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t)
	h.enqueue()

	p := h.mustDequeue()
	h.run(p)
	if err := p.Run(context.Background()); !errors.Is(err, backlog.ErrInvalidState) {
		t.Fatalf("second Run = %v, want ErrInvalidState", err)
	}
}

// brokenFailures fails every write.
type brokenFailures struct{ dlq.Store }

func (brokenFailures) PushDLQ(context.Context, *dlq.Entry) error {
	return errors.New("disk full")
}

func TestFailureStoreErrorKeepsReservation(t *testing.T) {
	h := newHarness(t, queue.WithFailureStore(brokenFailures{}))
	h.handle(func(context.Context, emailPayload) error { return errors.New("boom") })
	h.enqueue(job.WithMaxAttempts(1))

	p := h.mustDequeue()
	ctx := context.Background()
	if err := p.Run(ctx); err == nil {
		t.Fatal("Run should report the failure store error")
	}
	if p.State() != queue.StateRunning {
		t.Fatalf("state = %s, want running", p.State())
	}
	if err := p.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	h.assertStats(queue.Stats{Reserved: 1})
}

func TestNoFailureStoreDropsJob(t *testing.T) {
	h := newHarness(t, queue.WithFailureStore(nil))
	h.handle(func(context.Context, emailPayload) error { return errors.New("boom") })
	h.enqueue(job.WithMaxAttempts(1))

	p := h.mustDequeue()
	h.run(p)
	if p.State() != queue.StateFailed {
		t.Fatalf("state = %s, want failed", p.State())
	}
	h.assertStats(queue.Stats{})
}

func TestEnqueueFailedResetsAttempts(t *testing.T) {
	h := newHarness(t)
	h.handle(func(context.Context, emailPayload) error { return errors.New("boom") })
	jobID := h.enqueue(job.WithMaxAttempts(1))
	h.run(h.mustDequeue())

	entries := h.failed()
	if len(entries) != 1 {
		t.Fatalf("failed entries = %d", len(entries))
	}
	if err := h.queue.EnqueueFailed(context.Background(), entries[0]); err != nil {
		t.Fatalf("EnqueueFailed: %v", err)
	}

	h.handle(nil)
	p := h.mustDequeue()
	if p.Job().ID != jobID || p.Job().Attempts != 1 {
		t.Fatalf("requeued job = %+v", p.Job().Record)
	}
	h.run(p)
	if p.State() != queue.StateCompleted {
		t.Fatalf("state = %s", p.State())
	}
}

func TestEnqueueValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.queue.Enqueue(ctx, nil); !errors.Is(err, backlog.ErrInvalidSpec) {
		t.Errorf("nil spec = %v, want ErrInvalidSpec", err)
	}
	spec := h.def.Spec(emailPayload{}, job.WithBackoff("fibonacci"))
	if _, err := h.queue.Enqueue(ctx, spec); !errors.Is(err, backlog.ErrInvalidSpec) {
		t.Errorf("unknown backoff = %v, want ErrInvalidSpec", err)
	}
	other := job.NewDefinition("unregistered", func(context.Context, struct{}) error { return nil })
	if _, err := h.queue.Enqueue(ctx, other.Spec(struct{}{})); !errors.Is(err, backlog.ErrUnknownTarget) {
		t.Errorf("unregistered target = %v, want ErrUnknownTarget", err)
	}
	h.assertStats(queue.Stats{})
}

func TestEnqueueRecordDefaults(t *testing.T) {
	h := newHarness(t)
	jobID := h.enqueue(
		job.WithID("job_fixed"),
		job.WithRunningTimeout(0),
		job.WithRetryAfter(1500*time.Millisecond),
		job.WithBackoff("exponential"),
	)
	if jobID != "job_fixed" {
		t.Fatalf("id = %q", jobID)
	}

	p := h.mustDequeue()
	rec := p.Job().Record
	if rec.RunningTimeoutSec != 60 || rec.RetryAfterSec != 2 || rec.Backoff != "exponential" || rec.MaxAttempts != 3 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestExponentialBackoffDelay(t *testing.T) {
	h := newHarness(t)
	h.handle(func(context.Context, emailPayload) error { return errors.New("again") })
	h.enqueue(job.WithMaxAttempts(5), job.WithRetryAfter(10*time.Second), job.WithBackoff("exponential"))

	h.run(h.mustDequeue()) // attempt 1 -> 10s
	h.clock.Advance(10 * time.Second)
	h.run(h.mustDequeue()) // attempt 2 -> 20s

	h.clock.Advance(19 * time.Second)
	if p := h.dequeue(); p != nil {
		t.Fatal("second retry ready before 20s")
	}
	h.clock.Advance(time.Second)
	if p := h.mustDequeue(); p.Job().Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", p.Job().Attempts)
	}
}

func TestNamedQueuesAreIndependent(t *testing.T) {
	h := newHarness(t)
	emails := h.queue.Named("emails")
	if _, err := emails.Enqueue(context.Background(), h.def.Spec(emailPayload{})); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if p := h.dequeue(); p != nil {
		t.Fatal("default queue received a job for emails")
	}
	p, err := emails.Dequeue(context.Background(), 0)
	if err != nil || p == nil {
		t.Fatalf("emails Dequeue = %v, %v", p, err)
	}
	if p.Job().Queue != "emails" {
		t.Fatalf("Queue = %q", p.Job().Queue)
	}
}

func TestDequeueWaitsForPush(t *testing.T) {
	h := newHarness(t)
	done := make(chan *queue.Pending, 1)
	go func() {
		p, err := h.queue.Dequeue(context.Background(), 5*time.Second)
		if err != nil {
			t.Errorf("Dequeue: %v", err)
		}
		done <- p
	}()

	time.Sleep(20 * time.Millisecond)
	h.enqueue()

	select {
	case p := <-done:
		if p == nil {
			t.Fatal("Dequeue woke without a job")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Dequeue did not wake on enqueue")
	}
}

func TestWorkerRestartSignal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	started := h.clock.Now()

	restart, err := h.queue.ShallWorkerRestart(ctx, started)
	if err != nil || restart {
		t.Fatalf("before signal = %v, %v", restart, err)
	}

	h.clock.Advance(time.Second)
	if err := h.queue.SignalWorkerRestart(ctx); err != nil {
		t.Fatalf("SignalWorkerRestart: %v", err)
	}
	restart, err = h.queue.ShallWorkerRestart(ctx, started)
	if err != nil || !restart {
		t.Fatalf("worker started before signal = %v, %v", restart, err)
	}

	restart, err = h.queue.ShallWorkerRestart(ctx, h.clock.Now().Add(time.Millisecond))
	if err != nil || restart {
		t.Fatalf("worker started after signal = %v, %v", restart, err)
	}
}

func TestWorkerRestartSignal_SameMillisecond(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.clock.Advance(400 * time.Microsecond)
	started := h.clock.Now()

	h.clock.Advance(300 * time.Microsecond)
	if err := h.queue.SignalWorkerRestart(ctx); err != nil {
		t.Fatalf("SignalWorkerRestart: %v", err)
	}
	restart, err := h.queue.ShallWorkerRestart(ctx, started)
	if err != nil || !restart {
		t.Fatalf("signal in the start millisecond = %v, %v; want true", restart, err)
	}
}

func TestClear(t *testing.T) {
	h := newHarness(t)
	h.enqueue()
	h.enqueue(job.WithDelay(time.Minute))

	n, err := h.queue.Clear(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Clear = %d, %v", n, err)
	}
	h.assertStats(queue.Stats{})
}

func TestScore(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	tests := []struct {
		at   time.Time
		want int64
	}{
		{base, base.UnixMilli()},
		{base.Add(time.Millisecond), base.UnixMilli() + 1},
		{base.Add(time.Microsecond), base.UnixMilli() + 1},
		{base.Add(999 * time.Microsecond), base.UnixMilli() + 1},
		{base.Add(900 * time.Millisecond), base.UnixMilli() + 900},
	}
	for _, tt := range tests {
		if got := queue.Score(tt.at); got != tt.want {
			t.Errorf("Score(%v) = %d, want %d", tt.at, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := map[queue.State]string{
		queue.StateReserved:       "reserved",
		queue.StateRunning:        "running",
		queue.StateCompleted:      "completed",
		queue.StateRetryScheduled: "retry_scheduled",
		queue.StateFailed:         "failed",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
