package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/backlog"
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets how long a fired slot stays locked.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithSweepers adds sweepers run on every tick.
func WithSweepers(sw ...Sweeper) SchedulerOption {
	return func(s *Scheduler) { s.sweepers = append(s.sweepers, sw...) }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type scheduled struct {
	entry    Entry
	schedule cronlib.Schedule
	next     time.Time
	last     time.Time
}

// Scheduler fires registered entries on a tick loop.
type Scheduler struct {
	enqueue Enqueuer
	locker  Locker
	emitter Emitter
	owner   string
	logger  *slog.Logger
	now     func() time.Time

	tickInterval time.Duration
	lockTTL      time.Duration
	sweepers     []Sweeper

	mu      sync.Mutex
	entries map[string]*scheduled

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewScheduler creates a Scheduler. locker and emitter may be nil; without
// a locker every scheduler fires every slot.
func NewScheduler(
	enqueue Enqueuer,
	locker Locker,
	emitter Emitter,
	owner string,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		enqueue:      enqueue,
		locker:       locker,
		emitter:      emitter,
		owner:        owner,
		logger:       logger,
		now:          time.Now,
		tickInterval: time.Second,
		lockTTL:      10 * time.Minute,
		entries:      make(map[string]*scheduled),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Owner returns the id cron locks are taken under.
func (s *Scheduler) Owner() string { return s.owner }

// Add registers an entry. Its first fire is the first slot after now.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" || e.Build == nil {
		return fmt.Errorf("%w: cron entry needs a name and a builder", backlog.ErrInvalidConfig)
	}
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return fmt.Errorf("%w: cron %q schedule %q: %w", backlog.ErrInvalidConfig, e.Name, e.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Name]; ok {
		return fmt.Errorf("%w: %q", backlog.ErrDuplicateCron, e.Name)
	}
	s.entries[e.Name] = &scheduled{
		entry:    e,
		schedule: sched,
		next:     sched.Next(s.now()),
	}
	return nil
}

// AddSweeper adds a sweeper run at the start of every tick.
func (s *Scheduler) AddSweeper(sw Sweeper) {
	s.mu.Lock()
	s.sweepers = append(s.sweepers, sw)
	s.mu.Unlock()
}

// Entries returns the registered entries ordered by name.
func (s *Scheduler) Entries() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.entries))
	for _, sc := range s.entries {
		out = append(out, Status{
			Name:     sc.entry.Name,
			Schedule: sc.entry.Schedule,
			Queue:    sc.entry.Queue,
			LastRun:  sc.last,
			NextRun:  sc.next,
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.tickLoop()
		s.logger.Info("cron scheduler started",
			slog.String("owner", s.owner),
			slog.Duration("tick_interval", s.tickInterval),
		)
	})
	return nil
}

// Stop signals the tick loop to stop and waits for it.
func (s *Scheduler) Stop(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.logger.Info("cron scheduler stopped")
	})
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick runs the sweepers and fires every due entry once. Missed slots are
// not replayed: after a fire the next slot is computed from now.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	sweepers := append([]Sweeper(nil), s.sweepers...)
	s.mu.Unlock()
	for _, sw := range sweepers {
		if _, err := sw.Sweep(ctx); err != nil {
			s.logger.Warn("cron sweep error", slog.String("error", err.Error()))
		}
	}

	now := s.now()

	s.mu.Lock()
	due := make([]*scheduled, 0)
	for _, sc := range s.entries {
		if !sc.next.After(now) {
			due = append(due, sc)
		}
	}
	s.mu.Unlock()
	sort.Slice(due, func(i, k int) bool { return due[i].entry.Name < due[k].entry.Name })

	for _, sc := range due {
		s.fire(ctx, sc, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, sc *scheduled, now time.Time) {
	s.mu.Lock()
	slot := sc.next
	sc.next = sc.schedule.Next(now)
	s.mu.Unlock()

	e := sc.entry
	if s.locker != nil {
		key := e.Name + ":" + strconv.FormatInt(slot.Unix(), 10)
		acquired, err := s.locker.AcquireCronLock(ctx, key, s.owner, s.lockTTL)
		if err != nil {
			s.logger.Error("acquire cron lock error",
				slog.String("cron_name", e.Name),
				slog.String("error", err.Error()),
			)
			return
		}
		if !acquired {
			return
		}
	}

	spec := e.Build()
	if e.Queue != "" {
		spec.Queue = e.Queue
	}
	jobID, err := s.enqueue.Enqueue(ctx, spec)
	if err != nil {
		s.logger.Error("cron enqueue error",
			slog.String("cron_name", e.Name),
			slog.String("job_name", spec.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	sc.last = now
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, e.Name, jobID)
	}
	s.logger.Info("cron fired",
		slog.String("cron_name", e.Name),
		slog.String("job_name", spec.Name),
		slog.String("job_id", jobID),
		slog.Time("slot", slot),
	)
}
