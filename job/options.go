package job

import "time"

// DefaultQueue is the queue name used when none is configured.
const DefaultQueue = "default"

// DefaultRunningTimeout is the visibility timeout applied when a spec
// does not set one.
const DefaultRunningTimeout = 60 * time.Second

// Options configures per-job behavior such as attempts, delays and the
// destination queue.
type Options struct {
	// ID overrides the identity provider. Empty means generate.
	ID string

	// Name is the display name. Empty means the target's type tag.
	Name string

	// Queue is the destination queue. Empty means the queue's own name.
	Queue string

	// MaxAttempts is the number of reservations allowed before the job is
	// recorded as failed. Zero or negative means unlimited.
	MaxAttempts int

	// RetryAfter is the base delay between attempts.
	RetryAfter time.Duration

	// Backoff names the strategy applied to RetryAfter. Empty means constant.
	Backoff string

	// RunningTimeout is how long a reservation stays invisible before it
	// is presumed abandoned and reclaimed.
	RunningTimeout time.Duration

	// Delay postpones first eligibility relative to enqueue time.
	Delay time.Duration

	// AvailableAt postpones first eligibility to an absolute time. It wins
	// over Delay when both are set.
	AvailableAt time.Time
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    3,
		RunningTimeout: DefaultRunningTimeout,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithID sets an explicit job identity.
func WithID(id string) Option {
	return func(o *Options) {
		o.ID = id
	}
}

// WithName sets the display name.
func WithName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

// WithQueue sets the destination queue.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithRetryAfter sets the base delay between attempts.
func WithRetryAfter(d time.Duration) Option {
	return func(o *Options) {
		o.RetryAfter = d
	}
}

// WithBackoff selects a named backoff strategy (see package backoff).
func WithBackoff(name string) Option {
	return func(o *Options) {
		o.Backoff = name
	}
}

// WithRunningTimeout sets the visibility timeout of each reservation.
func WithRunningTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.RunningTimeout = d
	}
}

// WithDelay postpones first eligibility by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithAvailableAt postpones first eligibility until t.
func WithAvailableAt(t time.Time) Option {
	return func(o *Options) {
		o.AvailableAt = t
	}
}

// Spec is a producer-side job specification: a target plus its options.
type Spec struct {
	Target Runnable
	Options
}

// NewSpec builds a Spec from a target and options applied over
// DefaultOptions.
func NewSpec(target Runnable, opts ...Option) *Spec {
	s := &Spec{Target: target, Options: DefaultOptions()}
	for _, opt := range opts {
		opt(&s.Options)
	}
	return s
}

// EligibleAt returns when the job first becomes eligible, given the
// enqueue time.
func (s *Spec) EligibleAt(now time.Time) time.Time {
	if !s.AvailableAt.IsZero() {
		return s.AvailableAt
	}
	if s.Delay > 0 {
		return now.Add(s.Delay)
	}
	return now
}
