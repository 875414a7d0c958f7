package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	mw "github.com/xraph/backlog/middleware"
	"github.com/xraph/backlog/observability"
	"github.com/xraph/backlog/queue"
	"github.com/xraph/backlog/worker"
)

// Engine owns the job registry, extension registry and middleware chain
// shared by every queue, worker and cron entry of one process.
type Engine struct {
	store      queue.Store
	failed     dlq.Store
	locker     cron.Locker
	registry   *job.Registry
	codec      job.Codec
	extensions *ext.Registry
	exts       []ext.Extension
	ids        id.Provider
	mws        []mw.Middleware
	logger     *slog.Logger
	now        func() time.Time

	queueName   string
	jobDefaults []job.Option
	jobTimeouts bool
	workerOpts  []worker.Option
	cronOpts    []cron.SchedulerOption
	closers     []io.Closer

	queue      *queue.Backed
	dlqService *dlq.Service
	scheduler  *cron.Scheduler

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.exts = append(eng.exts, e)
	}
}

// WithMiddleware adds middleware to the engine's chain. It runs inside
// the default tracing, metrics and logging middleware.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithJobTimeouts cancels each target's context once its running timeout
// elapses.
func WithJobTimeouts() Option {
	return func(eng *Engine) {
		eng.jobTimeouts = true
	}
}

// WithFailureStore sets where exhausted jobs are recorded. When not set
// and the queue store also implements dlq.Store, the queue store is used.
func WithFailureStore(s dlq.Store) Option {
	return func(eng *Engine) {
		eng.failed = s
	}
}

// WithLocker sets the cron lock. When not set and the queue store
// implements cron.Locker, the queue store is used.
func WithLocker(l cron.Locker) Option {
	return func(eng *Engine) {
		eng.locker = l
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = l
	}
}

// WithQueueName sets the default queue. Default job.DefaultQueue.
func WithQueueName(name string) Option {
	return func(eng *Engine) {
		eng.queueName = name
	}
}

// WithCodec sets the target codec. Default job.JSONCodec.
func WithCodec(c job.Codec) Option {
	return func(eng *Engine) {
		eng.codec = c
	}
}

// WithIDProvider sets the job identity provider. Default TypeID.
func WithIDProvider(p id.Provider) Option {
	return func(eng *Engine) {
		eng.ids = p
	}
}

// WithJobDefaults sets options applied before the caller's options on
// every Dispatch.
func WithJobDefaults(opts ...job.Option) Option {
	return func(eng *Engine) {
		eng.jobDefaults = append(eng.jobDefaults, opts...)
	}
}

// WithWorkerOptions sets options applied to every worker the engine
// creates.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(eng *Engine) {
		eng.workerOpts = append(eng.workerOpts, opts...)
	}
}

// WithCronOptions sets scheduler options.
func WithCronOptions(opts ...cron.SchedulerOption) Option {
	return func(eng *Engine) {
		eng.cronOpts = append(eng.cronOpts, opts...)
	}
}

// WithClock sets the time source of queues and the cron scheduler.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// WithCloser registers a resource released by Close, in reverse order.
func WithCloser(c io.Closer) Option {
	return func(eng *Engine) {
		eng.closers = append(eng.closers, c)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// New creates an Engine over a queue store.
func New(store queue.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, backlog.ErrNoStore
	}

	eng := &Engine{
		store:     store,
		ids:       id.TypeID(id.PrefixJob),
		logger:    slog.Default(),
		now:       time.Now,
		queueName: job.DefaultQueue,
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	if eng.failed == nil {
		if fs, ok := store.(dlq.Store); ok {
			eng.failed = fs
		}
	}
	if eng.locker == nil {
		if l, ok := store.(cron.Locker); ok {
			eng.locker = l
		}
	}

	if eng.codec != nil {
		eng.registry = job.NewRegistry(job.WithCodec(eng.codec))
	} else {
		eng.registry = job.NewRegistry()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/xraph/backlog/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/backlog"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/backlog"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: (recover) → tracing → metrics → logging → [timeout] → user.
	allMws := []mw.Middleware{tracingMw, metricsMw, mw.Logging(eng.logger)}
	if eng.jobTimeouts {
		allMws = append(allMws, mw.Timeout(eng.logger))
	}
	allMws = append(allMws, eng.mws...)

	eng.queue = queue.New(store,
		queue.WithName(eng.queueName),
		queue.WithClock(eng.now),
		queue.WithRegistry(eng.registry),
		queue.WithIDProvider(eng.ids),
		queue.WithExtensions(eng.extensions),
		queue.WithMiddleware(allMws...),
		queue.WithFailureStore(eng.failed),
		queue.WithLogger(eng.logger),
	)

	if eng.failed != nil {
		eng.dlqService = dlq.NewService(eng.failed, eng.queue, eng.logger)
	}

	cronOpts := append([]cron.SchedulerOption{cron.WithClock(eng.now)}, eng.cronOpts...)
	eng.scheduler = cron.NewScheduler(eng.queue, eng.locker, eng.extensions, id.NewCronID().String(), eng.logger, cronOpts...)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// RegisterType registers a struct target under tag.
func RegisterType[T job.Runnable](eng *Engine, tag string) {
	job.RegisterType[T](eng.registry, tag)
}

// Enqueue builds a spec from a typed definition and pushes it to the
// default queue, or to the queue named in the options.
func Enqueue[T any](ctx context.Context, eng *Engine, def *job.Definition[T], payload T, opts ...job.Option) (string, error) {
	return eng.queue.Enqueue(ctx, def.Spec(payload, opts...))
}

// Dispatch pushes a struct target. The engine's job defaults are applied
// before opts.
func (eng *Engine) Dispatch(ctx context.Context, target job.Runnable, opts ...job.Option) (string, error) {
	all := append(append([]job.Option(nil), eng.jobDefaults...), opts...)
	return eng.queue.Enqueue(ctx, job.NewSpec(target, all...))
}

// RegisterCron schedules a typed definition.
func RegisterCron[T any](eng *Engine, def *cron.Definition[T]) error {
	if err := eng.scheduler.Add(def.Entry()); err != nil {
		return err
	}
	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("job_name", def.Job.Name),
	)
	return nil
}

// AddCron schedules an untyped entry.
func (eng *Engine) AddCron(e cron.Entry) error {
	return eng.scheduler.Add(e)
}

// Queue returns the queue bound to name. An empty name is the default queue.
func (eng *Engine) Queue(name string) *queue.Backed {
	if name == "" || name == eng.queueName {
		return eng.queue
	}
	return eng.queue.Named(name)
}

// NewWorker creates a worker consuming the named queue.
func (eng *Engine) NewWorker(queueName string, opts ...worker.Option) *worker.Worker {
	return worker.New(eng.Queue(queueName), eng.workerOptions(opts)...)
}

// NewPool creates a pool of concurrency workers consuming the named queue.
func (eng *Engine) NewPool(queueName string, concurrency int, opts ...worker.Option) *worker.Pool {
	return worker.NewPool(eng.Queue(queueName), concurrency, eng.workerOptions(opts)...)
}

func (eng *Engine) workerOptions(opts []worker.Option) []worker.Option {
	all := []worker.Option{
		worker.WithExtensions(eng.extensions),
		worker.WithLogger(eng.logger),
		worker.WithClock(eng.now),
	}
	all = append(all, eng.workerOpts...)
	return append(all, opts...)
}

// SweepQueues makes the cron scheduler promote matured jobs of the named
// queues on every tick. It must be called before Start.
func (eng *Engine) SweepQueues(names ...string) {
	for _, name := range names {
		eng.scheduler.AddSweeper(eng.Queue(name))
	}
}

// RestartWorkers asks every running worker to exit after its current job.
func (eng *Engine) RestartWorkers(ctx context.Context) error {
	return eng.queue.SignalWorkerRestart(ctx)
}

// Stats counts the records of the named queue.
func (eng *Engine) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	return eng.Queue(queueName).Stats(ctx)
}

// Start starts the cron scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.scheduler.Start(ctx)
}

// Stop stops the cron scheduler.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.scheduler.Stop(ctx)
}

// Close releases the resources registered with WithCloser, last first.
func (eng *Engine) Close() error {
	var errs []error
	for i := len(eng.closers) - 1; i >= 0; i-- {
		if err := eng.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	eng.closers = nil
	return errors.Join(errs...)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Store returns the queue store.
func (eng *Engine) Store() queue.Store { return eng.store }

// Failed returns the failure service, or nil when no failure store is
// configured.
func (eng *Engine) Failed() *dlq.Service { return eng.dlqService }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Logger returns the engine's logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }
