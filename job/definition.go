package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type and must be serializable by the registry codec.
type Definition[T any] struct {
	// Name is the unique type tag for this job.
	Name string

	// Handler is the function that processes the job payload.
	Handler func(ctx context.Context, payload T) error

	// Opts are the defaults applied to every spec built from this definition.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// Call binds a payload to the definition, producing a runnable target.
func (d *Definition[T]) Call(payload T) Runnable {
	return &invocation[T]{def: d, payload: payload}
}

// Spec builds a spec for payload using the definition's options, with
// opts applied on top.
func (d *Definition[T]) Spec(payload T, opts ...Option) *Spec {
	s := &Spec{Target: d.Call(payload), Options: d.Opts}
	if s.Name == "" {
		s.Name = d.Name
	}
	for _, opt := range opts {
		opt(&s.Options)
	}
	return s
}

// tagged is implemented by targets that carry their own type tag.
type tagged interface {
	typeTag() string
	tagPayload() any
}

type invocation[T any] struct {
	def     *Definition[T]
	payload T
}

func (i *invocation[T]) Run(ctx context.Context) error {
	return i.def.Handler(ctx, i.payload)
}

func (i *invocation[T]) typeTag() string { return i.def.Name }

func (i *invocation[T]) tagPayload() any { return i.payload }
