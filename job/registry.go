package job

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/xraph/backlog"
)

// decodeFunc rebuilds a runnable from its codec-encoded payload.
type decodeFunc func(c Codec, payload []byte) (Runnable, error)

// Registry maps type tags to target decoders and concrete target types
// back to their tags. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	codec    Codec
	decoders map[string]decodeFunc
	tags     map[reflect.Type]string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCodec sets the codec used for target envelopes and payloads.
func WithCodec(c Codec) RegistryOption {
	return func(r *Registry) { r.codec = c }
}

// NewRegistry creates an empty registry using the JSON codec by default.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		codec:    JSONCodec{},
		decoders: make(map[string]decodeFunc),
		tags:     make(map[reflect.Type]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Codec returns the registry codec.
func (r *Registry) Codec() Codec { return r.codec }

// RegisterType registers a concrete Runnable type under tag. Values of T
// are serialized field by field with the registry codec, so T must not
// depend on runtime state that does not survive that round trip.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterType[T Runnable](r *Registry, tag string) {
	typ := reflect.TypeFor[T]()
	decode := func(c Codec, payload []byte) (Runnable, error) {
		var t T
		if typ.Kind() == reflect.Pointer {
			t = reflect.New(typ.Elem()).Interface().(T) //nolint:forcetypeassert // *Elem is T by construction
		}
		if len(payload) > 0 {
			target := any(&t)
			if typ.Kind() == reflect.Pointer {
				target = t
			}
			if err := c.Unmarshal(payload, target); err != nil {
				return nil, fmt.Errorf("unmarshal target %q: %w", tag, err)
			}
		}
		return t, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[tag] = decode
	r.tags[typ] = tag
}

// RegisterDefinition registers a typed job definition. The payload is
// decoded into T and bound to the definition's handler.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	decode := func(c Codec, payload []byte) (Runnable, error) {
		var t T
		if len(payload) > 0 {
			if err := c.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err)
			}
		}
		return def.Call(t), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[def.Name] = decode
}

// Encode serializes a target into its tagged envelope and returns the
// tag it was registered under.
func (r *Registry) Encode(target Runnable) ([]byte, string, error) {
	if target == nil {
		return nil, "", fmt.Errorf("%w: nil target", backlog.ErrUnknownTarget)
	}

	var (
		tag   string
		value any
	)

	r.mu.RLock()
	if t, ok := target.(tagged); ok {
		tag, value = t.typeTag(), t.tagPayload()
		if _, known := r.decoders[tag]; !known {
			tag = ""
		}
	} else {
		tag, value = r.tags[reflect.TypeOf(target)], target
	}
	r.mu.RUnlock()

	if tag == "" {
		return nil, "", fmt.Errorf("%w: %T is not registered", backlog.ErrUnknownTarget, target)
	}

	payload, err := r.codec.Marshal(value)
	if err != nil {
		return nil, "", fmt.Errorf("job: marshal target %q: %w", tag, err)
	}
	data, err := r.codec.Marshal(envelope{Type: tag, Payload: payload})
	if err != nil {
		return nil, "", fmt.Errorf("job: marshal envelope %q: %w", tag, err)
	}
	return data, tag, nil
}

// Decode rebuilds a target from its envelope.
func (r *Registry) Decode(data []byte) (Runnable, error) {
	var env envelope
	if err := r.codec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("job: unmarshal envelope: %w", err)
	}

	r.mu.RLock()
	decode, ok := r.decoders[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", backlog.ErrUnknownTarget, env.Type)
	}
	return decode(r.codec, env.Payload)
}

// Names returns all registered type tags in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
