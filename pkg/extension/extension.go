// Package extension holds caller-supplied values keyed by their Go type.
package extension

import "reflect"

// Builder accumulates extensions before they are frozen into a Registry.
type Builder struct {
	values map[reflect.Type]any
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{values: make(map[reflect.Type]any)}
}

// Insert stores v under its type T, replacing any earlier value of that type.
func Insert[T any](b *Builder, v T) *Builder {
	b.values[reflect.TypeFor[T]()] = v
	return b
}

// Build freezes the builder's contents. Later inserts on b do not affect the
// returned registry.
func (b *Builder) Build() *Registry {
	values := make(map[reflect.Type]any, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	return &Registry{values: values}
}

// Registry is an immutable set of extensions. A nil *Registry is empty.
type Registry struct {
	values map[reflect.Type]any
}

// Empty returns a registry with no extensions.
func Empty() *Registry {
	return &Registry{}
}

// Get returns the extension stored for type T.
func Get[T any](r *Registry) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	v, ok := r.values[reflect.TypeFor[T]()]
	if !ok {
		return zero, false
	}
	// a nil interface value was stored; the assertion fails but the entry exists
	val, _ := v.(T)
	return val, true
}

// Len reports how many extensions are held.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.values)
}
