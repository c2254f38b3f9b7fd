package flux

import "fmt"

// Tag is an opaque, collision-free key for a service of type T in a
// [Context]. Create one with [NewTag] and hold it as a package-level
// value, the way a database driver would hold a context key.
//
// The type parameter T lets [ContextGet] and [ContextAdd] type-check at
// compile time, while the runtime lookup key is the tag's identity (a
// pointer), not reflection over T.
type Tag[T any] struct {
	name string
	id   *byte // unique per NewTag call; comparable, gives the map key identity
}

// NewTag creates a fresh, unique [Tag] for service type T. name is used
// only for diagnostics (panic messages, logs); it does not affect
// identity, so two tags created with the same name are still distinct.
func NewTag[T any](name string) Tag[T] {
	return Tag[T]{name: name, id: new(byte)}
}

func (t Tag[T]) String() string { return t.name }

// Context is an immutable, type-indexed mapping from service tag to
// service instance. [ContextAdd] returns a new Context; the receiver is
// never mutated. A missing lookup via [ContextGet] is a defect.
type Context struct {
	values map[any]any
}

// NewContext returns an empty service container.
func NewContext() *Context {
	return &Context{values: map[any]any{}}
}

// ContextAdd returns a new [Context] containing every service in ctx plus
// v under tag. ctx itself is left unchanged.
func ContextAdd[T any](ctx *Context, tag Tag[T], v T) *Context {
	next := make(map[any]any, len(ctx.values)+1)
	for k, val := range ctx.values {
		next[k] = val
	}
	next[tag.id] = v
	return &Context{values: next}
}

// ContextGet looks up tag in ctx. A missing service panics with a
// descriptive message; computation evaluation recovers such panics into a
// [NewDie] defect.
func ContextGet[T any](ctx *Context, tag Tag[T]) T {
	v, ok := contextLookup[T](ctx, tag)
	if !ok {
		panic(fmt.Sprintf("flux: missing service %q in context", tag.name))
	}
	return v
}

// ContextLookup is the non-panicking variant of [ContextGet].
func ContextLookup[T any](ctx *Context, tag Tag[T]) (T, bool) {
	return contextLookup[T](ctx, tag)
}

func contextLookup[T any](ctx *Context, tag Tag[T]) (T, bool) {
	raw, ok := ctx.values[tag.id]
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// MergeContext returns a new [Context] containing every service of base,
// then overlaid with every service of overlay; overlay wins on key
// conflict. Used by [Layer.Then]'s "right wins" policy.
func MergeContext(base, overlay *Context) *Context {
	next := make(map[any]any, len(base.values)+len(overlay.values))
	for k, v := range base.values {
		next[k] = v
	}
	for k, v := range overlay.values {
		next[k] = v
	}
	return &Context{values: next}
}
