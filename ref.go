package flux

import "sync"

// Ref is a mutable cell safe for concurrent access from multiple fibers.
// Every read and write goes through a single mutex, so [RefUpdate] and
// [RefModify] are atomic with respect to each other even though they are
// not lock-free.
type Ref[A any] struct {
	mu    sync.Mutex
	value A
}

// NewRef returns a Ref holding initial.
func NewRef[A any](initial A) *Ref[A] {
	return &Ref[A]{value: initial}
}

// RefGet reads r's current value.
func RefGet[R, A any](r *Ref[A]) Computation[R, Never, A] {
	return Sync[R, Never, A](func() A {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.value
	})
}

// RefSet overwrites r's value unconditionally.
func RefSet[R, A any](r *Ref[A], v A) Computation[R, Never, struct{}] {
	return Sync[R, Never, struct{}](func() struct{} {
		r.mu.Lock()
		r.value = v
		r.mu.Unlock()
		return struct{}{}
	})
}

// RefUpdate atomically replaces r's value with f applied to the current
// value.
func RefUpdate[R, A any](r *Ref[A], f func(A) A) Computation[R, Never, struct{}] {
	return Sync[R, Never, struct{}](func() struct{} {
		r.mu.Lock()
		r.value = f(r.value)
		r.mu.Unlock()
		return struct{}{}
	})
}

// RefModify atomically replaces r's value and returns a derived result in
// one step, so the caller never observes a value between the read and
// the write.
func RefModify[R, A, B any](r *Ref[A], f func(A) (A, B)) Computation[R, Never, B] {
	return Sync[R, Never, B](func() B {
		r.mu.Lock()
		defer r.mu.Unlock()
		next, out := f(r.value)
		r.value = next
		return out
	})
}
