package tuner

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/graft/internal/tensor"
)

// Switch is the shared activation state of one adapter name. Every tuner of
// the adapter observes the same Switch.
type Switch struct {
	name string
	on   atomic.Bool
}

// NewSwitch returns an active switch.
func NewSwitch(name string) *Switch {
	s := &Switch{name: name}
	s.on.Store(true)
	return s
}

func (s *Switch) Name() string { return s.name }

// Set flips the global state.
func (s *Switch) Set(on bool) { s.on.Store(on) }

// On reports the global state, ignoring any context override.
func (s *Switch) On() bool { return s.on.Load() }

// Enabled reports whether the adapter participates in a forward running
// under ctx. A context-scoped active set takes precedence over global state.
func (s *Switch) Enabled(ctx context.Context) bool {
	if set, ok := ActiveSetFrom(ctx); ok {
		return set.Contains(s.name)
	}
	return s.on.Load()
}

// ActiveSet is an immutable selection of adapter names scoped to a context.
type ActiveSet struct {
	names []string
	index map[string]struct{}
}

// Names returns the selection in the order given.
func (a *ActiveSet) Names() []string {
	return append([]string(nil), a.names...)
}

// Contains reports membership.
func (a *ActiveSet) Contains(name string) bool {
	_, ok := a.index[name]
	return ok
}

type activeSetKey struct{}

// WithActiveSet scopes the listed names as the only active adapters for
// forwards run under the returned context. An empty list deactivates every
// adapter for that context.
func WithActiveSet(ctx context.Context, names ...string) context.Context {
	set := &ActiveSet{names: append([]string(nil), names...), index: make(map[string]struct{}, len(names))}
	for _, n := range names {
		set.index[n] = struct{}{}
	}
	return context.WithValue(ctx, activeSetKey{}, set)
}

// ActiveSetFrom returns the context-scoped selection, if any.
func ActiveSetFrom(ctx context.Context) (*ActiveSet, bool) {
	set, ok := ctx.Value(activeSetKey{}).(*ActiveSet)
	return set, ok
}

// Trace is per-forward scratch space shared by tuners that need values from
// elsewhere in the same pass. Each forward gets its own Trace, so concurrent
// forwards never observe each other's values.
type Trace struct {
	mu   sync.Mutex
	vals map[string][]*tensor.Mat
}

type traceKey struct{}

// WithTrace attaches a fresh Trace to ctx.
func WithTrace(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceKey{}, &Trace{vals: make(map[string][]*tensor.Mat)})
}

// TraceFrom returns the forward's trace, or nil.
func TraceFrom(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceKey{}).(*Trace)
	return t
}

// Put stores m at position idx under key, growing the entry to at least n
// positions so readers can detect values that were never recorded.
func (t *Trace) Put(key string, idx, n int, m *tensor.Mat) {
	t.mu.Lock()
	defer t.mu.Unlock()
	vals := t.vals[key]
	for len(vals) <= idx || len(vals) < n {
		vals = append(vals, nil)
	}
	vals[idx] = m
	t.vals[key] = vals
}

// Get returns a copy of the values stored under key.
func (t *Trace) Get(key string) []*tensor.Mat {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*tensor.Mat(nil), t.vals[key]...)
}
