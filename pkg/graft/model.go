// Package graft attaches named adapters to a host model and manages their
// lifecycle: activation, per-call selection, merging, removal and
// persistence.
//
// Structural operations (Prepare, MergeAndUnload, RemoveAdapter, Load,
// LoadStateDict) rewrite the host graph in place and must not overlap with
// forwards. Forwards may run concurrently with each other; use
// WithActiveAdapters to pick a different adapter combination per call.
package graft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/samcharles93/graft/internal/inject"
	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/pkg/nn"
	"github.com/samcharles93/graft/pkg/tuner"
)

// DefaultName is used when an adapter is registered without a name.
const DefaultName = "default"

// Adapter pairs a name with its config for Prepare.
type Adapter struct {
	Name   string
	Config tuner.Config
}

// Named returns an Adapter registered under name.
func Named(name string, cfg tuner.Config) Adapter {
	return Adapter{Name: name, Config: cfg}
}

// Default returns an Adapter registered under DefaultName.
func Default(cfg tuner.Config) Adapter {
	return Named(DefaultName, cfg)
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l logger.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.log = l
		}
	}
}

type entry struct {
	cfg    tuner.Config
	sw     *tuner.Switch
	tuners []tuner.Tuner
}

// Model is a host model plus the adapters grafted onto it.
type Model struct {
	host nn.Module
	log  logger.Logger

	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

// New wraps host without registering any adapter.
func New(host nn.Module, opts ...Option) *Model {
	m := &Model{
		host:    host,
		log:     logger.Nop(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Prepare registers adapters on host. Passing an existing *Model adds to it.
func Prepare(host nn.Module, adapters ...Adapter) (*Model, error) {
	m, ok := host.(*Model)
	if !ok {
		m = New(host)
	}
	if err := m.Prepare(adapters...); err != nil {
		return nil, err
	}
	return m, nil
}

// Host returns the underlying model.
func (m *Model) Host() nn.Module { return m.host }

// Unwrap lets nn.Walk and nn.Lookup address the host through the Model.
func (m *Model) Unwrap() nn.Module { return m.host }

// Forward runs the host with the adapters enabled under ctx.
func (m *Model) Forward(ctx context.Context, args nn.Args) (nn.Args, error) {
	return m.host.Forward(tuner.WithTrace(ctx), args)
}

func validName(name string) error {
	switch {
	case name == "":
		return errors.New("adapter name is empty")
	case name == "." || name == "..":
		return fmt.Errorf("adapter name %q is reserved", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("adapter name %q must not contain a path separator", name)
	}
	return nil
}

// Prepare injects every adapter. New names start active. Re-preparing a
// registered name with an equal config leaves it untouched; a different
// config fails with DuplicateAdapterNameError. The call is all or nothing.
func (m *Model) Prepare(adapters ...Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(adapters))
	var fresh []Adapter
	for _, a := range adapters {
		if a.Name == "" {
			a.Name = DefaultName
		}
		if err := validName(a.Name); err != nil {
			return err
		}
		if seen[a.Name] {
			return &DuplicateAdapterNameError{Name: a.Name}
		}
		seen[a.Name] = true
		if a.Config == nil {
			return fmt.Errorf("adapter %q: nil config", a.Name)
		}
		if err := a.Config.Validate(); err != nil {
			return fmt.Errorf("adapter %q: %s config: %w", a.Name, a.Config.Kind(), err)
		}
		if e, ok := m.entries[a.Name]; ok {
			if !tuner.Equal(e.cfg, a.Config) {
				return &DuplicateAdapterNameError{Name: a.Name}
			}
			m.log.Debug("adapter already prepared", "adapter", a.Name)
			continue
		}
		fresh = append(fresh, a)
	}

	var added []string
	for _, a := range fresh {
		sw := tuner.NewSwitch(a.Name)
		tuners, err := inject.Inject(m.host, a.Name, a.Config, sw)
		if err != nil {
			for _, name := range added {
				m.dropLocked(name)
			}
			m.log.Warn("prepare failed", "adapter", a.Name, "kind", a.Config.Kind(), "error", err)
			return err
		}
		m.entries[a.Name] = &entry{cfg: a.Config, sw: sw, tuners: tuners}
		m.order = append(m.order, a.Name)
		added = append(added, a.Name)
		m.log.Info("prepared adapter", "adapter", a.Name, "kind", a.Config.Kind(), "points", len(tuners))
	}
	return nil
}

// dropLocked ejects name and forgets it.
func (m *Model) dropLocked(name string) int {
	n := inject.Eject(m.host, name)
	delete(m.entries, name)
	for i, o := range m.order {
		if o == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return n
}

func (m *Model) lookup(name string) (*entry, error) {
	e, ok := m.entries[name]
	if !ok {
		return nil, &UnknownAdapterNameError{Name: name}
	}
	return e, nil
}

// ActivateAdapter turns name on for every caller without a context active set.
func (m *Model) ActivateAdapter(name string) error {
	return m.toggle(name, true)
}

// DeactivateAdapter turns name off for every caller without a context active
// set. A deactivated adapter leaves the host's output bit-identical to the
// output without it.
func (m *Model) DeactivateAdapter(name string) error {
	return m.toggle(name, false)
}

func (m *Model) toggle(name string, on bool) error {
	m.mu.RLock()
	e, err := m.lookup(name)
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	e.sw.Set(on)
	m.log.Debug("adapter toggled", "adapter", name, "active", on)
	return nil
}

// WithActiveAdapters returns a context under which exactly names are active,
// whatever their global state. Other contexts are unaffected.
func (m *Model) WithActiveAdapters(ctx context.Context, names ...string) (context.Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range names {
		if _, err := m.lookup(name); err != nil {
			return nil, err
		}
	}
	return tuner.WithActiveSet(ctx, names...), nil
}

// Adapters lists registered names in registration order.
func (m *Model) Adapters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// ActiveAdapters lists the globally active names in registration order.
func (m *Model) ActiveAdapters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, name := range m.order {
		if m.entries[name].sw.On() {
			out = append(out, name)
		}
	}
	return out
}

// Config returns the config name was prepared with.
func (m *Model) Config(name string) (tuner.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.cfg, nil
}

// Tuners returns the tuners installed for name in document order.
func (m *Model) Tuners(name string) ([]tuner.Tuner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return append([]tuner.Tuner(nil), e.tuners...), nil
}

// AdapterInfo summarises one registered adapter.
type AdapterInfo struct {
	Name      string     `json:"name"`
	Kind      tuner.Kind `json:"kind"`
	Active    bool       `json:"active"`
	Mergeable bool       `json:"mergeable"`
	Points    int        `json:"points"`
	Params    int        `json:"params"`
}

// Info describes every adapter in registration order.
func (m *Model) Info() []AdapterInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AdapterInfo, 0, len(m.order))
	for _, name := range m.order {
		e := m.entries[name]
		info := AdapterInfo{
			Name:      name,
			Kind:      e.cfg.Kind(),
			Active:    e.sw.On(),
			Mergeable: tuner.Mergeable(e.cfg.Kind()),
			Points:    len(e.tuners),
		}
		for _, t := range e.tuners {
			for _, p := range t.Params() {
				info.Params += p.Value.R * p.Value.C
			}
		}
		out = append(out, info)
	}
	return out
}

// MergeAndUnload folds the named adapters (all when none are given) into the
// host's weights and unregisters them. Repeated names are merged once.
// Globally inactive adapters are removed without folding. Nothing changes unless every named adapter is known and of
// a mergeable kind.
func (m *Model) MergeAndUnload(names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(names) == 0 {
		names = append([]string(nil), m.order...)
	}
	names = dedupe(names)
	for _, name := range names {
		e, err := m.lookup(name)
		if err != nil {
			return err
		}
		if !tuner.Mergeable(e.cfg.Kind()) {
			return &UnmergeableKindError{Adapter: name, Kind: e.cfg.Kind()}
		}
	}
	for _, name := range names {
		e := m.entries[name]
		if !e.sw.On() {
			m.dropLocked(name)
			m.log.Info("unloaded inactive adapter", "adapter", name)
			continue
		}
		if err := inject.Merge(m.host, name, e.cfg.Kind()); err != nil {
			return err
		}
		m.dropLocked(name)
		m.log.Info("merged adapter", "adapter", name, "kind", e.cfg.Kind(), "points", len(e.tuners))
	}
	return nil
}

// dedupe drops repeated names, keeping first occurrences in order.
func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// RemoveAdapter strips name from the host without touching base weights.
func (m *Model) RemoveAdapter(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(name); err != nil {
		return err
	}
	n := m.dropLocked(name)
	m.log.Info("removed adapter", "adapter", name, "points", n)
	return nil
}

func stateKey(name string, t tuner.Tuner, p tuner.Param) string {
	return name + "/" + t.Path() + "." + p.Name
}

// StateDict copies every adapter parameter, keyed "name/module.path.param".
// Base weights are never included.
func (m *Model) StateDict() map[string]*tensor.Mat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*tensor.Mat)
	for _, name := range m.order {
		for _, t := range m.entries[name].tuners {
			for _, p := range t.Params() {
				out[stateKey(name, t, p)] = p.Value.Clone()
			}
		}
	}
	return out
}

// LoadStateDict overwrites adapter parameters from sd. Every key must name a
// registered parameter of the same shape, and every adapter mentioned in sd
// must be covered completely. Nothing is written unless all checks pass.
func (m *Model) LoadStateDict(sd map[string]*tensor.Mat) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	params := make(map[string]*tensor.Mat)
	touched := make(map[string]bool)
	for key := range sd {
		name, _, ok := strings.Cut(key, "/")
		if !ok {
			return fmt.Errorf("state dict key %q has no adapter prefix", key)
		}
		if _, err := m.lookup(name); err != nil {
			return err
		}
		touched[name] = true
	}
	for name := range touched {
		for _, t := range m.entries[name].tuners {
			for _, p := range t.Params() {
				params[stateKey(name, t, p)] = p.Value
			}
		}
	}
	if err := checkParams(params, sd); err != nil {
		return err
	}
	for key, dst := range params {
		copy(dst.Data, sd[key].Data)
	}
	return nil
}

// checkParams requires src to hold exactly the keys of dst with equal shapes.
func checkParams(dst, src map[string]*tensor.Mat) error {
	for key, d := range dst {
		s, ok := src[key]
		if !ok {
			return fmt.Errorf("missing parameter %q", key)
		}
		if s == nil || !tensor.SameShape(d, s) {
			return fmt.Errorf("parameter %q: shape mismatch (want %dx%d)", key, d.R, d.C)
		}
	}
	for key := range src {
		if _, ok := dst[key]; !ok {
			return fmt.Errorf("unexpected parameter %q", key)
		}
	}
	return nil
}
