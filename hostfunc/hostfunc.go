package hostfunc

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// Func is a host operation callable from sandboxed code. Arguments are
// positional, exactly as the guest passed them after normalization.
type Func func(ctx context.Context, args []any) (any, error)

// Registry is the host environment a sandbox dispatches into: named
// functions, constants and global tables.
type Registry struct {
	mu        sync.RWMutex
	funcs     map[string]Func
	constants map[string]any
	globals   map[string]map[string]any
}

func NewRegistry() *Registry {
	return &Registry{
		funcs:     make(map[string]Func),
		constants: make(map[string]any),
		globals:   make(map[string]map[string]any),
	}
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns registered function names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) DefineConstant(name string, value any) {
	r.mu.Lock()
	r.constants[name] = value
	r.mu.Unlock()
}

func (r *Registry) Constant(name string) (any, bool) {
	r.mu.RLock()
	v, ok := r.constants[name]
	r.mu.RUnlock()
	return v, ok
}

// SetGlobal replaces the named global table. The table is copied.
func (r *Registry) SetGlobal(name string, values map[string]any) {
	r.mu.Lock()
	r.globals[name] = maps.Clone(values)
	r.mu.Unlock()
}

// Global returns a copy of the named global table.
func (r *Registry) Global(name string) (map[string]any, bool) {
	r.mu.RLock()
	v, ok := r.globals[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return maps.Clone(v), true
}

// Merge copies every entry of other into r, overwriting on conflict.
func (r *Registry) Merge(other *Registry) {
	if other == nil || other == r {
		return
	}
	other.mu.RLock()
	funcs := maps.Clone(other.funcs)
	constants := maps.Clone(other.constants)
	globals := make(map[string]map[string]any, len(other.globals))
	for k, v := range other.globals {
		globals[k] = maps.Clone(v)
	}
	other.mu.RUnlock()

	r.mu.Lock()
	maps.Copy(r.funcs, funcs)
	maps.Copy(r.constants, constants)
	maps.Copy(r.globals, globals)
	r.mu.Unlock()
}
