package sandbox

import (
	"sort"

	"github.com/caffeineduck/sandproxy/hostfunc"
	"github.com/caffeineduck/sandproxy/policy"
)

// Functions is a read view of the callables a sandbox exposes: defined
// overrides plus host functions the validator permits.
type Functions struct {
	policy    *policy.Policy
	validator policy.Validator
	registry  *hostfunc.Registry
}

// lookup finds name in the host registry, retrying with the folded name.
func (f *Functions) lookup(name string) (hostfunc.Func, bool) {
	if fn, ok := f.registry.Get(name); ok {
		return fn, true
	}
	if folded := f.policy.Fold(name); folded != name {
		return f.registry.Get(folded)
	}
	return nil, false
}

// Defined returns every visible callable name in sorted order.
func (f *Functions) Defined() []string {
	seen := make(map[string]bool)
	var names []string
	for _, fn := range f.policy.Definitions() {
		if fn.Impl == nil {
			continue
		}
		seen[f.policy.Fold(fn.Name)] = true
		names = append(names, fn.Name)
	}
	for _, name := range f.registry.List() {
		if seen[f.policy.Fold(name)] {
			continue
		}
		if f.validator.CheckFunction(name) != nil {
			continue
		}
		seen[f.policy.Fold(name)] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exists reports whether Dispatch would route name somewhere.
func (f *Functions) Exists(name string) bool {
	if fn, ok := f.policy.Definition(name); ok && fn.Impl != nil {
		return true
	}
	if _, ok := f.lookup(name); !ok {
		return false
	}
	return f.validator.CheckFunction(name) == nil
}

func (f *Functions) Definition(name string) (*policy.Function, bool) {
	return f.policy.Definition(name)
}
