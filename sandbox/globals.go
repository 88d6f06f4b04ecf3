package sandbox

import (
	"maps"

	"github.com/caffeineduck/sandproxy/hostfunc"
	"github.com/caffeineduck/sandproxy/policy"
)

// Globals shadows superglobal tables. Keys defined by the policy are merged
// over the host table; the host table itself is only visible when the
// validator permits the superglobal. Superglobal names are case-sensitive.
type Globals struct {
	policy    *policy.Policy
	validator policy.Validator
	host      *hostfunc.Registry
}

// Get returns a copy of the named superglobal as the guest sees it.
func (g *Globals) Get(name string) (map[string]any, error) {
	defined, hasDefined := g.policy.DefinedSuperGlobals[name]

	hostTable, err := g.hostTable(name)
	if err != nil && !hasDefined {
		return nil, err
	}

	out := make(map[string]any, len(hostTable)+len(defined))
	maps.Copy(out, hostTable)
	maps.Copy(out, defined)
	return out, nil
}

// Lookup returns one key of the named superglobal.
func (g *Globals) Lookup(name, key string) (any, error) {
	if v, ok := g.policy.DefinedSuperGlobals[name][key]; ok {
		return v, nil
	}
	hostTable, err := g.hostTable(name)
	if err != nil {
		return nil, err
	}
	v, ok := hostTable[key]
	if !ok {
		return nil, &policy.ValidationError{Kind: policy.KindSuperGlobal, Name: name, Reason: "undefined key " + key}
	}
	return v, nil
}

func (g *Globals) hostTable(name string) (map[string]any, error) {
	if err := g.validator.CheckSuperGlobal(name); err != nil {
		return nil, err
	}
	table, ok := g.host.Global(name)
	if !ok {
		return nil, &policy.ValidationError{Kind: policy.KindSuperGlobal, Name: name, Reason: "undefined"}
	}
	return table, nil
}
