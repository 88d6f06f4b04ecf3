package policy

import (
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/caffeineduck/sandproxy/hostfunc"
	"golang.org/x/text/cases"
)

// List is a pair of glob pattern lists. A name is allowed when it matches a
// whitelist pattern and no blacklist pattern; an empty whitelist allows
// nothing.
type List struct {
	Whitelist []string `json:"whitelist,omitempty" toml:"whitelist" yaml:"whitelist,omitempty"`
	Blacklist []string `json:"blacklist,omitempty" toml:"blacklist" yaml:"blacklist,omitempty"`
}

// Allows reports whether name passes the list. fold is applied to the name
// and to every pattern before matching.
func (l List) Allows(name string, fold func(string) string) bool {
	if fold == nil {
		fold = identity
	}
	name = fold(name)
	for _, pattern := range l.Blacklist {
		if match(fold(pattern), name) {
			return false
		}
	}
	for _, pattern := range l.Whitelist {
		if match(fold(pattern), name) {
			return true
		}
	}
	return false
}

func match(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

func identity(s string) string { return s }

func (l List) clone() List {
	return List{
		Whitelist: slices.Clone(l.Whitelist),
		Blacklist: slices.Clone(l.Blacklist),
	}
}

// canonical returns the list with both sides sorted and de-duplicated.
func (l List) canonical() List {
	norm := func(in []string) []string {
		if len(in) == 0 {
			return nil
		}
		out := slices.Clone(in)
		sort.Strings(out)
		return slices.Compact(out)
	}
	return List{Whitelist: norm(l.Whitelist), Blacklist: norm(l.Blacklist)}
}

// Flags toggles optional sandbox behavior.
type Flags struct {
	// CaseSensitive disables case folding of function and constant names.
	CaseSensitive bool `json:"case_sensitive,omitempty" toml:"case_sensitive" yaml:"case_sensitive,omitempty"`
	// SandboxStrings makes the strings proxy box strings that name a
	// visible callable.
	SandboxStrings bool `json:"sandbox_strings,omitempty" toml:"sandbox_strings" yaml:"sandbox_strings,omitempty"`
}

// Function is a user-registered override consulted before the host.
type Function struct {
	Name string
	Impl hostfunc.Func
	// PassContext prepends the owning sandbox to the arguments.
	PassContext bool
	// Body identifies what Impl does: its source text, a version tag or a
	// digest. It feeds the sandbox identity hash. Empty means opaque.
	Body string
}

// Policy is the configuration a sandbox enforces.
type Policy struct {
	Functions      List `json:"functions" toml:"functions" yaml:"functions"`
	Constants      List `json:"constants" toml:"constants" yaml:"constants"`
	SuperGlobals   List `json:"superglobals" toml:"superglobals" yaml:"superglobals"`
	MagicConstants List `json:"magic_constants" toml:"magic_constants" yaml:"magic_constants"`

	DefinedConstants      map[string]any            `json:"defined_constants,omitempty" toml:"defined_constants" yaml:"defined_constants,omitempty"`
	DefinedMagicConstants map[string]any            `json:"defined_magic_constants,omitempty" toml:"defined_magic_constants" yaml:"defined_magic_constants,omitempty"`
	DefinedSuperGlobals   map[string]map[string]any `json:"defined_superglobals,omitempty" toml:"defined_superglobals" yaml:"defined_superglobals,omitempty"`

	Flags Flags `json:"flags" toml:"flags" yaml:"flags"`

	definitions map[string]*Function
}

func New() *Policy {
	return &Policy{}
}

// Fold normalizes a function or constant name for lookup.
func (p *Policy) Fold(name string) string {
	if p.Flags.CaseSensitive {
		return name
	}
	return cases.Fold().String(name)
}

// AllowFunction adds patterns to the function whitelist.
func (p *Policy) AllowFunction(patterns ...string) *Policy {
	p.Functions.Whitelist = append(p.Functions.Whitelist, patterns...)
	return p
}

// DenyFunction adds patterns to the function blacklist.
func (p *Policy) DenyFunction(patterns ...string) *Policy {
	p.Functions.Blacklist = append(p.Functions.Blacklist, patterns...)
	return p
}

func (p *Policy) AllowConstant(patterns ...string) *Policy {
	p.Constants.Whitelist = append(p.Constants.Whitelist, patterns...)
	return p
}

func (p *Policy) AllowSuperGlobal(patterns ...string) *Policy {
	p.SuperGlobals.Whitelist = append(p.SuperGlobals.Whitelist, patterns...)
	return p
}

func (p *Policy) AllowMagicConstant(patterns ...string) *Policy {
	p.MagicConstants.Whitelist = append(p.MagicConstants.Whitelist, patterns...)
	return p
}

func (p *Policy) DefineConstant(name string, value any) *Policy {
	if p.DefinedConstants == nil {
		p.DefinedConstants = make(map[string]any)
	}
	p.DefinedConstants[name] = value
	return p
}

func (p *Policy) DefineMagicConstant(name string, value any) *Policy {
	if p.DefinedMagicConstants == nil {
		p.DefinedMagicConstants = make(map[string]any)
	}
	p.DefinedMagicConstants[name] = value
	return p
}

// DefineSuperGlobal shadows key within the named superglobal.
func (p *Policy) DefineSuperGlobal(name, key string, value any) *Policy {
	if p.DefinedSuperGlobals == nil {
		p.DefinedSuperGlobals = make(map[string]map[string]any)
	}
	if p.DefinedSuperGlobals[name] == nil {
		p.DefinedSuperGlobals[name] = make(map[string]any)
	}
	p.DefinedSuperGlobals[name][key] = value
	return p
}

// Define registers an override. A later definition with the same folded
// name replaces the earlier one.
func (p *Policy) Define(fn *Function) error {
	if fn == nil || fn.Name == "" {
		return fmt.Errorf("%w: function name required", ErrConfiguration)
	}
	if fn.Impl == nil {
		return fmt.Errorf("%w: function %q has no implementation", ErrConfiguration, fn.Name)
	}
	if p.definitions == nil {
		p.definitions = make(map[string]*Function)
	}
	p.definitions[p.Fold(fn.Name)] = fn
	return nil
}

// DefineFunc is shorthand for Define with an opaque or tagged body.
func (p *Policy) DefineFunc(name string, impl hostfunc.Func, passContext bool, body string) error {
	return p.Define(&Function{Name: name, Impl: impl, PassContext: passContext, Body: body})
}

func (p *Policy) Undefine(name string) {
	delete(p.definitions, p.Fold(name))
}

func (p *Policy) Definition(name string) (*Function, bool) {
	fn, ok := p.definitions[p.Fold(name)]
	return fn, ok
}

// Definitions returns the override table ordered by folded name.
func (p *Policy) Definitions() []*Function {
	keys := slices.Sorted(maps.Keys(p.definitions))
	out := make([]*Function, len(keys))
	for i, k := range keys {
		out[i] = p.definitions[k]
	}
	return out
}

// Clone returns a deep copy. Function entries are copied by value; their
// implementations are shared.
func (p *Policy) Clone() *Policy {
	c := &Policy{
		Functions:             p.Functions.clone(),
		Constants:             p.Constants.clone(),
		SuperGlobals:          p.SuperGlobals.clone(),
		MagicConstants:        p.MagicConstants.clone(),
		DefinedConstants:      maps.Clone(p.DefinedConstants),
		DefinedMagicConstants: maps.Clone(p.DefinedMagicConstants),
		Flags:                 p.Flags,
	}
	if p.DefinedSuperGlobals != nil {
		c.DefinedSuperGlobals = make(map[string]map[string]any, len(p.DefinedSuperGlobals))
		for k, v := range p.DefinedSuperGlobals {
			c.DefinedSuperGlobals[k] = maps.Clone(v)
		}
	}
	if p.definitions != nil {
		c.definitions = make(map[string]*Function, len(p.definitions))
		for k, fn := range p.definitions {
			cp := *fn
			c.definitions[k] = &cp
		}
	}
	return c
}

// Validate reports malformed glob patterns and values that cannot be
// encoded canonically.
func (p *Policy) Validate() error {
	lists := map[string]List{
		"functions":       p.Functions,
		"constants":       p.Constants,
		"superglobals":    p.SuperGlobals,
		"magic_constants": p.MagicConstants,
	}
	for _, section := range slices.Sorted(maps.Keys(lists)) {
		l := lists[section]
		for _, pattern := range slices.Concat(l.Whitelist, l.Blacklist) {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("%w: %s: invalid pattern %q", ErrConfiguration, section, pattern)
			}
		}
	}
	if _, err := p.Canonical(); err != nil {
		return err
	}
	return nil
}
