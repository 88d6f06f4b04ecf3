package sandbox

import (
	"github.com/caffeineduck/sandproxy/hostfunc"
	"github.com/caffeineduck/sandproxy/policy"
)

// Constants shadows constant and magic constant lookups. Policy-defined
// values win over the host; host values need the validator's approval.
type Constants struct {
	policy    *policy.Policy
	validator policy.Validator
	host      *hostfunc.Registry
}

func (c *Constants) Get(name string) (any, error) {
	if v, ok := c.defined(c.policy.DefinedConstants, name); ok {
		return v, nil
	}
	if err := c.validator.CheckConstant(name); err != nil {
		return nil, err
	}
	if v, ok := c.hostConstant(name); ok {
		return v, nil
	}
	return nil, &policy.ValidationError{Kind: policy.KindConstant, Name: name, Reason: "undefined"}
}

// Magic resolves a magic constant such as __FILE__ or __LINE__.
func (c *Constants) Magic(name string) (any, error) {
	if v, ok := c.defined(c.policy.DefinedMagicConstants, name); ok {
		return v, nil
	}
	if err := c.validator.CheckMagicConstant(name); err != nil {
		return nil, err
	}
	if v, ok := c.hostConstant(name); ok {
		return v, nil
	}
	return nil, &policy.ValidationError{Kind: policy.KindMagicConstant, Name: name, Reason: "undefined"}
}

// Defined reports whether Get would succeed for name.
func (c *Constants) Defined(name string) bool {
	_, err := c.Get(name)
	return err == nil
}

func (c *Constants) defined(m map[string]any, name string) (any, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	if c.policy.Flags.CaseSensitive {
		return nil, false
	}
	folded := c.policy.Fold(name)
	for k, v := range m {
		if c.policy.Fold(k) == folded {
			return v, true
		}
	}
	return nil, false
}

func (c *Constants) hostConstant(name string) (any, bool) {
	if v, ok := c.host.Constant(name); ok {
		return v, true
	}
	if folded := c.policy.Fold(name); folded != name {
		return c.host.Constant(folded)
	}
	return nil, false
}
