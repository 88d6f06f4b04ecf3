package policy

// Validator decides whether a name in one of the intercepted categories may
// reach the host. Implementations return nil or a *ValidationError.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Determinism: the same policy state must produce the same verdict.
type Validator interface {
	CheckFunction(name string) error
	CheckConstant(name string) error
	CheckSuperGlobal(name string) error
	CheckMagicConstant(name string) error
}

// ListValidator checks names against the policy's whitelists and
// blacklists. It reads the policy on every call, so it follows later edits.
type ListValidator struct {
	policy *Policy
}

func NewValidator(p *Policy) *ListValidator {
	return &ListValidator{policy: p}
}

func (v *ListValidator) CheckFunction(name string) error {
	return v.check(v.policy.Functions, KindFunction, name, v.policy.Fold)
}

func (v *ListValidator) CheckConstant(name string) error {
	return v.check(v.policy.Constants, KindConstant, name, v.policy.Fold)
}

// CheckSuperGlobal matches superglobal names case-sensitively.
func (v *ListValidator) CheckSuperGlobal(name string) error {
	return v.check(v.policy.SuperGlobals, KindSuperGlobal, name, nil)
}

func (v *ListValidator) CheckMagicConstant(name string) error {
	return v.check(v.policy.MagicConstants, KindMagicConstant, name, v.policy.Fold)
}

func (v *ListValidator) check(l List, kind Kind, name string, fold func(string) string) error {
	if name == "" {
		return &ValidationError{Kind: kind, Name: name, Reason: "empty name"}
	}
	if l.Allows(name, fold) {
		return nil
	}
	reason := "not whitelisted"
	if len(l.Whitelist) == 0 {
		reason = "whitelist empty"
	}
	for _, pattern := range l.Blacklist {
		f := fold
		if f == nil {
			f = identity
		}
		if match(f(pattern), f(name)) {
			reason = "blacklisted"
			break
		}
	}
	return &ValidationError{Kind: kind, Name: name, Reason: reason}
}
