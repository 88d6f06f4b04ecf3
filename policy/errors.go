package policy

import (
	"errors"
	"fmt"
)

// Sentinel errors for error classification.
var (
	// ErrValidation indicates that an operation was refused by the sandbox
	// policy. Every *ValidationError matches it.
	ErrValidation = errors.New("sandbox validation failed")

	// ErrConfiguration indicates an invalid policy document or a policy
	// that cannot be encoded canonically.
	ErrConfiguration = errors.New("policy configuration error")
)

// Kind classifies a validation failure.
type Kind string

const (
	// KindInvalidFunctionCall is returned by dispatch when a name resolves to
	// neither a defined function nor a permitted host function.
	KindInvalidFunctionCall Kind = "invalid function call"
	KindFunction            Kind = "function"
	KindConstant            Kind = "constant"
	KindMagicConstant       Kind = "magic constant"
	KindSuperGlobal         Kind = "superglobal"
)

// ValidationError is a deterministic, side-effect free refusal. Name is the
// name exactly as the caller supplied it.
type ValidationError struct {
	Kind Kind
	Name string
	// Reason is optional detail, e.g. which list refused the name.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %q (%s)", e.Kind, e.Name, e.Reason)
	}
	return fmt.Sprintf("%s: %q", e.Kind, e.Name)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsKind reports whether err is a *ValidationError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == kind
}
