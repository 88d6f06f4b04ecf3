package sandbox

import (
	"reflect"

	"github.com/caffeineduck/sandproxy/policy"
)

// Boxed is a guest value that stands for a plain string. Dispatch unboxes
// every Boxed argument before any override or host function sees it.
type Boxed interface {
	Unbox() string
}

// SandboxedString marks a string that names a callable, so guest code can
// hand it around without it being invoked directly.
type SandboxedString struct {
	value string
}

func NewString(s string) *SandboxedString {
	return &SandboxedString{value: s}
}

// Unbox returns the string. A nil box unboxes to "".
func (s *SandboxedString) Unbox() string {
	if s == nil {
		return ""
	}
	return s.value
}

func (s *SandboxedString) String() string { return s.Unbox() }

// Normalize returns a copy of args with every Boxed value replaced by its
// string. It descends into slices, arrays and string-keyed maps of any
// element type; those come back as []any and map[string]any. A nil box
// becomes nil.
func Normalize(args []any) []any {
	if args == nil {
		return nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = normalize(a)
	}
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int64, float64, []byte:
		return v
	case Boxed:
		if rv := reflect.ValueOf(t); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil
		}
		return t.Unbox()
	case []any:
		return Normalize(t)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = normalize(e)
		}
		return m
	}
	return normalizeValue(reflect.ValueOf(v), v)
}

// normalizeValue handles typed containers such as []*SandboxedString or
// map[string][]string.
func normalizeValue(rv reflect.Value, v any) any {
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = normalize(iter.Value().Interface())
		}
		return m
	}
	return v
}

// Strings intercepts strings that name callables.
type Strings struct {
	policy    *policy.Policy
	functions *Functions
}

// Wrap boxes v when string sandboxing is on and v names a visible callable.
// Anything else is returned as is.
func (s *Strings) Wrap(v any) any {
	str, ok := v.(string)
	if !ok || !s.policy.Flags.SandboxStrings {
		return v
	}
	if !s.functions.Exists(str) {
		return v
	}
	return NewString(str)
}

// Unwrap applies dispatch normalization to a single value.
func (s *Strings) Unwrap(v any) any {
	return normalize(v)
}

// IsCallable reports whether v is a string, boxed or not, naming a visible
// callable.
func (s *Strings) IsCallable(v any) bool {
	switch t := v.(type) {
	case string:
		return s.functions.Exists(t)
	case Boxed:
		return s.functions.Exists(t.Unbox())
	}
	return false
}
