package hostfunc

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ArgError reports a missing or mistyped positional argument.
type ArgError struct {
	Index int
	Want  string
	Got   any
}

func (e *ArgError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("argument %d: %s required", e.Index, e.Want)
	}
	return fmt.Sprintf("argument %d: expected %s, got %T", e.Index, e.Want, e.Got)
}

// String returns args[i] as a string. Numbers and booleans are formatted.
func String(args []any, i int) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", &ArgError{Index: i, Want: "string"}
	}
	switch v := args[i].(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	}
	return "", &ArgError{Index: i, Want: "string", Got: args[i]}
}

// StringOr returns args[i] as a string, or def when the argument is absent.
func StringOr(args []any, i int, def string) (string, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	return String(args, i)
}

// Int returns args[i] as an int. Whole floats (the JSON number shape) and
// numeric strings are accepted.
func Int(args []any, i int) (int, error) {
	if i >= len(args) || args[i] == nil {
		return 0, &ArgError{Index: i, Want: "int"}
	}
	switch v := args[i].(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) >= 1<<63 {
			return 0, &ArgError{Index: i, Want: "int", Got: v}
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, &ArgError{Index: i, Want: "int", Got: v}
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, &ArgError{Index: i, Want: "int", Got: v}
		}
		return n, nil
	}
	return 0, &ArgError{Index: i, Want: "int", Got: args[i]}
}

// Float returns args[i] as a float64.
func Float(args []any, i int) (float64, error) {
	if i >= len(args) || args[i] == nil {
		return 0, &ArgError{Index: i, Want: "number"}
	}
	switch v := args[i].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, &ArgError{Index: i, Want: "number", Got: v}
		}
		return f, nil
	}
	return 0, &ArgError{Index: i, Want: "number", Got: args[i]}
}

// Bool returns args[i] using loose truthiness: zero numbers, empty strings,
// "0" and "false" are false.
func Bool(args []any, i int) bool {
	if i >= len(args) || args[i] == nil {
		return false
	}
	switch v := args[i].(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "0" && v != "false"
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}

// List returns args[i] as a []any.
func List(args []any, i int) ([]any, error) {
	if i >= len(args) || args[i] == nil {
		return nil, &ArgError{Index: i, Want: "list"}
	}
	switch v := args[i].(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for j, s := range v {
			out[j] = s
		}
		return out, nil
	}
	return nil, &ArgError{Index: i, Want: "list", Got: args[i]}
}

// Map returns args[i] as a map[string]any.
func Map(args []any, i int) (map[string]any, error) {
	if i >= len(args) || args[i] == nil {
		return nil, &ArgError{Index: i, Want: "map"}
	}
	m, ok := args[i].(map[string]any)
	if !ok {
		return nil, &ArgError{Index: i, Want: "map", Got: args[i]}
	}
	return m, nil
}
