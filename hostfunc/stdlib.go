package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxRepeatSize bounds the output of str_repeat.
const MaxRepeatSize = 1 << 20

// InstallStdlib registers the side-effect free string and time functions and
// the host constants on r.
func InstallStdlib(r *Registry) {
	r.Register("strtoupper", unary(strings.ToUpper))
	r.Register("strtolower", unary(strings.ToLower))
	r.Register("ucfirst", unary(ucfirst))
	r.Register("strrev", unary(reverse))
	r.Register("trim", trimFunc(strings.Trim, strings.TrimSpace))
	r.Register("ltrim", trimFunc(strings.TrimLeft, func(s string) string { return strings.TrimLeft(s, " \t\n\r\x00\x0b") }))
	r.Register("rtrim", trimFunc(strings.TrimRight, func(s string) string { return strings.TrimRight(s, " \t\n\r\x00\x0b") }))
	r.Register("strlen", strlen)
	r.Register("mb_strlen", mbStrlen)
	r.Register("str_repeat", strRepeat)
	r.Register("str_replace", strReplace)
	r.Register("strpos", strpos)
	r.Register("substr", substr)
	r.Register("implode", implode)
	r.Register("explode", explode)
	r.Register("sprintf", sprintf)
	r.Register("time_now", timeNow)

	r.DefineConstant("EOL", "\n")
	r.DefineConstant("OS", runtime.GOOS)
	r.DefineConstant("ARCH", runtime.GOARCH)
	r.DefineConstant("GO_VERSION", runtime.Version())
	r.DefineConstant("INT_MAX", int64(1<<63-1))
}

// Stdlib returns a registry with InstallStdlib applied.
func Stdlib() *Registry {
	r := NewRegistry()
	InstallStdlib(r)
	return r
}

func unary(fn func(string) string) Func {
	return func(ctx context.Context, args []any) (any, error) {
		s, err := String(args, 0)
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

func trimFunc(withCutset func(string, string) string, plain func(string) string) Func {
	return func(ctx context.Context, args []any) (any, error) {
		s, err := String(args, 0)
		if err != nil {
			return nil, err
		}
		if len(args) > 1 {
			cutset, err := String(args, 1)
			if err != nil {
				return nil, err
			}
			return withCutset(s, cutset), nil
		}
		return plain(s), nil
	}
}

func ucfirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return strings.ToUpper(string(r)) + s[size:]
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func strlen(ctx context.Context, args []any) (any, error) {
	s, err := String(args, 0)
	if err != nil {
		return nil, err
	}
	return len(s), nil
}

func mbStrlen(ctx context.Context, args []any) (any, error) {
	s, err := String(args, 0)
	if err != nil {
		return nil, err
	}
	return utf8.RuneCountInString(s), nil
}

func strRepeat(ctx context.Context, args []any) (any, error) {
	s, err := String(args, 0)
	if err != nil {
		return nil, err
	}
	n, err := Int(args, 1)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.New("repeat count must be non-negative")
	}
	if n > MaxRepeatSize/max(len(s), 1) {
		return nil, fmt.Errorf("result exceeds max size (%d)", MaxRepeatSize)
	}
	return strings.Repeat(s, n), nil
}

func strReplace(ctx context.Context, args []any) (any, error) {
	search, err := String(args, 0)
	if err != nil {
		return nil, err
	}
	replace, err := String(args, 1)
	if err != nil {
		return nil, err
	}
	subject, err := String(args, 2)
	if err != nil {
		return nil, err
	}
	if search == "" {
		return subject, nil
	}
	return strings.ReplaceAll(subject, search, replace), nil
}

// strpos returns the byte offset of needle, or false when absent.
func strpos(ctx context.Context, args []any) (any, error) {
	haystack, err := String(args, 0)
	if err != nil {
		return nil, err
	}
	needle, err := String(args, 1)
	if err != nil {
		return nil, err
	}
	idx := strings.Index(haystack, needle)
	if idx < 0 {
		return false, nil
	}
	return idx, nil
}

func substr(ctx context.Context, args []any) (any, error) {
	s, err := String(args, 0)
	if err != nil {
		return nil, err
	}
	start, err := Int(args, 1)
	if err != nil {
		return nil, err
	}
	n := len(s)
	if start < 0 {
		start = max(n+start, 0)
	}
	if start > n {
		return "", nil
	}
	end := n
	if len(args) > 2 && args[2] != nil {
		length, err := Int(args, 2)
		if err != nil {
			return nil, err
		}
		switch {
		case length < 0:
			end = max(n+length, start)
		case length < n-start:
			end = start + length
		}
	}
	return s[start:end], nil
}

func implode(ctx context.Context, args []any) (any, error) {
	sep, err := String(args, 0)
	if err != nil {
		return nil, err
	}
	items, err := List(args, 1)
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(items))
	for i := range items {
		s, err := String(items, i)
		if err != nil {
			return nil, err
		}
		parts[i] = s
	}
	return strings.Join(parts, sep), nil
}

func explode(ctx context.Context, args []any) (any, error) {
	sep, err := String(args, 0)
	if err != nil {
		return nil, err
	}
	if sep == "" {
		return nil, errors.New("empty delimiter")
	}
	s, err := String(args, 1)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func sprintf(ctx context.Context, args []any) (any, error) {
	format, err := String(args, 0)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf(format, args[1:]...), nil
}

func timeNow(ctx context.Context, args []any) (any, error) {
	return float64(time.Now().UnixNano()) / 1e9, nil
}
