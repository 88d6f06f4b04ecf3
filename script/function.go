package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/caffeineduck/sandproxy/policy"
	"github.com/caffeineduck/sandproxy/sandbox"
	"github.com/dop251/goja"
)

// Function builds an override implemented in JavaScript. src must be a
// function expression such as `function (a, b) { return a + b }`. The
// trimmed source becomes the definition body, so two overrides hash equal
// only when their source matches.
//
// With passContext the override also sees the sandbox globals (call,
// constant, magic, global) bound to the dispatching sandbox.
func Function(name, src string, passContext bool) (*policy.Function, error) {
	src = strings.TrimSpace(src)
	prog, err := goja.Compile(name, "("+src+")", true)
	if err != nil {
		return nil, fmt.Errorf("%w: function %q: %v", policy.ErrConfiguration, name, err)
	}

	impl := func(ctx context.Context, args []any) (any, error) {
		vm := goja.New()
		if sb, ok := (sandbox.Args{}).Context(args); ok {
			install(ctx, vm, sb)
			args = args[1:]
		}

		stop := watch(ctx, vm)
		defer stop()

		v, err := vm.RunProgram(prog)
		if err != nil {
			return nil, translate(err)
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return nil, fmt.Errorf("script: %s is not a function", name)
		}
		jsArgs := make([]goja.Value, len(args))
		for i, a := range args {
			jsArgs[i] = vm.ToValue(a)
		}
		out, err := fn(goja.Undefined(), jsArgs...)
		if err != nil {
			return nil, translate(err)
		}
		return export(out), nil
	}

	return &policy.Function{Name: name, Impl: impl, PassContext: passContext, Body: src}, nil
}
