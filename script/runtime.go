// Package script runs untrusted JavaScript whose only route to the host is
// an explicit call into a sandbox.
//
// Scripts see these globals:
//
//	call(name, ...args)   dispatch through the sandbox
//	constant(name)        sandboxed constant lookup
//	magic(name)           magic constant lookup
//	global(name[, key])   superglobal table or one of its keys
//	box(str)              box a string so it is passed by name
//
// A refused operation throws a JavaScript Error carrying the message.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/caffeineduck/sandproxy/sandbox"
	"github.com/dop251/goja"
)

// ErrInterrupted is returned when a script is stopped by its timeout or by
// context cancellation.
var ErrInterrupted = errors.New("script: interrupted")

// ErrHostPanic wraps a panic raised by a function called from a script.
var ErrHostPanic = errors.New("script: host function panicked")

// Runtime executes scripts against one sandbox. Every Run uses a fresh VM,
// so scripts share no state.
type Runtime struct {
	sb  *sandbox.Sandbox
	cfg Config
}

func New(sb *sandbox.Sandbox, cfg Config) *Runtime {
	return &Runtime{sb: sb, cfg: cfg}
}

// Run executes src in a fresh VM. Config.Timeout bounds the whole run,
// including host calls made through the sandbox: they see a context that is
// cancelled when the timeout fires.
func (r *Runtime) Run(ctx context.Context, src string) (*Result, error) {
	start := time.Now()
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.cfg.Timeout, fmt.Errorf("timeout after %v", r.cfg.Timeout))
		defer cancel()
	}

	vm := goja.New()
	if r.cfg.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(r.cfg.MaxCallStackSize)
	}

	con := &console{}
	install(ctx, vm, r.sb)
	if r.cfg.EnableConsole {
		con.install(vm)
	}

	stop := watch(ctx, vm)
	val, err := vm.RunString(src)
	stop()

	result := &Result{
		Console:  con.entries(),
		Duration: time.Since(start),
	}
	if err != nil {
		return result, translate(err)
	}
	result.Value = export(val)
	return result, nil
}

// watch interrupts vm when ctx ends. The returned func must be called
// exactly once, after the VM returns.
func watch(ctx context.Context, vm *goja.Runtime) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(context.Cause(ctx).Error())
		case <-done:
		}
	}()
	return func() { close(done) }
}

func translate(err error) error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return fmt.Errorf("%w: %v", ErrInterrupted, ie.Value())
	}
	// Errors raised by the bridge globals reach the caller as the original
	// Go error.
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if obj, ok := ex.Value().(*goja.Object); ok {
			if v := obj.Get("value"); v != nil {
				if goErr, ok := v.Export().(error); ok {
					return goErr
				}
			}
		}
	}
	return err
}

// install binds the sandbox globals on vm.
func install(ctx context.Context, vm *goja.Runtime, sb *sandbox.Sandbox) {
	for _, name := range []string{"require", "process", "module", "exports"} {
		vm.Set(name, goja.Undefined())
	}

	vm.Set("call", func(call goja.FunctionCall) goja.Value {
		name := nameOf(call.Argument(0))
		args := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments[min(1, len(call.Arguments)):] {
			args = append(args, a.Export())
		}
		out, err := dispatch(ctx, sb, name, args)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(sb.Strings().Wrap(out))
	})

	vm.Set("constant", func(name string) goja.Value {
		v, err := sb.Constants().Get(name)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(v)
	})

	vm.Set("magic", func(name string) goja.Value {
		v, err := sb.Constants().Magic(name)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(v)
	})

	vm.Set("global", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if len(call.Arguments) > 1 {
			v, err := sb.Globals().Lookup(name, call.Argument(1).String())
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return vm.ToValue(v)
		}
		table, err := sb.Globals().Get(name)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(table)
	})

	vm.Set("box", func(s string) *sandbox.SandboxedString {
		return sandbox.NewString(s)
	})
}

// dispatch turns a panicking host function into an error the script can
// catch.
func dispatch(ctx context.Context, sb *sandbox.Sandbox, name string, args []any) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("%w: %s: %v", ErrHostPanic, name, p)
		}
	}()
	return sb.Dispatch(ctx, name, args...)
}

// nameOf reads a callable name that may arrive boxed.
func nameOf(v goja.Value) string {
	if b, ok := v.Export().(sandbox.Boxed); ok {
		return b.Unbox()
	}
	return v.String()
}

func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return sandbox.Normalize([]any{v.Export()})[0]
}

type console struct {
	mu  sync.Mutex
	log []LogEntry
}

func (c *console) install(vm *goja.Runtime) {
	obj := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		obj.Set(level, c.writer(level))
	}
	vm.Set("console", obj)
}

func (c *console) writer(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		c.mu.Lock()
		c.log = append(c.log, LogEntry{Level: level, Message: strings.Join(parts, " "), Time: time.Now()})
		c.mu.Unlock()
		return goja.Undefined()
	}
}

func (c *console) entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry(nil), c.log...)
}
