package sandbox

import "github.com/caffeineduck/sandproxy/hostfunc"

// Args reads override arguments. Every accessor skips the *Sandbox that
// Dispatch prepends for PassContext definitions, so index 0 is always the
// first guest argument.
type Args struct{}

func (Args) Get(args []any) []any {
	if len(args) > 0 {
		if _, ok := args[0].(*Sandbox); ok {
			return args[1:]
		}
	}
	return args
}

func (a Args) At(args []any, i int) (any, bool) {
	args = a.Get(args)
	if i < 0 || i >= len(args) {
		return nil, false
	}
	return args[i], true
}

func (a Args) Count(args []any) int {
	return len(a.Get(args))
}

func (a Args) String(args []any, i int) (string, error) {
	return hostfunc.String(a.Get(args), i)
}

func (a Args) Int(args []any, i int) (int, error) {
	return hostfunc.Int(a.Get(args), i)
}

func (a Args) Float(args []any, i int) (float64, error) {
	return hostfunc.Float(a.Get(args), i)
}

func (a Args) Bool(args []any, i int) bool {
	return hostfunc.Bool(a.Get(args), i)
}

// Context returns the sandbox prepended to args, if any.
func (Args) Context(args []any) (*Sandbox, bool) {
	if len(args) == 0 {
		return nil, false
	}
	s, ok := args[0].(*Sandbox)
	return s, ok
}
