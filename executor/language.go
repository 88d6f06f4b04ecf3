package executor

// Language is a WASI module that runs guest code.
type Language interface {
	// Name identifies the module; it is the compilation cache key.
	Name() string

	// Module returns the WASM binary.
	Module() []byte

	// WrapCode prepares guest code, e.g. by prepending a client for the call
	// protocol.
	WrapCode(code string) string

	// Args returns the argv passed to the module.
	Args(wrappedCode string) []string
}

// Raw runs a standalone WASI binary. Code, when non-empty, is passed as the
// last argument.
type Raw struct {
	name string
	wasm []byte
	args []string
}

func NewRaw(name string, wasm []byte, args ...string) *Raw {
	return &Raw{name: name, wasm: wasm, args: args}
}

func (r *Raw) Name() string { return r.name }
func (r *Raw) Module() []byte { return r.wasm }
func (r *Raw) WrapCode(code string) string { return code }

func (r *Raw) Args(wrappedCode string) []string {
	argv := append([]string{r.name}, r.args...)
	if wrappedCode != "" {
		argv = append(argv, wrappedCode)
	}
	return argv
}
