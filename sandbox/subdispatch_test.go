package sandbox

import (
	"context"
	"testing"

	"github.com/caffeineduck/sandproxy/hostfunc"
	"github.com/caffeineduck/sandproxy/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostWithTables() *hostfunc.Registry {
	r := newHost()
	r.DefineConstant("PHP_EOL", "\n")
	r.DefineConstant("SECRET", "hunter2")
	r.DefineConstant("__DIR__", "/srv/host")
	r.SetGlobal("_SERVER", map[string]any{"HOST": "prod", "USER": "root"})
	r.SetGlobal("_ENV", map[string]any{"TOKEN": "t"})
	return r
}

func TestGlobalsMergeDefinedOverHost(t *testing.T) {
	p := policy.New().AllowSuperGlobal("_SERVER").DefineSuperGlobal("_SERVER", "USER", "guest")
	s, err := New(p, nil, WithHost(hostWithTables()))
	require.NoError(t, err)

	got, err := s.Globals().Get("_SERVER")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"HOST": "prod", "USER": "guest"}, got)

	v, err := s.Globals().Lookup("_SERVER", "HOST")
	require.NoError(t, err)
	assert.Equal(t, "prod", v)

	_, err = s.Globals().Lookup("_SERVER", "MISSING")
	assert.True(t, policy.IsKind(err, policy.KindSuperGlobal))
}

func TestGlobalsDeniedHostTable(t *testing.T) {
	p := policy.New().DefineSuperGlobal("_SERVER", "USER", "guest")
	s, err := New(p, nil, WithHost(hostWithTables()))
	require.NoError(t, err)

	got, err := s.Globals().Get("_SERVER")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"USER": "guest"}, got, "host keys need the superglobal whitelisted")

	_, err = s.Globals().Get("_ENV")
	assert.True(t, policy.IsKind(err, policy.KindSuperGlobal))

	_, err = s.Globals().Lookup("_SERVER", "HOST")
	assert.True(t, policy.IsKind(err, policy.KindSuperGlobal))
}

func TestGlobalsCopyIsolatesHost(t *testing.T) {
	host := hostWithTables()
	s, err := New(policy.New().AllowSuperGlobal("_ENV"), nil, WithHost(host))
	require.NoError(t, err)

	got, err := s.Globals().Get("_ENV")
	require.NoError(t, err)
	got["TOKEN"] = "changed"

	again, err := s.Globals().Lookup("_ENV", "TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "t", again)
}

func TestConstants(t *testing.T) {
	p := policy.New().AllowConstant("PHP_*").DefineConstant("APP_MODE", "sandbox")
	s, err := New(p, nil, WithHost(hostWithTables()))
	require.NoError(t, err)
	c := s.Constants()

	v, err := c.Get("APP_MODE")
	require.NoError(t, err)
	assert.Equal(t, "sandbox", v)

	v, err = c.Get("app_mode")
	require.NoError(t, err, "constant names fold unless case sensitive")
	assert.Equal(t, "sandbox", v)

	v, err = c.Get("PHP_EOL")
	require.NoError(t, err)
	assert.Equal(t, "\n", v)

	_, err = c.Get("SECRET")
	assert.True(t, policy.IsKind(err, policy.KindConstant))

	_, err = c.Get("PHP_MISSING")
	assert.True(t, policy.IsKind(err, policy.KindConstant))

	assert.True(t, c.Defined("APP_MODE"))
	assert.False(t, c.Defined("SECRET"))
}

func TestMagicConstants(t *testing.T) {
	p := policy.New().DefineMagicConstant("__FILE__", "/sandbox/main.php")
	s, err := New(p, nil, WithHost(hostWithTables()))
	require.NoError(t, err)

	v, err := s.Constants().Magic("__FILE__")
	require.NoError(t, err)
	assert.Equal(t, "/sandbox/main.php", v)

	_, err = s.Constants().Magic("__DIR__")
	assert.True(t, policy.IsKind(err, policy.KindMagicConstant))

	p.AllowMagicConstant("__DIR__")
	v, err = s.Constants().Magic("__DIR__")
	require.NoError(t, err)
	assert.Equal(t, "/srv/host", v)
}

func TestArgs(t *testing.T) {
	s := newSandbox(t, policy.New())
	a := s.Args()
	args := []any{s, "7", 2.5, "false"}

	assert.Equal(t, 3, a.Count(args))
	got, ok := a.At(args, 0)
	assert.True(t, ok)
	assert.Equal(t, "7", got)
	_, ok = a.At(args, 3)
	assert.False(t, ok)

	n, err := a.Int(args, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	f, err := a.Float(args, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)

	assert.False(t, a.Bool(args, 2))

	str, err := a.String(args, 1)
	require.NoError(t, err)
	assert.Equal(t, "2.5", str)

	ctx, ok := a.Context(args)
	assert.True(t, ok)
	assert.Same(t, s, ctx)

	_, ok = a.Context([]any{"x"})
	assert.False(t, ok)
	assert.Equal(t, []any{"x"}, a.Get([]any{"x"}))
}

func TestFunctionsDefined(t *testing.T) {
	p := policy.New().AllowFunction("str*", "echo")
	require.NoError(t, p.DefineFunc("greet", echo, false, "v1"))
	require.NoError(t, p.DefineFunc("echo", echo, false, "v1"))
	s, err := New(p, nil, WithHost(newHost()))
	require.NoError(t, err)
	f := s.Functions()

	assert.Equal(t, []string{"echo", "greet", "strtoupper"}, f.Defined())
	assert.True(t, f.Exists("greet"))
	assert.True(t, f.Exists("STRTOUPPER"))
	assert.False(t, f.Exists("system"))

	def, ok := f.Definition("GREET")
	require.True(t, ok)
	assert.Equal(t, "greet", def.Name)
}

func TestStringsWrap(t *testing.T) {
	p := policy.New().AllowFunction("strtoupper")
	s, err := New(p, nil, WithHost(newHost()))
	require.NoError(t, err)
	st := s.Strings()

	assert.Equal(t, "strtoupper", st.Wrap("strtoupper"), "boxing is off by default")

	p.Flags.SandboxStrings = true
	boxed := st.Wrap("strtoupper")
	require.IsType(t, &SandboxedString{}, boxed)
	assert.Equal(t, "strtoupper", boxed.(Boxed).Unbox())
	assert.Equal(t, "hello", st.Wrap("hello"))
	assert.Equal(t, 42, st.Wrap(42))

	assert.True(t, st.IsCallable(boxed))
	assert.True(t, st.IsCallable("strtoupper"))
	assert.False(t, st.IsCallable("system"))
	assert.False(t, st.IsCallable(1))

	assert.Equal(t, "strtoupper", st.Unwrap(boxed))
	assert.Equal(t, []any{"strtoupper", 1}, st.Unwrap([]any{boxed, 1}))
}

func TestBoxedStringDispatchesAsName(t *testing.T) {
	p := policy.New().AllowFunction("strtoupper")
	p.Flags.SandboxStrings = true
	s, err := New(p, nil, WithHost(newHost()))
	require.NoError(t, err)

	out, err := s.Dispatch(context.Background(), "strtoupper", s.Strings().Wrap("strtoupper"))
	require.NoError(t, err)
	assert.Equal(t, "STRTOUPPER", out)
}

func TestNormalizeNil(t *testing.T) {
	assert.Nil(t, Normalize(nil))
	assert.Equal(t, []any{nil}, Normalize([]any{nil}))
}

func TestNormalizeNilBox(t *testing.T) {
	var box *SandboxedString
	assert.Equal(t, "", box.Unbox())
	assert.Equal(t, []any{nil, "x"}, Normalize([]any{box, NewString("x")}))
}

func TestNormalizeTypedContainers(t *testing.T) {
	got := Normalize([]any{
		[]*SandboxedString{NewString("y"), nil},
		[]string{"a", "b"},
		[2]any{NewString("z"), 1},
		map[string]*SandboxedString{"k": NewString("v")},
		map[string][]any{"n": {NewString("w")}},
		[]byte("raw"),
		map[int]string{1: "kept"},
	})

	assert.Equal(t, []any{"y", nil}, got[0])
	assert.Equal(t, []any{"a", "b"}, got[1])
	assert.Equal(t, []any{"z", 1}, got[2])
	assert.Equal(t, map[string]any{"k": "v"}, got[3])
	assert.Equal(t, map[string]any{"n": []any{"w"}}, got[4])
	assert.Equal(t, []byte("raw"), got[5])
	assert.Equal(t, map[int]string{1: "kept"}, got[6])
}

func TestDispatchUnboxesTypedSlices(t *testing.T) {
	s := newSandbox(t, policy.New().AllowFunction("echo"))

	out, err := s.Dispatch(context.Background(), "echo", []*SandboxedString{NewString("q")}, (*SandboxedString)(nil))
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"q"}, nil}, out)
}
