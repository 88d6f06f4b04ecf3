package registry

import (
	"sync"
	"testing"

	"github.com/caffeineduck/sandproxy/metrics"
	"github.com/caffeineduck/sandproxy/policy"
	"github.com/caffeineduck/sandproxy/sandbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeContext struct {
	hash string
	tag  string
}

func (f *fakeContext) Hash() string { return f.hash }

func TestRegisterDeduplicates(t *testing.T) {
	r := New[*fakeContext]()
	first := &fakeContext{hash: "h", tag: "first"}
	second := &fakeContext{hash: "h", tag: "second"}

	assert.Same(t, first, r.Register(first))
	assert.Same(t, first, r.Register(second))
	assert.Equal(t, 2, r.RefCount("h"))
	assert.Equal(t, 1, r.Len())

	got, ok := r.Lookup("h")
	require.True(t, ok)
	assert.Equal(t, "first", got.tag)
}

func TestReleaseEvictsAtZero(t *testing.T) {
	r := New[*fakeContext]()
	c := &fakeContext{hash: "h"}
	r.Register(c)
	r.Register(c)

	require.NoError(t, r.Release(c))
	assert.Equal(t, 1, r.RefCount("h"))
	_, ok := r.Lookup("h")
	assert.True(t, ok)

	require.NoError(t, r.Release(c))
	_, ok = r.Lookup("h")
	assert.False(t, ok)
	assert.Equal(t, 0, r.RefCount("h"))
	assert.Equal(t, 0, r.Len())
}

func TestReleaseUnknownIsNoop(t *testing.T) {
	r := New[*fakeContext]()
	assert.NoError(t, r.Release(&fakeContext{hash: "missing"}))
	assert.NoError(t, r.ReleaseHash("missing"))
	assert.Equal(t, 0, r.RefCount("missing"))
	assert.Equal(t, 0, r.Len())
}

func TestReleaseUnderflow(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	m := metrics.New(prometheus.NewRegistry())
	r := New[*fakeContext](WithLogger(zap.New(core)), WithMetrics(m))
	c := &fakeContext{hash: "h"}
	r.Register(c)
	r.refs["h"] = 0

	assert.ErrorIs(t, r.Release(c), ErrRefCountUnderflow)
	assert.Equal(t, 1, logs.FilterMessage("reference count underflow").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefCountErrors))
}

func TestReleaseUnderflowPanics(t *testing.T) {
	r := New[*fakeContext](WithPanicOnUnderflow())
	c := &fakeContext{hash: "h"}
	r.Register(c)
	r.refs["h"] = -1

	assert.PanicsWithValue(t, ErrRefCountUnderflow, func() { _ = r.Release(c) })
}

func TestHashesAndReset(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := New[*fakeContext](WithMetrics(m))
	r.Register(&fakeContext{hash: "b"})
	r.Register(&fakeContext{hash: "a"})

	assert.Equal(t, []string{"a", "b"}, r.Hashes())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RegistryContexts))

	r.Reset()
	assert.Empty(t, r.Hashes())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RegistryContexts))
}

func TestSandboxesWithEqualPolicyShareEntry(t *testing.T) {
	r := New[*sandbox.Sandbox]()

	a, err := sandbox.New(policy.New().AllowFunction("strlen", "trim"), nil)
	require.NoError(t, err)
	b, err := sandbox.New(policy.New().AllowFunction("trim", "strlen"), nil)
	require.NoError(t, err)

	assert.Same(t, a, r.Register(a))
	assert.Same(t, a, r.Register(b))
	assert.Equal(t, 2, r.RefCount(a.Hash()))

	require.NoError(t, r.Release(b))
	require.NoError(t, r.Release(a))
	_, ok := r.Lookup(a.Hash())
	assert.False(t, ok)
}

func TestConcurrentRegisterRelease(t *testing.T) {
	r := New[*fakeContext]()
	c := &fakeContext{hash: "h"}

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register(c)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, r.RefCount("h"))

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Release(c)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
