// Package registry deduplicates and reference-counts execution contexts by
// identity hash.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/caffeineduck/sandproxy/metrics"
	"go.uber.org/zap"
)

// ErrRefCountUnderflow is returned when a context is released more often
// than it was registered.
var ErrRefCountUnderflow = errors.New("registry: reference count underflow")

// Identified is anything keyed by a stable identity hash.
type Identified interface {
	Hash() string
}

type Option func(*config)

type config struct {
	logger           *zap.Logger
	metrics          *metrics.Metrics
	panicOnUnderflow bool
}

func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithPanicOnUnderflow turns a double release into a panic. Meant for tests
// and debug builds.
func WithPanicOnUnderflow() Option {
	return func(c *config) {
		c.panicOnUnderflow = true
	}
}

// Registry maps identity hashes to the first context registered under each
// hash, together with a live reference count. Both maps change together
// under one lock.
type Registry[C Identified] struct {
	mu       sync.Mutex
	contexts map[string]C
	refs     map[string]int
	cfg      config
}

func New[C Identified](opts ...Option) *Registry[C] {
	cfg := config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry[C]{
		contexts: make(map[string]C),
		refs:     make(map[string]int),
		cfg:      cfg,
	}
}

// Register retains c, or bumps the count of the context already stored under
// c's hash. The retained context is returned; callers should use it in place
// of c.
func (r *Registry[C]) Register(c C) C {
	hash := c.Hash()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.contexts[hash]; ok {
		r.refs[hash]++
		r.cfg.logger.Debug("context reused", zap.String("hash", hash), zap.Int("refs", r.refs[hash]))
		return existing
	}
	r.contexts[hash] = c
	r.refs[hash] = 1
	r.cfg.metrics.SetRegistryContexts(len(r.contexts))
	r.cfg.logger.Debug("context registered", zap.String("hash", hash))
	return c
}

func (r *Registry[C]) Lookup(hash string) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[hash]
	return c, ok
}

// Release drops one reference to c's hash and evicts the context when the
// count reaches zero. Releasing an unknown hash does nothing.
func (r *Registry[C]) Release(c C) error {
	return r.ReleaseHash(c.Hash())
}

// ReleaseHash is Release for callers that only hold the hash.
func (r *Registry[C]) ReleaseHash(hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.contexts[hash]; !ok {
		return nil
	}
	n := r.refs[hash]
	if n <= 0 {
		r.cfg.logger.Error("reference count underflow", zap.String("hash", hash), zap.Int("refs", n))
		r.cfg.metrics.IncRefCountErrors()
		if r.cfg.panicOnUnderflow {
			panic(ErrRefCountUnderflow)
		}
		return ErrRefCountUnderflow
	}

	n--
	if n > 0 {
		r.refs[hash] = n
		r.cfg.logger.Debug("context released", zap.String("hash", hash), zap.Int("refs", n))
		return nil
	}
	delete(r.contexts, hash)
	delete(r.refs, hash)
	r.cfg.metrics.SetRegistryContexts(len(r.contexts))
	r.cfg.logger.Debug("context evicted", zap.String("hash", hash))
	return nil
}

// RefCount returns the live count for hash, zero when absent.
func (r *Registry[C]) RefCount(hash string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[hash]
}

func (r *Registry[C]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// Hashes returns the stored hashes in sorted order.
func (r *Registry[C]) Hashes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.contexts))
	for h := range r.contexts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Reset drops every entry regardless of its count.
func (r *Registry[C]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.contexts)
	clear(r.refs)
	r.cfg.metrics.SetRegistryContexts(0)
}
