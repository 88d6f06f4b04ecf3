// Package sandbox implements the execution context: the single interception
// point through which untrusted code reaches host functions, constants and
// globals.
package sandbox

import (
	"errors"
	"sync"

	"github.com/caffeineduck/sandproxy/hostfunc"
	"github.com/caffeineduck/sandproxy/metrics"
	"github.com/caffeineduck/sandproxy/policy"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrNilPolicy = errors.New("sandbox: nil policy")

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithHost sets the host environment. Defaults to an empty registry, which
// makes every call that is not overridden fail.
func WithHost(r *hostfunc.Registry) Option {
	return func(s *Sandbox) {
		if r != nil {
			s.host = r
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sandbox) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sandbox) {
		s.metrics = m
	}
}

// Sandbox is an execution context bound to one policy.
//
// The policy is read during every dispatch and must not be mutated while
// calls are in flight. The identity hash is cached and only recomputed after
// Clear.
type Sandbox struct {
	id        uuid.UUID
	policy    *policy.Policy
	validator policy.Validator
	host      *hostfunc.Registry
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu   sync.Mutex
	hash string

	globals   *Globals
	constants *Constants
	args      *Args
	functions *Functions
	strings   *Strings
}

// New builds a sandbox for p. A nil validator selects the list-based
// validator over p. The policy must be canonically encodable.
func New(p *policy.Policy, v policy.Validator, opts ...Option) (*Sandbox, error) {
	if p == nil {
		return nil, ErrNilPolicy
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if v == nil {
		v = policy.NewValidator(p)
	}

	s := &Sandbox{
		id:        uuid.New(),
		policy:    p,
		validator: v,
		host:      hostfunc.NewRegistry(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("sandbox", s.id.String()))

	s.functions = &Functions{policy: p, validator: v, registry: s.host}
	s.globals = &Globals{policy: p, validator: v, host: s.host}
	s.constants = &Constants{policy: p, validator: v, host: s.host}
	s.args = &Args{}
	s.strings = &Strings{policy: p, functions: s.functions}

	s.logger.Debug("sandbox created", zap.Int("definitions", len(p.Definitions())))
	return s, nil
}

// ID identifies the sandbox instance in logs. It is not part of the hash.
func (s *Sandbox) ID() string { return s.id.String() }

func (s *Sandbox) Policy() *policy.Policy { return s.policy }
func (s *Sandbox) Validator() policy.Validator { return s.validator }
func (s *Sandbox) Host() *hostfunc.Registry { return s.host }
func (s *Sandbox) Globals() *Globals { return s.globals }
func (s *Sandbox) Constants() *Constants { return s.constants }
func (s *Sandbox) Args() *Args { return s.args }
func (s *Sandbox) Functions() *Functions { return s.functions }
func (s *Sandbox) Strings() *Strings { return s.strings }
