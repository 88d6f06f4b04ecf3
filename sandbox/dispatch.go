package sandbox

import (
	"context"

	"github.com/caffeineduck/sandproxy/hostfunc"
	"github.com/caffeineduck/sandproxy/metrics"
	"github.com/caffeineduck/sandproxy/policy"
	"go.uber.org/zap"
)

type targetKind int

const (
	targetOverride targetKind = iota + 1
	targetHost
)

// target is the resolved destination of a call.
type target struct {
	kind     targetKind
	override *policy.Function
	host     hostfunc.Func
}

// resolve picks the destination for name: a defined override first, then a
// host function the validator permits. Anything else is an invalid call.
func (s *Sandbox) resolve(name string) (target, error) {
	if fn, ok := s.policy.Definition(name); ok && fn.Impl != nil {
		return target{kind: targetOverride, override: fn}, nil
	}
	if fn, ok := s.functions.lookup(name); ok {
		if err := s.validator.CheckFunction(name); err == nil {
			return target{kind: targetHost, host: fn}, nil
		}
	}
	return target{}, &policy.ValidationError{Kind: policy.KindInvalidFunctionCall, Name: name}
}

// Dispatch routes a guest call. Arguments are normalized before resolution,
// and nothing is invoked when the call is refused. Errors from overrides and
// host functions are returned unchanged.
func (s *Sandbox) Dispatch(ctx context.Context, name string, args ...any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	normalized := Normalize(args)

	t, err := s.resolve(name)
	if err != nil {
		s.logger.Warn("call denied", zap.String("fn", name))
		s.metrics.RecordDispatch(metrics.OutcomeDenied)
		return nil, err
	}

	var (
		out     any
		outcome string
	)
	switch t.kind {
	case targetOverride:
		call := normalized
		if t.override.PassContext {
			call = append([]any{s}, normalized...)
		}
		outcome = metrics.OutcomeOverride
		out, err = t.override.Impl(ctx, call)
	case targetHost:
		outcome = metrics.OutcomeHost
		out, err = t.host(ctx, normalized)
	}

	if err != nil {
		s.logger.Debug("call failed", zap.String("fn", name), zap.String("target", outcome), zap.Error(err))
		s.metrics.RecordDispatch(metrics.OutcomeError)
		return out, err
	}
	s.logger.Debug("call dispatched", zap.String("fn", name), zap.String("target", outcome), zap.Int("args", len(normalized)))
	s.metrics.RecordDispatch(outcome)
	return out, nil
}
