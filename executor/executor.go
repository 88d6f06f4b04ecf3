package executor

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("executor: closed")

// Result holds the output and metadata from a guest run.
type Result struct {
	Output   string
	Duration time.Duration
	Calls    int // protocol frames sent by the guest
	Error    error
}

// Executor owns one wazero runtime shared by every guest it runs. Guests
// reach the host only through the Dispatcher given to New.
type Executor struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	dispatch Dispatcher
	logger   *zap.Logger

	mu      sync.RWMutex
	modules map[string]wazero.CompiledModule // keyed by module digest
	closed  bool
}

// New creates an Executor whose guests reach the host only through d.
func New(d Dispatcher, opts ...ExecutorOption) (*Executor, error) {
	if d == nil {
		return nil, errors.New("executor: nil dispatcher")
	}
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()
	cache, err := compilationCache(cfg)
	if err != nil {
		return nil, err
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rc = rc.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	e := &Executor{
		runtime:  wazero.NewRuntimeWithConfig(ctx, rc),
		cache:    cache,
		dispatch: d,
		logger:   cfg.logger,
		modules:  make(map[string]wazero.CompiledModule),
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
		e.Close()
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	for _, lang := range cfg.precompile {
		if _, err := e.compile(ctx, lang); err != nil {
			e.Close()
			return nil, fmt.Errorf("precompile %s: %w", lang.Name(), err)
		}
	}
	return e, nil
}

func compilationCache(cfg executorConfig) (wazero.CompilationCache, error) {
	if !cfg.diskCache {
		return nil, nil
	}
	dir := cfg.cacheDir
	if dir == "" {
		dir = defaultCacheDir()
	}
	cache, err := wazero.NewCompilationCacheWithDir(dir)
	if err != nil {
		return nil, fmt.Errorf("create disk cache: %w", err)
	}
	return cache, nil
}

// Run executes code with lang's module. Every host call the guest makes is
// answered by the dispatcher; the run never fails because a call was
// refused, the guest sees the refusal in the response instead.
func (e *Executor) Run(ctx context.Context, lang Language, code string, opts ...Option) Result {
	start := time.Now()

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	compiled, err := e.compile(ctx, lang)
	if err != nil {
		return Result{Error: err, Duration: time.Since(start)}
	}

	var stdout bytes.Buffer
	stdinR, stdinW := io.Pipe()
	handler := newProtocolHandler(ctx, e.dispatch, stdinW, e.logger)
	defer handler.close()

	mc := wazero.NewModuleConfig().
		WithStdout(&stdout).
		WithStderr(handler).
		WithStdin(stdinR).
		WithArgs(lang.Args(lang.WrapCode(code))...).
		WithName("")
	for k, v := range cfg.env {
		mc = mc.WithEnv(k, v)
	}

	done := make(chan error, 1)
	go func() {
		mod, err := e.runtime.InstantiateModule(ctx, compiled, mc)
		if mod != nil {
			mod.Close(ctx)
		}
		stdinW.Close()
		done <- err
	}()
	err = exitError(<-done)

	result := Result{
		Output:   stdout.String() + handler.Stderr(),
		Duration: time.Since(start),
		Calls:    handler.Calls(),
	}
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Error = fmt.Errorf("timeout after %v", cfg.timeout)
	default:
		result.Error = fmt.Errorf("execution failed: %w", err)
	}

	e.logger.Debug("guest finished",
		zap.String("lang", lang.Name()),
		zap.Int("calls", result.Calls),
		zap.Duration("duration", result.Duration),
		zap.Error(result.Error))
	return result
}

// exitError treats a clean proc_exit(0) as success.
func exitError(err error) error {
	var exit *sys.ExitError
	if errors.As(err, &exit) && exit.ExitCode() == 0 {
		return nil
	}
	return err
}

// compile returns the compiled form of lang's module. Modules are cached by
// content, so two languages that share a name but not bytes never share a
// compiled module.
func (e *Executor) compile(ctx context.Context, lang Language) (wazero.CompiledModule, error) {
	wasm := lang.Module()
	sum := blake2b.Sum256(wasm)
	key := hex.EncodeToString(sum[:])

	e.mu.RLock()
	compiled, ok := e.modules[key]
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return compiled, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if compiled, ok := e.modules[key]; ok {
		return compiled, nil
	}

	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", lang.Name(), err)
	}
	e.modules[key] = compiled
	e.logger.Debug("module compiled", zap.String("lang", lang.Name()), zap.String("digest", key[:12]))
	return compiled, nil
}

// Close releases the runtime and the compilation cache. It is safe to call
// more than once.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.modules = nil

	ctx := context.Background()
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		err = errors.Join(err, e.cache.Close(ctx))
	}
	return err
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "sandproxy")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "sandproxy")
	}
	return filepath.Join(os.TempDir(), "sandproxy-cache")
}
