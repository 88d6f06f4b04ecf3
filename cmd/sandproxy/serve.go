package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caffeineduck/sandproxy/hostfunc"
	"github.com/caffeineduck/sandproxy/metrics"
	"github.com/caffeineduck/sandproxy/policy"
	"github.com/caffeineduck/sandproxy/registry"
	"github.com/caffeineduck/sandproxy/sandbox"
	"github.com/caffeineduck/sandproxy/script"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server hosting a registry of sandboxes",
	Long: `Start an HTTP server that registers sandboxes by policy and
dispatches calls into them. Sandboxes with equivalent policies share one
registry entry; each create retains it and each delete releases it.

Endpoints:
  POST   /sandboxes              Register a sandbox from a JSON policy body
                                 (empty body uses -p), returns hash and refcount
  GET    /sandboxes              List registered hashes
  GET    /sandboxes/:hash        Describe a sandbox
  POST   /sandboxes/:hash/call   Dispatch {"fn":"...","args":[...]}
  POST   /sandboxes/:hash/run    Run {"code":"..."} as JavaScript
  DELETE /sandboxes/:hash        Release one reference
  GET    /metrics                Prometheus metrics
  GET    /health                 Health check`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	addHostFlags(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default: $SANDPROXY_ADDR or :8080)")
	serveCmd.Flags().Int("port", 0, "Port to listen on, overrides --addr")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "JavaScript execution timeout")
	serveCmd.Flags().Int("rate", 0, "Requests per second per client, 0 disables")
	serveCmd.Flags().Int64("max-body", defaultMaxBody, "Maximum request body size in bytes")
	rootCmd.AddCommand(serveCmd)
}

type createResponse struct {
	Hash     string `json:"hash"`
	ID       string `json:"id"`
	RefCount int    `json:"refcount"`
}

type describeResponse struct {
	Hash      string   `json:"hash"`
	RefCount  int      `json:"refcount"`
	Functions []string `json:"functions"`
}

type callRequest struct {
	Fn   string `json:"fn" binding:"required"`
	Args []any  `json:"args"`
}

type runRequest struct {
	Code string `json:"code" binding:"required"`
}

type resultResponse struct {
	Data    any         `json:"data,omitempty"`
	Console []string    `json:"console,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    policy.Kind `json:"kind,omitempty"`
}

const defaultMaxBody = 1 << 20

type serverConfig struct {
	base    *policy.Policy
	host    *hostfunc.Registry
	timeout time.Duration
	rate    int
	maxBody int64
	dev     bool
}

type server struct {
	cfg       serverConfig
	sandboxes *registry.Registry[*sandbox.Sandbox]
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
}

func newServer(cfg serverConfig, l *zap.Logger) *server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if cfg.base == nil {
		cfg.base = policy.New()
	}
	if cfg.host == nil {
		cfg.host = hostfunc.Stdlib()
	}
	if cfg.maxBody <= 0 {
		cfg.maxBody = defaultMaxBody
	}
	return &server{
		cfg:       cfg,
		sandboxes: registry.New[*sandbox.Sandbox](registry.WithLogger(l), registry.WithMetrics(m)),
		metrics:   m,
		gatherer:  reg,
		logger:    l,
	}
}

func (s *server) router() *gin.Engine {
	if !s.cfg.dev {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))
	r.Use(corsMiddleware())
	if s.cfg.rate > 0 {
		r.Use(rateLimit(s.cfg.rate))
	}
	r.Use(bodyLimit(s.cfg.maxBody))

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	r.POST("/sandboxes", s.handleCreate)
	r.GET("/sandboxes", s.handleList)
	r.GET("/sandboxes/:hash", s.handleDescribe)
	r.POST("/sandboxes/:hash/call", s.handleCall)
	r.POST("/sandboxes/:hash/run", s.handleRun)
	r.DELETE("/sandboxes/:hash", s.handleRelease)
	return r
}

func (s *server) handleCreate(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(bodyStatus(err), gin.H{"error": err.Error()})
		return
	}

	p := s.cfg.base.Clone()
	if len(body) > 0 {
		if p, err = policy.Parse(body, policy.FormatJSON); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	sb, err := sandbox.New(p, nil,
		sandbox.WithHost(s.cfg.host),
		sandbox.WithLogger(s.logger),
		sandbox.WithMetrics(s.metrics),
	)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sb = s.sandboxes.Register(sb)
	c.JSON(http.StatusCreated, createResponse{
		Hash:     sb.Hash(),
		ID:       sb.ID(),
		RefCount: s.sandboxes.RefCount(sb.Hash()),
	})
}

func (s *server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"hashes": s.sandboxes.Hashes()})
}

func (s *server) lookup(c *gin.Context) (*sandbox.Sandbox, bool) {
	sb, ok := s.sandboxes.Lookup(c.Param("hash"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})
	}
	return sb, ok
}

func (s *server) handleDescribe(c *gin.Context) {
	sb, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, describeResponse{
		Hash:      sb.Hash(),
		RefCount:  s.sandboxes.RefCount(sb.Hash()),
		Functions: sb.Functions().Defined(),
	})
}

func (s *server) handleCall(c *gin.Context) {
	sb, ok := s.lookup(c)
	if !ok {
		return
	}
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(bodyStatus(err), gin.H{"error": err.Error()})
		return
	}

	out, err := sb.Dispatch(c.Request.Context(), req.Fn, req.Args...)
	if err != nil {
		c.JSON(errorStatus(err), errorResponse(err))
		return
	}
	c.JSON(http.StatusOK, resultResponse{Data: out})
}

func (s *server) handleRun(c *gin.Context) {
	sb, ok := s.lookup(c)
	if !ok {
		return
	}
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(bodyStatus(err), gin.H{"error": err.Error()})
		return
	}

	rc := script.DefaultConfig()
	rc.Timeout = s.cfg.timeout
	res, err := script.New(sb, rc).Run(c.Request.Context(), req.Code)

	status, resp := http.StatusOK, resultResponse{Data: res.Value}
	if err != nil {
		status, resp = errorStatus(err), errorResponse(err)
	}
	for _, entry := range res.Console {
		resp.Console = append(resp.Console, entry.Message)
	}
	c.JSON(status, resp)
}

func (s *server) handleRelease(c *gin.Context) {
	hash := c.Param("hash")
	if _, ok := s.sandboxes.Lookup(hash); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})
		return
	}
	if err := s.sandboxes.ReleaseHash(hash); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": hash, "refcount": s.sandboxes.RefCount(hash)})
}

func errorResponse(err error) resultResponse {
	resp := resultResponse{Error: err.Error()}
	var ve *policy.ValidationError
	if errors.As(err, &ve) {
		resp.Kind = ve.Kind
	}
	return resp
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, policy.ErrValidation):
		return http.StatusForbidden
	case errors.Is(err, script.ErrInterrupted):
		return http.StatusRequestTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	base, err := loadPolicy(cmd)
	if err != nil {
		return err
	}
	host, err := buildHost(cmd)
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Addr
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		addr = fmt.Sprintf(":%d", port)
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	rps, _ := cmd.Flags().GetInt("rate")
	maxBody, _ := cmd.Flags().GetInt64("max-body")

	srv := newServer(serverConfig{
		base:    base,
		host:    host,
		timeout: timeout,
		rate:    rps,
		maxBody: maxBody,
		dev:     cfg.LogDev,
	}, logger)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		fmt.Fprintf(cmd.ErrOrStderr(), "sandproxy server listening on %s\n", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
