package hostfunc

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
)

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// HTTPConfig bounds http_request. An empty AllowedHosts disables HTTP.
type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
}

type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	return &HTTP{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// Request performs http_request(method, url[, body[, headers]]) and
// returns {status, body, headers}.
func (h *HTTP) Request(ctx context.Context, args []any) (any, error) {
	req, err := h.build(ctx, args)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return map[string]any{
		"status":  resp.StatusCode,
		"body":    string(body),
		"headers": headers,
	}, nil
}

// Get performs http_get(url).
func (h *HTTP) Get(ctx context.Context, args []any) (any, error) {
	rawURL, _ := StringOr(args, 0, "")
	return h.Request(ctx, []any{"GET", rawURL})
}

// build checks every limit before a request object exists.
func (h *HTTP) build(ctx context.Context, args []any) (*http.Request, error) {
	method, _ := StringOr(args, 0, "GET")
	method = strings.ToUpper(method)
	if method == "" {
		method = "GET"
	}
	if !allowedMethods[method] {
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	u, err := h.target(args)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if s, _ := StringOr(args, 2, ""); s != "" {
		if int64(len(s)) > h.cfg.MaxBodySize {
			return nil, fmt.Errorf("request body exceeds max size")
		}
		body = strings.NewReader(s)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if len(args) > 3 && args[3] != nil {
		headers, err := Map(args, 3)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			if vs, ok := v.(string); ok {
				req.Header.Set(k, vs)
			}
		}
	}
	return req, nil
}

func (h *HTTP) target(args []any) (*url.URL, error) {
	raw, err := String(args, 1)
	if err != nil || raw == "" {
		return nil, fmt.Errorf("url required")
	}
	if len(raw) > h.cfg.MaxURLLength {
		return nil, fmt.Errorf("url exceeds max length")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https")
	}
	if len(h.cfg.AllowedHosts) == 0 {
		return nil, fmt.Errorf("http not enabled")
	}
	if host := u.Hostname(); !h.isHostAllowed(host) {
		return nil, fmt.Errorf("host not allowed: %s", host)
	}
	return u, nil
}

// isHostAllowed matches IPs by value. Domains match exactly, by subdomain,
// or by a glob such as "api-*.example.com".
func (h *HTTP) isHostAllowed(host string) bool {
	ip := net.ParseIP(host)
	host = strings.ToLower(host)
	for _, allowed := range h.cfg.AllowedHosts {
		allowedIP := net.ParseIP(allowed)
		if ip != nil || allowedIP != nil {
			if ip != nil && allowedIP != nil && allowedIP.Equal(ip) {
				return true
			}
			continue
		}
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
		if ok, _ := doublestar.Match(allowed, host); ok && strings.ContainsAny(allowed, "*?[{") {
			return true
		}
	}
	return false
}

// Install registers http_request and http_get on r.
func (h *HTTP) Install(r *Registry) {
	r.Register("http_request", h.Request)
	r.Register("http_get", h.Get)
}

func NewHTTPGet(cfg HTTPConfig) Func {
	return NewHTTP(cfg).Get
}
