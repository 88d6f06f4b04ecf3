package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/caffeineduck/sandproxy/policy"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func setupTestServer(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := newServer(serverConfig{
		base: policy.New().AllowFunction("strtoupper"),
		dev:  true,
	}, zap.NewNop())
	return srv.router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	h := setupTestServer(t)
	w := do(t, h, http.MethodGet, "/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected 'ok', got %q", w.Body.String())
	}
}

func TestCreateTwiceSharesEntry(t *testing.T) {
	h := setupTestServer(t)
	body := `{"functions":{"whitelist":["trim","strlen"]}}`

	w := do(t, h, http.MethodPost, "/sandboxes", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	first := decode[createResponse](t, w)
	if first.RefCount != 1 {
		t.Errorf("first create refcount = %d, want 1", first.RefCount)
	}

	// Same policy, different order.
	w = do(t, h, http.MethodPost, "/sandboxes", `{"functions":{"whitelist":["strlen","trim"]}}`)
	second := decode[createResponse](t, w)
	if second.Hash != first.Hash {
		t.Errorf("equivalent policies got different hashes")
	}
	if second.ID != first.ID {
		t.Errorf("second create should return the retained sandbox")
	}
	if second.RefCount != 2 {
		t.Errorf("second create refcount = %d, want 2", second.RefCount)
	}

	w = do(t, h, http.MethodGet, "/sandboxes/"+first.Hash, "")
	desc := decode[describeResponse](t, w)
	if desc.RefCount != 2 {
		t.Errorf("describe refcount = %d, want 2", desc.RefCount)
	}
	if strings.Join(desc.Functions, ",") != "strlen,trim" {
		t.Errorf("functions = %v", desc.Functions)
	}
}

func TestReleaseUntilGone(t *testing.T) {
	h := setupTestServer(t)
	create := decode[createResponse](t, do(t, h, http.MethodPost, "/sandboxes", ""))
	do(t, h, http.MethodPost, "/sandboxes", "")
	path := "/sandboxes/" + create.Hash

	w := do(t, h, http.MethodDelete, path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("first delete: %d", w.Code)
	}
	w = do(t, h, http.MethodDelete, path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("second delete: %d", w.Code)
	}

	for _, method := range []string{http.MethodDelete, http.MethodGet} {
		if w := do(t, h, method, path, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s after release: expected 404, got %d", method, w.Code)
		}
	}
}

func TestCallEndpoint(t *testing.T) {
	h := setupTestServer(t)
	create := decode[createResponse](t, do(t, h, http.MethodPost, "/sandboxes", ""))
	path := "/sandboxes/" + create.Hash + "/call"

	w := do(t, h, http.MethodPost, path, `{"fn":"strtoupper","args":["hi"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[resultResponse](t, w); got.Data != "HI" {
		t.Errorf("data = %#v, want HI", got.Data)
	}

	w = do(t, h, http.MethodPost, path, `{"fn":"system","args":["id"]}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if got := decode[resultResponse](t, w); got.Kind != policy.KindInvalidFunctionCall {
		t.Errorf("kind = %q", got.Kind)
	}

	w = do(t, h, http.MethodPost, path, `{"args":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fn: expected 400, got %d", w.Code)
	}

	w = do(t, h, http.MethodPost, "/sandboxes/nope/call", `{"fn":"strtoupper"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown hash: expected 404, got %d", w.Code)
	}
}

func TestRunEndpoint(t *testing.T) {
	h := setupTestServer(t)
	create := decode[createResponse](t, do(t, h, http.MethodPost, "/sandboxes", ""))
	path := "/sandboxes/" + create.Hash + "/run"

	w := do(t, h, http.MethodPost, path, `{"code":"console.log('x'); call('strtoupper', 'ok')"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decode[resultResponse](t, w)
	if got.Data != "OK" {
		t.Errorf("data = %#v, want OK", got.Data)
	}
	if len(got.Console) != 1 || got.Console[0] != "x" {
		t.Errorf("console = %v", got.Console)
	}

	w = do(t, h, http.MethodPost, path, `{"code":"call('strrev', 'ok')"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("denied call in script: expected 403, got %d", w.Code)
	}
}

func TestCreateRejectsBadPolicy(t *testing.T) {
	h := setupTestServer(t)
	for _, body := range []string{`{"functions":`, `{"unknown":true}`, `{"functions":{"whitelist":["str_["]}}`} {
		if w := do(t, h, http.MethodPost, "/sandboxes", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupTestServer(t)
	create := decode[createResponse](t, do(t, h, http.MethodPost, "/sandboxes", ""))
	do(t, h, http.MethodPost, "/sandboxes/"+create.Hash+"/call", `{"fn":"strtoupper","args":["a"]}`)

	w := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for _, series := range []string{
		`sandproxy_dispatch_total{outcome="host"} 1`,
		`sandproxy_registry_contexts 1`,
	} {
		if !strings.Contains(w.Body.String(), series) {
			t.Errorf("metrics should contain %q", series)
		}
	}
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(rateLimit(1))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := map[int]int{}
	for i := 0; i < 5; i++ {
		codes[do(t, r, http.MethodGet, "/", "").Code]++
	}
	if codes[http.StatusTooManyRequests] == 0 {
		t.Errorf("expected some requests to be limited, got %v", codes)
	}
}

func TestBodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newServer(serverConfig{maxBody: 64, dev: true}, zap.NewNop()).router()

	large := `{"functions":{"whitelist":["` + strings.Repeat("a", 128) + `"]}}`
	if w := do(t, h, http.MethodPost, "/sandboxes", large); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized policy, got %d: %s", w.Code, w.Body.String())
	}

	w := do(t, h, http.MethodPost, "/sandboxes", `{"functions":{"whitelist":["trim"]}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	hash := decode[createResponse](t, w).Hash

	call := `{"fn":"trim","args":["` + strings.Repeat(" ", 128) + `"]}`
	if w := do(t, h, http.MethodPost, "/sandboxes/"+hash+"/call", call); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for oversized call, got %d", w.Code)
	}
}
