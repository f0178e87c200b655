package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fbarre96/pollenisator/pkg/plugin"
	"go.uber.org/zap"
)

type stubModule struct {
	info   plugin.PluginInfo
	routes []plugin.Route
}

func (m *stubModule) Info() plugin.PluginInfo                         { return m.info }
func (m *stubModule) Init(context.Context, plugin.Dependencies) error { return nil }
func (m *stubModule) Start(context.Context) error                     { return nil }
func (m *stubModule) Stop(context.Context) error                      { return nil }

type stubSource struct {
	modules []*stubModule
}

func (s *stubSource) All() []plugin.Plugin {
	out := make([]plugin.Plugin, len(s.modules))
	for i, m := range s.modules {
		out[i] = m
	}
	return out
}

func (s *stubSource) AllRoutes() map[string][]plugin.Route {
	routes := make(map[string][]plugin.Route)
	for _, m := range s.modules {
		if len(m.routes) > 0 {
			routes[m.info.Name] = m.routes
		}
	}
	return routes
}

func testServer(t *testing.T, src ModuleSource, ready ReadinessChecker) http.Handler {
	t.Helper()
	if src == nil {
		src = &stubSource{}
	}
	return New("127.0.0.1:0", src, zap.NewNop(), ready).Handler()
}

func TestOperationalEndpoints(t *testing.T) {
	t.Run("healthz", func(t *testing.T) {
		h := testServer(t, nil, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["status"] != "alive" {
			t.Errorf("status field = %q, want alive", body["status"])
		}
	})

	t.Run("readyz passes without checker", func(t *testing.T) {
		h := testServer(t, nil, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("readyz surfaces checker failure", func(t *testing.T) {
		h := testServer(t, nil, func(context.Context) error {
			return errors.New("database locked")
		})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["error"] != "database locked" {
			t.Errorf("error field = %q", body["error"])
		}
	})
}

func TestModuleRoutesMounted(t *testing.T) {
	src := &stubSource{modules: []*stubModule{
		{
			info: plugin.PluginInfo{Name: "entities", Version: "0.1.0"},
			routes: []plugin.Route{
				{Method: "GET", Path: "/{pentest}/waves", Handler: func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, map[string]string{"pentest": r.PathValue("pentest")})
				}},
			},
		},
	}}
	h := testServer(t, src, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/entities/ext-q3/waves", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["pentest"] != "ext-q3" {
		t.Errorf("pentest path value = %q, want ext-q3", body["pentest"])
	}
}

func TestModulesEndpoint(t *testing.T) {
	src := &stubSource{modules: []*stubModule{
		{info: plugin.PluginInfo{Name: "entities", Version: "0.1.0", Description: "pentest data"}},
		{info: plugin.PluginInfo{Name: "fleet", Version: "0.1.0", Description: "workers"}},
	}}
	h := testServer(t, src, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/modules", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body []ModuleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 2 || body[0].Name != "entities" || body[1].Name != "fleet" {
		t.Errorf("modules = %+v", body)
	}
}

func TestPanicBecomesProblemResponse(t *testing.T) {
	src := &stubSource{modules: []*stubModule{
		{
			info: plugin.PluginInfo{Name: "entities"},
			routes: []plugin.Route{
				{Method: "GET", Path: "/boom", Handler: func(http.ResponseWriter, *http.Request) {
					panic("nil store")
				}},
			},
		},
	}}
	h := testServer(t, src, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/entities/boom", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}
	var p Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if p.Status != http.StatusInternalServerError || p.Title != "Internal Server Error" {
		t.Errorf("problem = %+v", p)
	}
}

func TestRouteLabel_CollapsesPathParameters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/entities/{pentest}/hosts/{iid}",
		func(w http.ResponseWriter, r *http.Request) {})

	var labels []string
	h := Chain(mux, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			labels = append(labels, routeLabel(r))
		})
	})

	for _, path := range []string{
		"/api/v1/entities/ext-q3/hosts/h-1",
		"/api/v1/entities/internal-q4/hosts/h-2",
	} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/no/such/route", nil))

	want := "/api/v1/entities/{pentest}/hosts/{iid}"
	if len(labels) != 3 || labels[0] != want || labels[1] != want {
		t.Errorf("labels = %v, want the mux pattern for both object paths", labels)
	}
	if labels[2] != "unrouted" {
		t.Errorf("unmatched request labelled %q, want unrouted", labels[2])
	}
}

func TestStandardHeaders(t *testing.T) {
	h := testServer(t, nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want propagated req-123", got)
	}
	if rec.Header().Get("X-Pollenisator-Version") == "" {
		t.Error("X-Pollenisator-Version header missing")
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}

	// A request without an id gets a generated one.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("generated X-Request-ID missing")
	}
}
