package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/mysqlbouncer/mysqlbouncer/internal/backend"
	"github.com/mysqlbouncer/mysqlbouncer/internal/config"
	"github.com/mysqlbouncer/mysqlbouncer/internal/health"
	"github.com/mysqlbouncer/mysqlbouncer/internal/idlecache"
)

func newTestServer(apiKey string) (*Server, http.Handler) {
	r := backend.NewRegistry()
	r.Add("127.0.0.1:3306", backend.RoleReadWrite)

	cache := idlecache.NewCache(10, 2)
	hc := health.NewChecker(r, nil, time.Minute, time.Second)

	defaults := config.PoolDefaults{MaxIdleConnections: 10, MinIdleConnections: 2}
	lc := config.ListenConfig{APIKey: apiKey}

	s := NewServer(r, cache, hc, nil, lc, defaults)

	mr := mux.NewRouter()
	admin := mr.PathPrefix("").Subrouter()
	admin.Use(s.apiKeyMiddleware)
	admin.HandleFunc("/backends", s.listBackends).Methods("GET")
	admin.HandleFunc("/backends", s.createBackend).Methods("POST")
	admin.HandleFunc("/backends/{addr}", s.getBackend).Methods("GET")
	admin.HandleFunc("/backends/{addr}", s.deleteBackend).Methods("DELETE")
	admin.HandleFunc("/backends/{addr}/pause", s.pauseBackend).Methods("POST")
	admin.HandleFunc("/backends/{addr}/resume", s.resumeBackend).Methods("POST")
	mr.HandleFunc("/health", s.healthHandler).Methods("GET")
	mr.HandleFunc("/ready", s.readyHandler).Methods("GET")

	return s, mr
}

func TestListBackends(t *testing.T) {
	_, mr := newTestServer("")

	req := httptest.NewRequest("GET", "/backends", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var result []backendResponse
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result) != 1 {
		t.Errorf("expected 1 backend, got %d", len(result))
	}
	if result[0].Addr != "127.0.0.1:3306" {
		t.Errorf("unexpected addr %q", result[0].Addr)
	}
}

func TestCreateBackend(t *testing.T) {
	_, mr := newTestServer("")

	body := `{"addr": "127.0.0.1:3307", "role": "ro"}`
	req := httptest.NewRequest("POST", "/backends", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var result backendResponse
	json.NewDecoder(rr.Body).Decode(&result)
	if result.Addr != "127.0.0.1:3307" || result.Role != "ro" {
		t.Errorf("unexpected response: %+v", result)
	}
}

func TestCreateBackendValidation(t *testing.T) {
	_, mr := newTestServer("")

	body := `{"addr": "", "role": "bogus"}`
	req := httptest.NewRequest("POST", "/backends", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestCreateBackendDuplicate(t *testing.T) {
	_, mr := newTestServer("")

	body := `{"addr": "127.0.0.1:3306", "role": "rw"}`
	req := httptest.NewRequest("POST", "/backends", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rr.Code)
	}
}

func TestGetBackendNotFound(t *testing.T) {
	_, mr := newTestServer("")

	req := httptest.NewRequest("GET", "/backends/nope:3306", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestDeleteBackend(t *testing.T) {
	_, mr := newTestServer("")

	req := httptest.NewRequest("DELETE", "/backends/127.0.0.1:3306", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/backends/127.0.0.1:3306", nil)
	rr = httptest.NewRecorder()
	mr.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestPauseAndResumeBackend(t *testing.T) {
	_, mr := newTestServer("")

	req := httptest.NewRequest("POST", "/backends/127.0.0.1:3306/pause", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 pausing, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/backends/127.0.0.1:3306", nil)
	rr = httptest.NewRecorder()
	mr.ServeHTTP(rr, req)
	var got backendResponse
	json.NewDecoder(rr.Body).Decode(&got)
	if !got.Paused {
		t.Error("expected backend to be paused")
	}

	req = httptest.NewRequest("POST", "/backends/127.0.0.1:3306/resume", nil)
	rr = httptest.NewRecorder()
	mr.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 resuming, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, mr := newTestServer("")

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK && rr.Code != http.StatusServiceUnavailable {
		t.Errorf("unexpected status %d", rr.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	_, mr := newTestServer("")

	req := httptest.NewRequest("GET", "/ready", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	// A freshly registered backend is StateUnknown, not StateUp, so /ready
	// reports not_ready until the health checker observes it — matching
	// the registry's "untrusted until proven" default.
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before any self-check, got %d", rr.Code)
	}
}

// --- API key middleware ---

func TestAPIKeyMiddleware_ValidToken(t *testing.T) {
	_, handler := newTestServer("test-secret-key")

	req := httptest.NewRequest("GET", "/backends", nil)
	req.Header.Set("Authorization", "Bearer test-secret-key")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", rr.Code)
	}
}

func TestAPIKeyMiddleware_MissingToken(t *testing.T) {
	_, handler := newTestServer("test-secret-key")

	req := httptest.NewRequest("GET", "/backends", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with missing token, got %d", rr.Code)
	}
}

func TestAPIKeyMiddleware_InvalidToken(t *testing.T) {
	_, handler := newTestServer("test-secret-key")

	req := httptest.NewRequest("GET", "/backends", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with invalid token, got %d", rr.Code)
	}
}

func TestAPIKeyMiddleware_HealthExempt(t *testing.T) {
	_, handler := newTestServer("test-secret-key")

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest("GET", path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code == http.StatusUnauthorized {
			t.Errorf("%s should not require auth, got 401", path)
		}
	}
}

func TestAPIKeyMiddleware_NoKeyConfigured(t *testing.T) {
	_, handler := newTestServer("")

	req := httptest.NewRequest("GET", "/backends", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 when no API key configured, got %d", rr.Code)
	}
}
