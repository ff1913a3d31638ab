package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peoplecore/flagguard/internal/api"
	"github.com/peoplecore/flagguard/internal/flagstore"
	"github.com/peoplecore/flagguard/internal/health"
	"github.com/peoplecore/flagguard/internal/monitor"
)

// DefaultThresholds are permissive enough for small test workloads: a 5%
// breach threshold after 10 outcomes with a one-minute cooldown.
func DefaultThresholds() health.ThresholdConfig {
	return health.ThresholdConfig{
		ErrorRateThreshold:  0.05,
		MinimumSampleSize:   10,
		CooldownDuration:    time.Minute,
		WindowDuration:      time.Minute,
		AutoRollbackEnabled: true,
	}
}

// NewTestMonitor creates a loaded monitor over an in-memory flag store with
// the named flags seeded enabled. Close is registered via t.Cleanup.
func NewTestMonitor(t *testing.T, flags ...string) (*monitor.Monitor, *flagstore.MemoryStore) {
	t.Helper()
	store := flagstore.NewMemoryStore()
	for _, f := range flags {
		store.Seed(f, true)
	}
	m := monitor.New(monitor.Options{
		Store:    store,
		Defaults: DefaultThresholds(),
	})
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load monitor: %v", err)
	}
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, store
}

// NewTestServer creates a test API server backed by an in-memory monitor.
func NewTestServer(t *testing.T, adminKey string, flags ...string) (*api.Server, *flagstore.MemoryStore) {
	t.Helper()
	m, store := NewTestMonitor(t, flags...)
	return api.NewServer(m, adminKey), store
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
