package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/plouffe/rdv/internal/core"
	"github.com/plouffe/rdv/internal/storage"
)

// fakeEngine is a scripted NotificationHandler.
type fakeEngine struct {
	result core.HandledResult
	err    error
	calls  []string
}

func (f *fakeEngine) HandleNewMessage(_ context.Context, messageID string) (core.HandledResult, error) {
	f.calls = append(f.calls, messageID)
	return f.result, f.err
}

// testEnv bundles a Service + httptest.Server for handler tests. No auth
// middleware is installed; auth has its own tests.
type testEnv struct {
	srv    *httptest.Server
	store  *storage.InMemory
	engine *fakeEngine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := storage.NewInMemory()
	eng := &fakeEngine{}
	svc := NewService(st, eng)
	srv := httptest.NewServer(NewRouter(svc, nil, nil))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st, engine: eng}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
}
