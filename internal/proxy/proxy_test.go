package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/sandbox-gateway/internal/errkind"
)

type fakePool struct {
	sandboxes map[string]Sandbox
	released  []string
	failed    []string
}

func newFakePool() *fakePool {
	return &fakePool{sandboxes: make(map[string]Sandbox)}
}

func (p *fakePool) Acquire(ctx context.Context, sessionID string) (Sandbox, error) {
	sb, ok := p.sandboxes[sessionID]
	if !ok {
		return Sandbox{}, errkind.New(errkind.NoCapacity, "no sandbox configured for session")
	}
	return sb, nil
}

func (p *fakePool) Release(ctx context.Context, sessionID string) error {
	p.released = append(p.released, sessionID)
	return nil
}

func (p *fakePool) RecordFailure(ctx context.Context, sessionID string) error {
	p.failed = append(p.failed, sessionID)
	return nil
}

func addrOf(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestProxy_Execute_SuccessfulText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		text := "4"
		_ = json.NewEncoder(w).Encode(map[string]any{"result_text": &text, "result_base64": nil})
	}))
	defer srv.Close()

	pool := newFakePool()
	pool.sandboxes["s1"] = Sandbox{ID: "box1", Addr: addrOf(t, srv)}
	p := New(pool)

	res, err := p.Execute(context.Background(), "s1", "2+2")
	require.NoError(t, err)
	assert.Equal(t, "4", res.Text)
	assert.Empty(t, pool.released)
	assert.Empty(t, pool.failed)
}

func TestProxy_Execute_UserCodeErrorPreservesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"detail":      "ZeroDivisionError: division by zero",
			"error_name":  "ZeroDivisionError",
			"error_value": "division by zero",
		})
	}))
	defer srv.Close()

	pool := newFakePool()
	pool.sandboxes["s1"] = Sandbox{ID: "box1", Addr: addrOf(t, srv)}
	p := New(pool)

	res, err := p.Execute(context.Background(), "s1", "1/0")
	require.Error(t, err)
	assert.Equal(t, errkind.UserCodeError, errkind.As(err))
	assert.Equal(t, "ZeroDivisionError", res.ErrorName)
	assert.Empty(t, pool.failed, "a clean user-code error must not destroy the session binding")
}

func TestProxy_Execute_TransportFailureDestroysSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pool := newFakePool()
	pool.sandboxes["s1"] = Sandbox{ID: "box1", Addr: addrOf(t, srv)}
	p := New(pool)

	_, err := p.Execute(context.Background(), "s1", "2+2")
	require.Error(t, err)
	assert.Equal(t, errkind.TransportFailure, errkind.As(err))
	assert.Equal(t, []string{"s1"}, pool.failed)
}

func TestProxy_Execute_AgentTimeoutDestroysSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"detail": "execution exceeded the configured timeout", "timed_out": true})
	}))
	defer srv.Close()

	pool := newFakePool()
	pool.sandboxes["s1"] = Sandbox{ID: "box1", Addr: addrOf(t, srv)}
	p := New(pool)

	_, err := p.Execute(context.Background(), "s1", "while True: pass")
	require.Error(t, err)
	assert.Equal(t, errkind.UserCodeTimeout, errkind.As(err))
	assert.Equal(t, []string{"s1"}, pool.failed)
}

func TestProxy_Execute_AcquireFailurePropagates(t *testing.T) {
	pool := newFakePool()
	p := New(pool)

	_, err := p.Execute(context.Background(), "missing-session", "1+1")
	require.Error(t, err)
	assert.Equal(t, errkind.NoCapacity, errkind.As(err))
}

func TestProxy_Release_DelegatesToPool(t *testing.T) {
	pool := newFakePool()
	p := New(pool)

	require.NoError(t, p.Release(context.Background(), "s1"))
	assert.Equal(t, []string{"s1"}, pool.released)
}
