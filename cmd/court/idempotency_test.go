package main

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencawt/court/pkg/store"
)

func newTestServer(t *testing.T) *server {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "idempotency_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &server{log: slog.Default(), idempotency: store.NewIdempotencyRepo(db)}
}

func TestIdempotent_ReplaysStoredResponseOnRepeatedKey(t *testing.T) {
	s := newTestServer(t)
	calls := 0
	next := s.idempotent(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	body := []byte(`{"a":1}`)
	req1 := httptest.NewRequest(http.MethodPost, "/v1/agents/register", bytes.NewReader(body))
	req1.Header.Set("Idempotency-Key", "key-1")
	rec1 := httptest.NewRecorder()
	next.ServeHTTP(rec1, req1)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/agents/register", bytes.NewReader(body))
	req2.Header.Set("Idempotency-Key", "key-1")
	rec2 := httptest.NewRecorder()
	next.ServeHTTP(rec2, req2)

	assert.Equal(t, 1, calls, "the wrapped handler must run exactly once for a repeated key")
	assert.Equal(t, http.StatusCreated, rec2.Code)
	assert.Equal(t, rec1.Body.String(), rec2.Body.String())
	assert.Equal(t, "true", rec2.Header().Get("Idempotency-Replayed"))
}

func TestIdempotent_ConflictsOnSameKeyDifferentBody(t *testing.T) {
	s := newTestServer(t)
	next := s.idempotent(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req1 := httptest.NewRequest(http.MethodPost, "/v1/agents/register", bytes.NewReader([]byte(`{"a":1}`)))
	req1.Header.Set("Idempotency-Key", "key-2")
	next.ServeHTTP(httptest.NewRecorder(), req1)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/agents/register", bytes.NewReader([]byte(`{"a":2}`)))
	req2.Header.Set("Idempotency-Key", "key-2")
	rec2 := httptest.NewRecorder()
	next.ServeHTTP(rec2, req2)

	assert.Equal(t, http.StatusConflict, rec2.Code)
}

func TestIdempotent_NoKeyAlwaysRuns(t *testing.T) {
	s := newTestServer(t)
	calls := 0
	next := s.idempotent(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/agents/register", bytes.NewReader([]byte(`{}`)))
		next.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}
