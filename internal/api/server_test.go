package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sessionstate/internal/metrics"
	"github.com/roach88/sessionstate/internal/provider"
	"github.com/roach88/sessionstate/internal/session"
	"github.com/roach88/sessionstate/internal/store"
	"github.com/roach88/sessionstate/internal/testutil"
)

type testServer struct {
	srv   *httptest.Server
	clock *testutil.DeterministicClock
	p     *provider.Provider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := testutil.NewDeterministicClock()
	st := store.NewMemory(store.WithClock(clock.Now))
	m := metrics.New()
	p := provider.New(st, uuid.MustParse("0190a1b2-0000-7000-8000-00000000000a"),
		provider.WithClock(clock.Now),
		provider.WithTokens(session.NewTokenClock()),
		provider.WithIDGenerator(testutil.NewFixedIDGenerator("sess")),
		provider.WithMetrics(m),
	)
	srv := httptest.NewServer(NewServer(p, WithMetrics(m)))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, clock: clock, p: p}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateGetPatch(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/sessions", `{"timeout":5,"items":[{"key":"user","value":"alice"},{"key":"cart","value":3}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[CreateResponse](t, resp)
	assert.Equal(t, "sess-1", created.ID)

	resp = ts.do(t, http.MethodGet, "/sessions/sess-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[SessionView](t, resp)
	assert.Equal(t, 5, view.Timeout)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "user", view.Items[0].Key)
	assert.Equal(t, "alice", view.Items[0].Value)
	assert.Equal(t, 3.0, view.Items[1].Value)

	resp = ts.do(t, http.MethodPatch, "/sessions/sess-1", `{"remove":["user"],"set":[{"key":"cart","value":4},{"key":"theme","value":"dark"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/sessions/sess-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, "patch releases the lock")
	view = decode[SessionView](t, resp)
	require.Len(t, view.Items, 2)
	assert.Equal(t, Item{Key: "cart", Value: 4.0}, view.Items[0])
	assert.Equal(t, Item{Key: "theme", Value: "dark"}, view.Items[1])
}

func TestCreateEmpty(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/sessions/sess-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[SessionView](t, resp)
	assert.Equal(t, DefaultTimeout, view.Timeout)
	assert.Empty(t, view.Items)
}

func TestGetMissing(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/sessions/nope", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[ErrorBody](t, resp)
	assert.Equal(t, CodeNotFound, body.Error.Code)

	resp = ts.do(t, http.MethodPatch, "/sessions/nope", `{"clear":true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLockAndRelease(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/sessions", `{"items":[{"key":"a","value":true}]}`).StatusCode)

	resp := ts.do(t, http.MethodPost, "/sessions/sess-1/lock", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lock := decode[LockView](t, resp)
	assert.Positive(t, lock.LockID)
	require.Len(t, lock.Session.Items, 1)

	ts.clock.Advance(1500 * time.Millisecond)

	resp = ts.do(t, http.MethodGet, "/sessions/sess-1", "")
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	locked := decode[LockedView](t, resp)
	assert.True(t, locked.Locked)
	assert.Equal(t, int64(1500), locked.LockAgeMs)

	resp = ts.do(t, http.MethodPatch, "/sessions/sess-1", `{"clear":true}`)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/sessions/sess-1/lock?lockId=%d", lock.LockID+7), "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[ErrorBody](t, resp)
	assert.Equal(t, session.ErrCodeOwnershipMismatch, body.Error.Code)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/sessions/sess-1/lock?lockId=%d", lock.LockID), "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/sessions/sess-1/lock?lockId=%d", lock.LockID), "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body = decode[ErrorBody](t, resp)
	assert.Equal(t, session.ErrCodeInvalidState, body.Error.Code)

	resp = ts.do(t, http.MethodDelete, "/sessions/sess-1/lock?lockId=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteAndPurge(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/sessions", `{"timeout":1}`).StatusCode)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/sessions", `{"timeout":1}`).StatusCode)

	resp := ts.do(t, http.MethodDelete, "/sessions/sess-1", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/sessions/sess-1", "").StatusCode)

	ts.clock.Advance(2 * time.Minute)
	resp = ts.do(t, http.MethodPost, "/purge", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, PurgeResponse{Purged: 1}, decode[PurgeResponse](t, resp))
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/sessions", `{"timeout":-1}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/sessions", `{"bogus":1}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPatch, "/sessions/x", "").StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/sessions/nope", "")

	resp := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `session_operations_total{op="get_item",outcome="not_found"} 1`)
}
