package posync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	calls   []ApplyRequest
	who     TerminalIdentity
	resp    *ApplyResponse
	err     error
	applied []AppliedEntry
}

func (f *fakeApplier) Apply(_ context.Context, who TerminalIdentity, req *ApplyRequest) (*ApplyResponse, error) {
	f.who = who
	f.calls = append(f.calls, *req)
	return f.resp, f.err
}

func (f *fakeApplier) ListApplied(_ context.Context, _, _ string, _ int) ([]AppliedEntry, error) {
	return f.applied, nil
}

func (f *fakeApplier) RegisteredTables() []string { return DefaultTables }
func (f *fakeApplier) AppName() string            { return "handlers-test" }

func newHandlersServer(t *testing.T, applier *fakeApplier) (*httptest.Server, string) {
	t.Helper()
	jwtAuth := NewJWTAuth("handlers-secret")
	h := NewHTTPHandlers(applier, jwtAuth, nil)
	srv := httptest.NewServer(h.Routes(jwtAuth.Middleware))
	t.Cleanup(srv.Close)
	token, err := jwtAuth.GenerateToken("tenant-1", "store-7", "device-a", time.Hour)
	require.NoError(t, err)
	return srv, token
}

func postApply(t *testing.T, url, token string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/pos/apply", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHandleApply_Accepted(t *testing.T) {
	applier := &fakeApplier{resp: statusAccepted("6f1c1d1e-0000-4000-8000-000000000001")}
	srv, token := newHandlersServer(t, applier)

	body, _ := json.Marshal(ApplyRequest{IdempotencyKey: "device-a:1", Table: "sales", Op: "create", RecordID: "s1", Payload: json.RawMessage(validSale)})
	resp := postApply(t, srv.URL, token, body)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out ApplyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, StAccepted, out.Status)
	require.Equal(t, "6f1c1d1e-0000-4000-8000-000000000001", out.RemoteID)

	require.Len(t, applier.calls, 1)
	require.Equal(t, "device-a:1", applier.calls[0].IdempotencyKey)
	require.Equal(t, TerminalIdentity{TenantID: "tenant-1", StoreID: "store-7", DeviceID: "device-a"}, applier.who)
}

func TestHandleApply_RejectedIsStill200(t *testing.T) {
	applier := &fakeApplier{resp: statusRecordMissing("products", "p1")}
	srv, token := newHandlersServer(t, applier)

	body, _ := json.Marshal(ApplyRequest{IdempotencyKey: "device-a:2", Table: "products", Op: "update", RecordID: "p1", Payload: json.RawMessage(`{}`)})
	resp := postApply(t, srv.URL, token, body)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out ApplyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, StRejected, out.Status)
	require.Equal(t, ReasonRecordMissing, out.Reason())
}

func TestHandleApply_Errors(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		srv, _ := newHandlersServer(t, &fakeApplier{})
		resp := postApply(t, srv.URL, "", []byte(`{}`))
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv, token := newHandlersServer(t, &fakeApplier{})
		resp := postApply(t, srv.URL, token, []byte(`{not json`))
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("infrastructure failure", func(t *testing.T) {
		srv, token := newHandlersServer(t, &fakeApplier{err: errors.New("pool exhausted")})
		resp := postApply(t, srv.URL, token, []byte(`{"idempotency_key":"k","table":"sales","op":"create","record_id":"s1"}`))
		defer resp.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		var out ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.Equal(t, "apply_failed", out.Error)
	})
}

func TestHandleListApplied(t *testing.T) {
	applier := &fakeApplier{applied: []AppliedEntry{{IdempotencyKey: "device-a:1", Table: "sales", Op: "create", RecordID: "s1", DeviceID: "device-a"}}}
	srv, token := newHandlersServer(t, applier)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/pos/applied?limit=10", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out []AppliedEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	require.Equal(t, "s1", out[0].RecordID)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/pos/applied?limit=0", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestHandleHealth_NoAuth(t *testing.T) {
	srv, _ := newHandlersServer(t, &fakeApplier{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "healthy", out.Status)
	require.Equal(t, "handlers-test", out.AppName)
}
