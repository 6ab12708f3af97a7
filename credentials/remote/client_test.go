package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/credentials"
	"github.com/jrsteele09/go-auth-lifecycle/credentials/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminKey = "sk-ant-admin-test"

func TestClient_ListPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/organizations/api_keys", r.URL.Path)
		assert.Equal(t, testAdminKey, r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		assert.Equal(t, "active", r.URL.Query().Get("status"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("after_id") {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]string{
					{"id": "key_1", "name": "one", "partial_key_hint": "sk-ant-aa...1111", "status": "active", "workspace_id": "ws_1"},
					{"id": "key_2", "name": "two", "partial_key_hint": "sk-ant-bb...2222", "status": "active"},
				},
				"has_more": true,
				"last_id":  "key_2",
			})
		case "key_2":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data":     []map[string]string{{"id": "key_3", "partial_key_hint": "sk-ant-cc...3333", "status": "inactive"}},
				"has_more": false,
			})
		default:
			t.Errorf("unexpected after_id %q", r.URL.Query().Get("after_id"))
		}
	}))
	defer srv.Close()

	c, err := remote.New(srv.URL+"/v1/", testAdminKey, remote.WithStatus(credentials.StatusActive))
	require.NoError(t, err)

	got, err := c.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []credentials.Descriptor{
		{ExternalID: "key_1", Name: "one", Hint: "sk-ant-aa...1111", Status: credentials.StatusActive, WorkspaceID: "ws_1"},
		{ExternalID: "key_2", Name: "two", Hint: "sk-ant-bb...2222", Status: credentials.StatusActive},
		{ExternalID: "key_3", Hint: "sk-ant-cc...3333", Status: credentials.StatusInactive},
	}, got)
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{{"id": "key_1"}}})
	}))
	defer srv.Close()

	c, err := remote.New(srv.URL, testAdminKey, remote.WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	got, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := remote.New(srv.URL, testAdminKey, remote.WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	_, err = c.List(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestNew_Validation(t *testing.T) {
	_, err := remote.New("", testAdminKey)
	require.Error(t, err)
	_, err = remote.New("http://x", "")
	require.Error(t, err)
}
