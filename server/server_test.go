package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jrsteele09/go-auth-lifecycle/credentials"
	fakecredentialrepo "github.com/jrsteele09/go-auth-lifecycle/credentials/repofake"
	"github.com/jrsteele09/go-auth-lifecycle/internal/config"
	apperrors "github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/internal/metrics"
	"github.com/jrsteele09/go-auth-lifecycle/principals"
	fakeprincipalrepo "github.com/jrsteele09/go-auth-lifecycle/principals/repofake"
	"github.com/jrsteele09/go-auth-lifecycle/server"
	"github.com/jrsteele09/go-auth-lifecycle/sessions"
	fakesessionrepo "github.com/jrsteele09/go-auth-lifecycle/sessions/repofake"
	"github.com/jrsteele09/go-auth-lifecycle/vault"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testPrincipalID = "principal-1"

	userToken  = "user-token"
	otherToken = "other-token"
	adminToken = "admin-token"
	noToken    = ""
)

// tokenAuthenticator knows a fixed set of bearer tokens.
type tokenAuthenticator struct {
	principals map[string]*principals.Principal
	err        error
}

func (a *tokenAuthenticator) Authenticate(_ context.Context, accessToken string) (*principals.Principal, error) {
	if a.err != nil {
		return nil, a.err
	}
	p, ok := a.principals[accessToken]
	if !ok {
		return nil, apperrors.Mark(apperrors.ErrTerminalAuth, apperrors.New("unknown token"))
	}
	cp := *p
	return &cp, nil
}

// principalStore adapts the fake principal repo to server.PrincipalStore.
type principalStore struct {
	repo *fakeprincipalrepo.FakePrincipalRepo
}

func (s principalStore) Upsert(_ context.Context, p *principals.Principal) error {
	s.repo.Upsert(p)
	return nil
}

type listerFunc func(ctx context.Context) ([]credentials.Descriptor, error)

func (f listerFunc) List(ctx context.Context) ([]credentials.Descriptor, error) { return f(ctx) }

type testFixture struct {
	authenticator  *tokenAuthenticator
	sessionRepo    *fakesessionrepo.FakeSessionRepo
	credentialRepo *fakecredentialrepo.FakeCredentialRepo
	descriptors    []credentials.Descriptor
	listErr        error
	server         *httptest.Server
}

func setupTestFixture(t *testing.T, policy string, extraConfig ...string) *testFixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lifecycle.yaml")
	body := "env: TEST\nsession:\n  policy: " + policy + "\n" + strings.Join(extraConfig, "")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	f := &testFixture{
		authenticator: &tokenAuthenticator{principals: map[string]*principals.Principal{
			userToken:  {ID: testPrincipalID, Role: principals.RoleUser},
			otherToken: {ID: "principal-2", Role: principals.RoleUser},
			adminToken: {ID: "admin-1", Role: principals.RoleAdmin},
		}},
		sessionRepo:    fakesessionrepo.NewFakeSessionRepo(),
		credentialRepo: fakecredentialrepo.NewFakeCredentialRepo(),
	}

	principalRepo := fakeprincipalrepo.NewFakePrincipalRepo()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	registry, err := sessions.NewRegistry(principalRepo, f.sessionRepo, sessions.WithMetrics(m))
	require.NoError(t, err)

	key, err := vault.GenerateKey()
	require.NoError(t, err)
	reconciler, err := credentials.NewReconciler(f.credentialRepo, vault.NewSealer(vault.New(), key), credentials.WithMetrics(m))
	require.NoError(t, err)

	lister := listerFunc(func(context.Context) ([]credentials.Descriptor, error) {
		return f.descriptors, f.listErr
	})

	srv, err := server.New(cfg, server.Deps{
		Sessions:      registry,
		Authenticator: f.authenticator,
		Principals:    principalStore{repo: principalRepo},
		Credentials:   reconciler,
		Lister:        lister,
		Gatherer:      reg,
	})
	require.NoError(t, err)

	f.server = httptest.NewServer(srv)
	t.Cleanup(f.server.Close)
	return f
}

func (f *testFixture) do(t *testing.T, bearer, method, path string, body interface{}, headers ...string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if bearer != noToken {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]interface{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestNew_RequiresRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifecycle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("env: TEST\n"), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	_, err = server.New(cfg, server.Deps{})
	require.Error(t, err)

	registry, err := sessions.NewRegistry(fakeprincipalrepo.NewFakePrincipalRepo(), fakesessionrepo.NewFakeSessionRepo())
	require.NoError(t, err)
	_, err = server.New(cfg, server.Deps{Sessions: registry})
	require.Error(t, err, "an authenticator is required")
}

func TestServer_SessionLifecycle(t *testing.T) {
	f := setupTestFixture(t, "replace")

	resp, body := f.do(t, userToken, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := body["session_id"].(string)
	require.Len(t, first, 64)
	require.Nil(t, body["displaced"])
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp, body = f.do(t, userToken, http.MethodPost, "/api/sessions", map[string]interface{}{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	second := body["session_id"].(string)
	require.NotNil(t, body["displaced"], "replace policy reports the displaced session")

	_, body = f.do(t, userToken, http.MethodPost, "/api/sessions/"+testPrincipalID+"/validate", map[string]string{"session_id": first})
	require.Equal(t, false, body["valid"])

	_, body = f.do(t, userToken, http.MethodPost, "/api/sessions/"+testPrincipalID+"/validate", map[string]string{"session_id": second})
	require.Equal(t, true, body["valid"])

	resp, body = f.do(t, userToken, http.MethodGet, "/api/sessions/"+testPrincipalID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["active"])
	require.NotContains(t, body, "session_id")

	resp, _ = f.do(t, userToken, http.MethodDelete, "/api/sessions/"+testPrincipalID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, userToken, http.MethodDelete, "/api/sessions/"+testPrincipalID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, body = f.do(t, userToken, http.MethodGet, "/api/sessions/"+testPrincipalID, nil)
	require.Equal(t, false, body["active"])
}

func TestServer_SessionRoutesRequireBearer(t *testing.T) {
	f := setupTestFixture(t, "replace")

	resp, body := f.do(t, userToken, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	owned := body["session_id"].(string)

	// Anonymous and forged callers cannot open, read, validate or clear sessions
	for _, bearer := range []string{noToken, "forged-token"} {
		resp, body = f.do(t, bearer, http.MethodPost, "/api/sessions", map[string]interface{}{"force": true})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, "unauthorized", body["error"])
		require.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

		resp, _ = f.do(t, bearer, http.MethodGet, "/api/sessions/"+testPrincipalID, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp, _ = f.do(t, bearer, http.MethodPost, "/api/sessions/"+testPrincipalID+"/validate", map[string]string{"session_id": owned})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp, _ = f.do(t, bearer, http.MethodDelete, "/api/sessions/"+testPrincipalID, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/sessions/"+testPrincipalID, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	basicResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	basicResp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, basicResp.StatusCode)

	// The principal comes from the token, never from the body
	resp, _ = f.do(t, otherToken, http.MethodPost, "/api/sessions", map[string]interface{}{"principal_id": testPrincipalID})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Another principal cannot touch principal-1's session
	resp, body = f.do(t, otherToken, http.MethodDelete, "/api/sessions/"+testPrincipalID, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "forbidden", body["error"])
	resp, _ = f.do(t, otherToken, http.MethodPost, "/api/sessions/"+testPrincipalID+"/validate", map[string]string{"session_id": owned})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, body = f.do(t, userToken, http.MethodPost, "/api/sessions/"+testPrincipalID+"/validate", map[string]string{"session_id": owned})
	require.Equal(t, true, body["valid"], "the owner's session survived every refused call")

	// An admin may inspect any principal
	resp, body = f.do(t, adminToken, http.MethodGet, "/api/sessions/"+testPrincipalID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["active"])
}

func TestServer_IdentityBackendUnavailable(t *testing.T) {
	f := setupTestFixture(t, "replace")
	f.authenticator.err = apperrors.Mark(apperrors.ErrTransientTransport, apperrors.New("connection refused"))

	resp, body := f.do(t, userToken, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, "identity_unavailable", body["error"])
}

func TestServer_ClientAddress(t *testing.T) {
	t.Run("forwarded header ignored by default", func(t *testing.T) {
		f := setupTestFixture(t, "replace")

		f.do(t, userToken, http.MethodPost, "/api/sessions", nil, "X-Forwarded-For", "203.0.113.9")
		sess, err := f.sessionRepo.Get(context.Background(), testPrincipalID)
		require.NoError(t, err)
		require.NotContains(t, sess.ClientAddress, "203.0.113.9")
		require.Contains(t, sess.ClientAddress, "127.0.0.1")
	})

	t.Run("forwarded header honoured behind a trusted proxy", func(t *testing.T) {
		f := setupTestFixture(t, "replace", "trust_proxy_headers: true\n")

		f.do(t, userToken, http.MethodPost, "/api/sessions", nil, "X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		sess, err := f.sessionRepo.Get(context.Background(), testPrincipalID)
		require.NoError(t, err)
		require.Equal(t, "203.0.113.9", sess.ClientAddress)
	})
}

func TestServer_RejectPolicy(t *testing.T) {
	f := setupTestFixture(t, "reject")

	resp, _ := f.do(t, userToken, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := f.do(t, userToken, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "active_session_exists", body["error"])

	resp, body = f.do(t, userToken, http.MethodPost, "/api/sessions", map[string]interface{}{"force": true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotNil(t, body["displaced"])
}

func TestServer_SessionErrors(t *testing.T) {
	f := setupTestFixture(t, "replace")

	resp, _ := f.do(t, userToken, http.MethodPost, "/api/sessions", map[string]interface{}{"force": "yes"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, adminToken, http.MethodGet, "/api/sessions/ghost", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "principal_not_found", body["error"])

	f.do(t, userToken, http.MethodPost, "/api/sessions", nil)
	f.sessionRepo.Fail = apperrors.New("disk on fire")
	resp, body = f.do(t, userToken, http.MethodPost, "/api/sessions/"+testPrincipalID+"/validate", map[string]string{"session_id": "x"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "an unreachable store is not reported as invalid")
	require.Equal(t, "storage_unavailable", body["error"])
}

func TestServer_CredentialRoutesRequireAdmin(t *testing.T) {
	f := setupTestFixture(t, "replace")

	resp, _ := f.do(t, noToken, http.MethodGet, "/api/credentials", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := f.do(t, userToken, http.MethodPost, "/api/credentials/verify", map[string]string{"value": "sk-ant-abcdef1234567890"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "forbidden", body["error"])

	resp, _ = f.do(t, userToken, http.MethodPost, "/api/credentials/sync", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_CredentialVerifyAndSync(t *testing.T) {
	f := setupTestFixture(t, "replace")
	f.descriptors = []credentials.Descriptor{
		{ExternalID: "key_1", Hint: "sk-ant-ab...0000"},
		{ExternalID: "key_99", Hint: "sk-ant-ab...7890"},
	}

	resp, body := f.do(t, adminToken, http.MethodPost, "/api/credentials/verify", map[string]string{"value": "sk-ant-abcdef1234567890"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "key_99", body["external_id"])
	require.NotContains(t, body, "SealedValue")

	resp, body = f.do(t, adminToken, http.MethodPost, "/api/credentials/verify", map[string]string{"value": "sk-ant-zzzzzz99999999"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "no_matching_credential", body["error"])

	f.credentialRepo.FailPut["key_1"] = apperrors.New("write refused")
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/credentials/sync", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	syncResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer syncResp.Body.Close()
	require.Equal(t, http.StatusOK, syncResp.StatusCode)

	var outcomes []map[string]string
	require.NoError(t, json.NewDecoder(syncResp.Body).Decode(&outcomes))
	require.Len(t, outcomes, 2)
	require.Equal(t, "failed", outcomes[0]["action"])
	require.NotEmpty(t, outcomes[0]["error"])
	require.Equal(t, "updated", outcomes[1]["action"])

	f.listErr = apperrors.Mark(apperrors.ErrTransientTransport, apperrors.New("issuer down"))
	resp, _ = f.do(t, adminToken, http.MethodPost, "/api/credentials/sync", nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	f := setupTestFixture(t, "replace")

	resp, body := f.do(t, noToken, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	f.do(t, userToken, http.MethodPost, "/api/sessions", nil)

	metricsResp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	raw, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "auth_lifecycle_sessions_created_total")
}
