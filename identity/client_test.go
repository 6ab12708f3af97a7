package identity_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/identity"
	apperrors "github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/principals"
	"github.com/jrsteele09/go-auth-lifecycle/token/refresh"
	tokenfakerepo "github.com/jrsteele09/go-auth-lifecycle/token/repofake"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a scripted identity backend.
type fakeBackend struct {
	mu             sync.Mutex
	refreshStatus  int
	refreshCalls   int
	logoutStatus   int
	logoutTokens   []string
	validAccess    string
	issuedAccess   int
	omitRefreshTok bool
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "password123" {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": "bad credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"accessToken":  b.issue(),
				"refreshToken": "refresh-login",
				"expiresIn":    3600,
				"user":         map[string]string{"id": "principal-1", "name": "Jane", "email": body["email"], "role": "Admin"},
			},
		})
	})
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.refreshCalls++
		status := b.refreshStatus
		b.mu.Unlock()
		if status != 0 {
			writeJSON(w, status, map[string]interface{}{"success": false, "error": "invalid_grant"})
			return
		}
		b.mu.Lock()
		omit := b.omitRefreshTok
		b.mu.Unlock()
		data := map[string]interface{}{"accessToken": b.issue()}
		if !omit {
			data["refreshToken"] = "refresh-rotated"
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": data})
	})
	mux.HandleFunc("GET /auth/check", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		valid := "Bearer " + b.validAccess
		b.mu.Unlock()
		if r.Header.Get("Authorization") != valid {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"user": map[string]string{"id": "principal-1", "name": "Jane", "role": "super_admin"}},
		})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.logoutTokens = append(b.logoutTokens, body["refreshToken"])
		status := b.logoutStatus
		b.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	})
	return mux
}

func (b *fakeBackend) issue() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issuedAccess++
	b.validAccess = fmt.Sprintf("access-%d", b.issuedAccess)
	return b.validAccess
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) refreshCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshCalls
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testFixture struct {
	backend     *fakeBackend
	server      *httptest.Server
	store       *tokenfakerepo.FakeTokenStore
	coordinator *refresh.Coordinator
	client      *identity.Client
	now         time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		backend: &fakeBackend{},
		store:   tokenfakerepo.NewFakeTokenStore(),
		now:     time.Now().UTC().Truncate(time.Second),
	}
	f.server = httptest.NewServer(f.backend.handler())
	t.Cleanup(f.server.Close)

	tr, err := identity.NewHTTPTransport(f.server.URL + "/")
	require.NoError(t, err)

	policy := refresh.DefaultPolicy()
	policy.BackoffBase = time.Millisecond
	policy.BackoffCap = time.Millisecond
	policy.MinInterval = 0

	nowFn := func() time.Time { return f.now }
	f.coordinator, err = refresh.NewCoordinator("cli", f.store, tr, tr.RefreshEndpoints(),
		refresh.WithPolicy(policy),
		refresh.WithNowTime(nowFn),
	)
	require.NoError(t, err)

	f.client, err = identity.NewClient(tr, f.coordinator, identity.WithNowTime(nowFn))
	require.NoError(t, err)
	return f
}

func TestHTTPTransport_RefreshEndpoints(t *testing.T) {
	tr, err := identity.NewHTTPTransport("http://primary/api/")
	require.NoError(t, err)

	require.Equal(t, []string{
		"http://primary/api/auth/refresh-token",
		"http://fallback/api/auth/refresh-token",
		"http://other/auth/refresh-token",
	}, tr.RefreshEndpoints("http://fallback/api", "", "http://other/auth/refresh-token"))

	_, err = identity.NewHTTPTransport("")
	require.Error(t, err)
}

func TestHTTPTransport_Authenticate(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	tr, err := identity.NewHTTPTransport(f.server.URL)
	require.NoError(t, err)

	_, err = tr.Authenticate(ctx, "")
	require.ErrorIs(t, err, apperrors.ErrTerminalAuth)

	access := f.backend.issue()
	p, err := tr.Authenticate(ctx, access)
	require.NoError(t, err)
	require.Equal(t, "principal-1", p.ID)
	require.Equal(t, principals.RoleSuperAdmin, p.Role)

	_, err = tr.Authenticate(ctx, "forged-token")
	require.ErrorIs(t, err, apperrors.ErrTerminalAuth)

	f.server.Close()
	_, err = tr.Authenticate(ctx, access)
	require.ErrorIs(t, err, apperrors.ErrTransientTransport)
}

func TestClient_LoginCheckLogout(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	p, err := f.client.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)
	require.Equal(t, "principal-1", p.ID)
	require.Equal(t, principals.RoleAdmin, p.Role)

	status, err := f.client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, refresh.StateFresh, status.State)
	require.Equal(t, f.now.Add(time.Hour), *status.ExpiresAt)

	checked, err := f.client.Check(ctx)
	require.NoError(t, err)
	require.Equal(t, principals.RoleSuperAdmin, checked.Role)

	require.NoError(t, f.client.Logout(ctx))
	f.backend.set(func(b *fakeBackend) {
		require.Equal(t, []string{"refresh-login"}, b.logoutTokens)
	})

	_, err = f.client.Check(ctx)
	require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)

	status, err = f.client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, refresh.StateSignedOut, status.State)
	require.Nil(t, status.ExpiresAt)
}

func TestClient_LoginRejected(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.client.Login(context.Background(), "jane@example.com", "wrong")
	require.ErrorIs(t, err, apperrors.ErrTerminalAuth)
}

func TestClient_LoginValidatesInput(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	for _, tc := range []struct{ email, password string }{
		{"", "password123"},
		{"not-an-email", "password123"},
		{"jane@example.com", ""},
	} {
		_, err := f.client.Login(ctx, tc.email, tc.password)
		require.Error(t, err)
		require.NotErrorIs(t, err, apperrors.ErrTerminalAuth)
	}

	status, err := f.client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, refresh.StateSignedOut, status.State)
}

func TestClient_CheckRefreshesStaleToken(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.client.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)

	f.backend.set(func(b *fakeBackend) { b.omitRefreshTok = true })
	f.now = f.now.Add(58 * time.Minute)

	_, err = f.client.Check(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.backend.refreshCount())

	cur, err := f.coordinator.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-2", cur.AccessToken)
	require.Equal(t, "refresh-login", cur.RefreshToken, "refresh token carried over")
	require.Equal(t, f.now.Add(24*time.Hour), cur.ExpiresAt)
}

func TestClient_TerminalRefreshForcesReauth(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.client.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)

	f.backend.set(func(b *fakeBackend) { b.refreshStatus = http.StatusUnauthorized })
	f.now = f.now.Add(2 * time.Hour)

	_, err = f.client.Check(ctx)
	require.ErrorIs(t, err, apperrors.ErrTerminalAuth)
	require.Equal(t, 1, f.backend.refreshCount())
	require.Equal(t, refresh.StateExpiredUnrecoverable, f.coordinator.State())
}

func TestClient_InvalidGrantIsTerminal(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.client.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)

	f.backend.set(func(b *fakeBackend) { b.refreshStatus = http.StatusBadRequest })
	f.now = f.now.Add(2 * time.Hour)

	_, err = f.coordinator.EnsureFresh(ctx)
	require.ErrorIs(t, err, apperrors.ErrTerminalAuth)
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.client.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)

	f.backend.set(func(b *fakeBackend) { b.refreshStatus = http.StatusBadGateway })
	f.now = f.now.Add(2 * time.Hour)

	_, err = f.coordinator.EnsureFresh(ctx)
	require.ErrorIs(t, err, apperrors.ErrTransientTransport)
	require.Equal(t, 1+refresh.DefaultPolicy().MaxRetries, f.backend.refreshCount())
}

func TestClient_LogoutClearsLocallyWhenRemoteFails(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.client.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)

	f.backend.set(func(b *fakeBackend) { b.logoutStatus = http.StatusInternalServerError })
	require.NoError(t, f.client.Logout(ctx))

	stored, err := f.store.Load(ctx, "cli")
	require.NoError(t, err)
	require.Nil(t, stored)
}
