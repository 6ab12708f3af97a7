package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrsteele09/go-auth-lifecycle/credentials"
	"github.com/jrsteele09/go-auth-lifecycle/credentials/remote"
	"github.com/jrsteele09/go-auth-lifecycle/identity"
	"github.com/jrsteele09/go-auth-lifecycle/internal/metrics"
	"github.com/jrsteele09/go-auth-lifecycle/internal/store/sqlite"
	"github.com/jrsteele09/go-auth-lifecycle/sessions"
	"github.com/jrsteele09/go-auth-lifecycle/token/refresh"
	"github.com/jrsteele09/go-auth-lifecycle/vault"
	"github.com/rs/zerolog/log"
)

// app holds the wiring shared by the commands.
type app struct {
	db      *sqlite.DB
	sealer  *vault.Sealer
	metrics *metrics.Metrics
}

func openApp(m *metrics.Metrics) (*app, error) {
	key, err := cfg.GetVaultKey()
	if err != nil {
		return nil, err
	}

	path := cfg.GetDBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data folder: %w", err)
	}
	db, err := sqlite.NewDB(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &app{
		db:      db,
		sealer:  vault.NewSealer(vault.New(), key),
		metrics: m,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("closing database")
	}
}

func (a *app) identityClient() (*identity.Client, error) {
	transport, err := identity.NewHTTPTransport(cfg.GetIdentityBaseURL())
	if err != nil {
		return nil, err
	}
	store, err := sqlite.NewTokenStore(a.db, a.sealer)
	if err != nil {
		return nil, err
	}
	policy := cfg.GetRefreshPolicy()
	coordinator, err := refresh.NewCoordinator(instanceID, store, transport,
		transport.RefreshEndpoints(cfg.GetRefreshFallbacks()...),
		refresh.WithPolicy(policy),
		refresh.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}
	return identity.NewClient(transport, coordinator, identity.WithDefaultExpiry(policy.DefaultExpiry))
}

func (a *app) registry() (*sessions.Registry, error) {
	return sessions.NewRegistry(sqlite.NewPrincipalRepo(a.db), sqlite.NewSessionRepo(a.db),
		sessions.WithIdleTimeout(cfg.GetIdleTimeout()),
		sessions.WithMetrics(a.metrics),
	)
}

func (a *app) reconciler() (*credentials.Reconciler, error) {
	return credentials.NewReconciler(sqlite.NewCredentialRepo(a.db), a.sealer,
		credentials.WithUpsertTimeout(cfg.GetUpsertTimeout()),
		credentials.WithMetrics(a.metrics),
	)
}

// lister returns nil when no issuer is configured.
func (a *app) lister() (credentials.Lister, error) {
	if cfg.GetCredentialsBaseURL() == "" || cfg.GetAdminKey() == "" {
		return nil, nil
	}
	return remote.New(cfg.GetCredentialsBaseURL(), cfg.GetAdminKey())
}
