package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	if s.gatherer != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Sessions
	s.RegisterRouteHandler("POST "+RouteSessions, ChainMiddleware(s.CreateSessionHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+RouteSession, ChainMiddleware(s.GetSessionHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireSelfOrAdmin())...))
	s.RegisterRouteHandler("DELETE "+RouteSession, ChainMiddleware(s.ClearSessionHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireSelfOrAdmin())...))
	s.RegisterRouteHandler("POST "+RouteSessionValidate, ChainMiddleware(s.ValidateSessionHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireSelfOrAdmin())...))

	// Credential mirror
	if s.credentials != nil {
		s.RegisterRouteHandler("GET "+RouteCredentials, ChainMiddleware(s.ListCredentialsHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireAdmin())...))
		s.RegisterRouteHandler("POST "+RouteCredentialVerify, ChainMiddleware(s.VerifyCredentialHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireAdmin())...))
		s.RegisterRouteHandler("POST "+RouteCredentialSync, ChainMiddleware(s.SyncCredentialsHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireAdmin())...))
	}
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
