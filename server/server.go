// Package server exposes the session registry and credential reconciler over HTTP.
package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-lifecycle/credentials"
	"github.com/jrsteele09/go-auth-lifecycle/internal/config"
	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Deps are the services the server fronts. Credentials and Lister are optional;
// without them the credential routes are not registered or sync is unavailable.
// Principals, when set, records each principal that opens a session.
type Deps struct {
	Sessions      *sessions.Registry
	Authenticator Authenticator
	Principals    PrincipalStore
	Credentials   *credentials.Reconciler
	Lister        credentials.Lister
	Gatherer      prometheus.Gatherer
}

type Server struct {
	env           string // Environment (e.g., "DEV", "PROD")
	mux           *http.ServeMux
	routes        []string
	sessionPolicy sessions.Policy
	trustProxy    bool
	sessions      *sessions.Registry
	authenticator Authenticator
	principals    PrincipalStore
	credentials   *credentials.Reconciler
	lister        credentials.Lister
	gatherer      prometheus.Gatherer
	logger        zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func New(c config.Config, deps Deps, options ...Option) (*Server, error) {
	if deps.Sessions == nil {
		return nil, errors.New("[server.New] session registry is required")
	}
	if deps.Authenticator == nil {
		return nil, errors.New("[server.New] authenticator is required")
	}

	s := &Server{
		env:           c.GetEnv(),
		mux:           http.NewServeMux(),
		sessionPolicy: c.GetSessionPolicy(),
		trustProxy:    c.GetTrustProxyHeaders(),
		sessions:      deps.Sessions,
		authenticator: deps.Authenticator,
		principals:    deps.Principals,
		credentials:   deps.Credentials,
		lister:        deps.Lister,
		gatherer:      deps.Gatherer,
		logger:        log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "", route
		}
		s.logger.Debug().Str("method", colouredMethod(method)).Str("path", path).Msg("route registered")
	}
}

// clientAddress is the peer address. X-Forwarded-For is only honoured when the
// server is configured to sit behind a trusted proxy.
func (s *Server) clientAddress(r *http.Request) string {
	if !s.trustProxy {
		return r.RemoteAddr
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return r.RemoteAddr
}
