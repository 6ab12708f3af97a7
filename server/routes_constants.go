package server

const (
	contentTypeJSON = "application/json"

	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"

	RouteSessions         = "/api/sessions"
	RouteSession          = "/api/sessions/{principal}"
	RouteSessionValidate  = "/api/sessions/{principal}/validate"
	RouteCredentials      = "/api/credentials"
	RouteCredentialVerify = "/api/credentials/verify"
	RouteCredentialSync   = "/api/credentials/sync"
)
