package server

import (
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/rs/zerolog"
)

type createSessionRequest struct {
	Force bool `json:"force,omitempty"`
}

type displacedSession struct {
	ClientAddress string    `json:"client_address,omitempty"`
	ClientAgent   string    `json:"client_agent,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type createSessionResponse struct {
	SessionID string            `json:"session_id"`
	Displaced *displacedSession `json:"displaced,omitempty"`
}

// sessionView never includes the session id.
type sessionView struct {
	Active         bool       `json:"active"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	ClientAddress  string     `json:"client_address,omitempty"`
	ClientAgent    string     `json:"client_agent,omitempty"`
}

type validateSessionRequest struct {
	SessionID string `json:"session_id"`
}

// CreateSessionHandler opens a session for the authenticated caller under the
// configured session policy. The body is optional.
func (s *Server) CreateSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeUnauthorized(w, "Not authenticated")
			return
		}

		var req createSessionRequest
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeJSONError(w, "invalid_request", "invalid body", http.StatusBadRequest)
			return
		}

		if s.principals != nil {
			if err := s.principals.Upsert(r.Context(), p); err != nil {
				zerolog.Ctx(r.Context()).Err(err).Msg("principal not recorded")
				writeServiceError(w, errors.Mark(errors.ErrStorage, err))
				return
			}
		}

		res, err := s.sessions.Login(r.Context(), s.sessionPolicy, req.Force, p.ID, s.clientAddress(r), r.UserAgent())
		if err != nil {
			zerolog.Ctx(r.Context()).Info().Err(err).Msg("session create refused")
			writeServiceError(w, err)
			return
		}

		resp := createSessionResponse{SessionID: res.SessionID}
		if prev := res.Previous; prev != nil {
			resp.Displaced = &displacedSession{ClientAddress: prev.ClientAddress, ClientAgent: prev.ClientAgent, CreatedAt: prev.CreatedAt}
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func (s *Server) GetSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principalID := r.PathValue("principal")

		active, err := s.sessions.HasActiveSession(r.Context(), principalID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		view := sessionView{Active: active}
		if active {
			sess, err := s.sessions.Session(r.Context(), principalID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			if sess != nil {
				view.CreatedAt = &sess.CreatedAt
				view.LastActivityAt = &sess.LastActivityAt
				view.ClientAddress = sess.ClientAddress
				view.ClientAgent = sess.ClientAgent
			}
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// ValidateSessionHandler answers whether session_id is the principal's current
// session. A valid session has its activity bumped on a best-effort basis.
func (s *Server) ValidateSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principalID := r.PathValue("principal")

		var req validateSessionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, "invalid_request", "invalid body", http.StatusBadRequest)
			return
		}

		valid, err := s.sessions.ValidateSession(r.Context(), principalID, req.SessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if valid {
			if err := s.sessions.UpdateActivity(r.Context(), principalID); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Str("principal_id", principalID).Msg("session activity not recorded")
			}
		}
		writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
	}
}

func (s *Server) ClearSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.sessions.ClearSession(r.Context(), r.PathValue("principal")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
