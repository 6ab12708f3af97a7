package server

import (
	"net/http"

	"github.com/jrsteele09/go-auth-lifecycle/credentials"
	"github.com/rs/zerolog"
)

type verifyCredentialRequest struct {
	Value string `json:"value"`
}

type syncOutcomeView struct {
	ExternalID string                 `json:"external_id"`
	Action     credentials.SyncAction `json:"action"`
	Error      string                 `json:"error,omitempty"`
}

func (s *Server) ListCredentialsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := s.credentials.Records(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if recs == nil {
			recs = []*credentials.Record{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

// VerifyCredentialHandler identifies which mirrored credential a raw value is.
// The remote listing is consulted when a lister is configured.
func (s *Server) VerifyCredentialHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyCredentialRequest
		if err := decodeJSON(r, &req); err != nil || req.Value == "" {
			writeJSONError(w, "invalid_request", "value is required", http.StatusBadRequest)
			return
		}

		var (
			rec *credentials.Record
			err error
		)
		if s.lister != nil {
			rec, err = s.credentials.VerifyWith(r.Context(), req.Value, s.lister)
		} else {
			rec, err = s.credentials.Verify(r.Context(), req.Value, nil)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// SyncCredentialsHandler mirrors the issuer's listing and reports one outcome per item.
func (s *Server) SyncCredentialsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.lister == nil {
			writeJSONError(w, "sync_unavailable", "no credential issuer configured", http.StatusServiceUnavailable)
			return
		}

		outcomes, err := s.credentials.SyncFrom(r.Context(), s.lister)
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("credential listing failed")
			writeJSONError(w, "upstream_unavailable", "credential issuer unavailable", http.StatusBadGateway)
			return
		}

		views := make([]syncOutcomeView, 0, len(outcomes))
		for _, o := range outcomes {
			v := syncOutcomeView{ExternalID: o.ExternalID, Action: o.Action}
			if o.Err != nil {
				v.Error = o.Err.Error()
			}
			views = append(views, v)
		}
		writeJSON(w, http.StatusOK, views)
	}
}
