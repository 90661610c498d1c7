package api

import (
	"encoding/json"
	"net/http"
)

// Error is the structured error response body.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeUnauthorized     = "unauthorised"
	ErrCodeConsentRejected  = "consent_rejected"
	ErrCodeConsentRequired  = "consent_required"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeSessionExpired   = "session_expired"
	ErrCodeSessionInactive  = "session_inactive"
	ErrCodeTooManySessions  = "too_many_sessions"
	ErrCodeInternal         = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		// Best-effort write; the client may already be gone.
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}
