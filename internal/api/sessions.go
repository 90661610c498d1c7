package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crossdesk/relay/internal/session"
)

type createSessionRequest struct {
	ClientID           string               `json:"clientId"`
	ControllerID       string               `json:"controllerId"`
	Room               string               `json:"room"`
	Permissions        []session.Permission `json:"permissions"`
	ClientLocation     string               `json:"clientLocation"`
	ControllerLocation string               `json:"controllerLocation"`
}

type createSessionResponse struct {
	SessionID  string `json:"sessionId"`
	SessionKey string `json:"sessionKey"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	// Locations are mandatory: a session created with an empty client
	// location would make the consent location check vacuous.
	if req.ClientID == "" || req.ControllerID == "" || req.Room == "" || len(req.Permissions) == 0 ||
		req.ClientLocation == "" || req.ControllerLocation == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest,
			"clientId, controllerId, room, permissions, clientLocation and controllerLocation are required")
		return
	}

	created, err := s.sessions.Create(session.CreateParams{
		ClientID:           req.ClientID,
		ControllerID:       req.ControllerID,
		Room:               req.Room,
		Permissions:        req.Permissions,
		ClientLocation:     req.ClientLocation,
		ControllerLocation: req.ControllerLocation,
	})
	switch {
	case err == nil:
	case errors.Is(err, session.ErrInvalidPermission),
		errors.Is(err, session.ErrLocationNotAllowed):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case errors.Is(err, session.ErrTooManySessions):
		writeError(w, http.StatusServiceUnavailable, ErrCodeTooManySessions, "session quota exhausted")
		return
	default:
		s.logger.Error("session creation failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "session creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:  created.ID,
		SessionKey: hex.EncodeToString(created.Key),
	})
}

type consentRequest struct {
	ClientID       string `json:"clientId"`
	ClientLocation string `json:"clientLocation"`
}

type consentResponse struct {
	Success    bool   `json:"success"`
	SessionKey string `json:"sessionKey"`
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	key, err := s.sessions.Consent(chi.URLParam(r, "id"), req.ClientID, req.ClientLocation)
	if err != nil {
		// Deliberately uniform: the response never says which check failed.
		writeError(w, http.StatusBadRequest, ErrCodeConsentRejected, "consent rejected")
		return
	}
	writeJSON(w, http.StatusOK, consentResponse{
		Success:    true,
		SessionKey: hex.EncodeToString(key),
	})
}

type executeCommandRequest struct {
	Command session.Command `json:"command"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	var req executeCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	delivered, err := s.sessions.ExecuteCommand(chi.URLParam(r, "id"), req.Command)
	switch {
	case err == nil:
		// Undelivered commands are soft failures: accepted and audited, but
		// the client transport was not reachable.
		writeJSON(w, http.StatusOK, successResponse{Success: delivered})
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
	case errors.Is(err, session.ErrSessionNotActive):
		writeError(w, http.StatusGone, ErrCodeSessionInactive, "session is terminated")
	case errors.Is(err, session.ErrSessionExpired):
		writeError(w, http.StatusGone, ErrCodeSessionExpired, "session expired")
	case errors.Is(err, session.ErrConsentRequired):
		writeError(w, http.StatusForbidden, ErrCodeConsentRequired, "consent not given")
	case errors.Is(err, session.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, ErrCodePermissionDenied, "command type not permitted")
	default:
		s.logger.Error("command execution failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "command execution failed")
	}
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	changed, err := s.sessions.Terminate(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: changed})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info := s.sessions.Info(chi.URLParam(r, "id"))
	if info == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// roomClosedCode is the application close code delivered to every peer of an
// administratively evicted room.
const roomClosedCode = 4001

type evictRoomResponse struct {
	Evicted int `json:"evicted"`
}

func (s *Server) handleEvictRoom(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	n := s.registry.EvictRoom(name, roomClosedCode, "room_closed")
	s.logger.Info("room evicted", slog.String("room", name), slog.Int("peers", n))
	writeJSON(w, http.StatusOK, evictRoomResponse{Evicted: n})
}
