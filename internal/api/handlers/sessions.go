package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/arisu-i18n/arisu/internal/api/middleware"
	"github.com/arisu-i18n/arisu/internal/api/problem"
	"github.com/arisu-i18n/arisu/internal/domain/users"
	"github.com/arisu-i18n/arisu/internal/session"
)

// Authenticator checks credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*users.User, error)
}

// SessionsHandler serves login, logout and the session diagnostic route.
type SessionsHandler struct {
	auth     Authenticator
	sessions *session.Manager
	env      string
}

func NewSessionsHandler(authenticator Authenticator, sessions *session.Manager, env string) *SessionsHandler {
	return &SessionsHandler{auth: authenticator, sessions: sessions, env: env}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Session  SessionInfo `json:"session"`
}

// Login handles POST /api/sessions/login. A successful login replaces the
// current session with a new one bound to the user.
func (h *SessionsHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, "Request body must be a JSON object", err, h.env)
		return
	}
	if req.Username == "" || req.Password == "" {
		problem.Write(w, r, http.StatusNotAcceptable, `"username" and "password" are required`, nil, h.env)
		return
	}

	user, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		problem.Write(w, r, http.StatusUnauthorized, "Invalid username or password", nil, h.env)
		return
	}
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, "", err, h.env)
		return
	}

	st := session.FromContext(r.Context())
	if err := h.sessions.Login(r.Context(), st, user.ID); err != nil {
		problem.Write(w, r, http.StatusInternalServerError, "Unable to start a session", err, h.env)
		return
	}

	current := st.Session()
	problem.WriteData(w, http.StatusOK, loginResponse{
		ID:       user.ID,
		Username: user.Username,
		Session:  SessionInfo{ID: current.ID, ExpiresAt: h.sessions.ExpiresAt(current).UTC()},
	})
}

// Logout handles POST /api/sessions/logout.
func (h *SessionsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	if err := h.sessions.Logout(r.Context(), st); err != nil && !errors.Is(err, session.ErrNotFound) {
		problem.Write(w, r, http.StatusInternalServerError, "", err, h.env)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionDiagnostic struct {
	StartedAt int64   `json:"started_at"`
	Device    string  `json:"device"`
	UserID    *string `json:"user_id"`
	SessionID string  `json:"session_id"`
}

// Get handles GET /sessions/{id}. started_at is in Unix milliseconds and
// user_id is null for anonymous sessions.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := h.sessions.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		problem.Write(w, r, http.StatusNotFound, fmt.Sprintf("Session ID `%s` doesn't exist", id), nil, h.env)
		return
	}
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, "", err, h.env)
		return
	}

	out := sessionDiagnostic{
		StartedAt: s.StartedAt.UnixMilli(),
		Device:    s.Device,
		SessionID: s.ID,
	}
	if s.UserID != "" {
		userID := s.UserID
		out.UserID = &userID
	}
	writeJSON(w, http.StatusOK, out)
}

// CSRFToken handles GET /api/sessions/csrf when CSRF protection is enabled.
func (h *SessionsHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	problem.WriteData(w, http.StatusOK, map[string]string{"token": middleware.CSRFToken(r)})
}
