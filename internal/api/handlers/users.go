package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arisu-i18n/arisu/internal/api/middleware"
	"github.com/arisu-i18n/arisu/internal/api/problem"
	"github.com/arisu-i18n/arisu/internal/domain/users"
	"github.com/arisu-i18n/arisu/internal/session"
)

// maxBodyBytes caps request bodies for every JSON route.
const maxBodyBytes = 1 << 20

// UserService defines the user operations the HTTP layer needs.
type UserService interface {
	Create(ctx context.Context, params users.CreateParams) (*users.User, error)
	GetByUsername(ctx context.Context, username string) (*users.User, error)
	UpdateSelf(ctx context.Context, id string, patch users.Patch) (*users.User, error)
	Delete(ctx context.Context, id string) error
	ListProjects(ctx context.Context, ownerID string) ([]users.Project, error)
	ListOrganisations(ctx context.Context, ownerID string) ([]users.Organisation, error)
}

// UsersHandler serves /api/users.
type UsersHandler struct {
	users    UserService
	sessions *session.Manager
	env      string
}

func NewUsersHandler(service UserService, sessions *session.Manager, env string) *UsersHandler {
	return &UsersHandler{users: service, sessions: sessions, env: env}
}

// PublicProfile is what anyone may see about a user.
type PublicProfile struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	GitHub        string    `json:"github"`
	Contributor   bool      `json:"contributor"`
	Translator    bool      `json:"translator"`
	Projects      []string  `json:"projects"`
	Organisations []string  `json:"organisations"`
	CreatedAt     time.Time `json:"created_at"`
}

// SelfProfile adds private fields and the caller's session.
type SelfProfile struct {
	PublicProfile
	Email   string       `json:"email"`
	Session *SessionInfo `json:"session,omitempty"`
}

type SessionInfo struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func publicProfile(u *users.User) PublicProfile {
	github := u.GitHub
	if github == "" {
		github = "none"
	}
	projects := u.Projects
	if projects == nil {
		projects = []string{}
	}
	organisations := u.Organisations
	if organisations == nil {
		organisations = []string{}
	}
	return PublicProfile{
		ID:            u.ID,
		Username:      u.Username,
		GitHub:        github,
		Contributor:   u.Contributor,
		Translator:    u.Translator,
		Projects:      projects,
		Organisations: organisations,
		CreatedAt:     u.CreatedAt,
	}
}

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Create handles PUT /api/users.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, "Request body must be a JSON object", err, h.env)
		return
	}

	user, err := h.users.Create(r.Context(), users.CreateParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	var validationErr *users.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &validationErr):
		problem.Write(w, r, http.StatusNotAcceptable, validationErr.Error(), nil, h.env)
		return
	case errors.Is(err, users.ErrUsernameTaken):
		problem.Write(w, r, http.StatusNotAcceptable, fmt.Sprintf("User with username %q already exists", req.Username), nil, h.env)
		return
	case errors.Is(err, users.ErrEmailTaken):
		problem.Write(w, r, http.StatusNotAcceptable, fmt.Sprintf("User with email %q already exists", req.Email), nil, h.env)
		return
	default:
		problem.Write(w, r, http.StatusInternalServerError, "", err, h.env)
		return
	}

	problem.WriteData(w, http.StatusCreated, publicProfile(user))
}

// Get handles GET /api/users/{username}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	user, err := h.users.GetByUsername(r.Context(), username)
	if errors.Is(err, users.ErrUserNotFound) {
		problem.Write(w, r, http.StatusNotFound, fmt.Sprintf("User with username %q was not found", username), nil, h.env)
		return
	}
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, "", err, h.env)
		return
	}
	problem.WriteData(w, http.StatusOK, publicProfile(user))
}

// Me handles GET /api/users/@me.
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	profile := SelfProfile{PublicProfile: publicProfile(user), Email: user.Email}
	if current := session.FromContext(r.Context()).Session(); current != nil {
		profile.Session = &SessionInfo{ID: current.ID, ExpiresAt: h.sessions.ExpiresAt(current).UTC()}
	}
	problem.WriteData(w, http.StatusOK, profile)
}

type patchSelfRequest struct {
	Data map[string]json.RawMessage `json:"data"`
}

// UpdateMe handles PATCH /api/users/@me. Fields are type checked one by one
// so the error can name the offending field.
func (h *UsersHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req patchSelfRequest
	if err := decodeJSON(w, r, &req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, "Request body must be a JSON object", err, h.env)
		return
	}
	if req.Data == nil {
		problem.Write(w, r, http.StatusNotAcceptable, `Missing "data" object`, nil, h.env)
		return
	}

	var patch users.Patch
	for _, field := range []string{"contributor", "translator"} {
		raw, ok := req.Data[field]
		if !ok {
			continue
		}
		var value bool
		if err := json.Unmarshal(raw, &value); err != nil || jsonType(raw) != "boolean" {
			problem.Write(w, r, http.StatusNotAcceptable, fmt.Sprintf("%q must be a boolean (received %s)", field, jsonType(raw)), nil, h.env)
			return
		}
		if field == "contributor" {
			patch.Contributor = &value
		} else {
			patch.Translator = &value
		}
	}
	if raw, ok := req.Data["username"]; ok {
		var value string
		if jsonType(raw) != "string" || json.Unmarshal(raw, &value) != nil {
			problem.Write(w, r, http.StatusNotAcceptable, fmt.Sprintf("%q must be a string (received %s)", "username", jsonType(raw)), nil, h.env)
			return
		}
		patch.Username = &value
	}

	if patch.Empty() {
		problem.WriteData(w, http.StatusOK, map[string]bool{"updated": false})
		return
	}

	_, err := h.users.UpdateSelf(r.Context(), user.ID, patch)
	var validationErr *users.ValidationError
	switch {
	case err == nil:
		problem.WriteData(w, http.StatusOK, map[string]bool{"updated": true})
	case errors.As(err, &validationErr):
		problem.Write(w, r, http.StatusNotAcceptable, validationErr.Error(), nil, h.env)
	case errors.Is(err, users.ErrUsernameTaken):
		problem.Write(w, r, http.StatusNotAcceptable, fmt.Sprintf("Username %q is already taken!", *patch.Username), nil, h.env)
	case errors.Is(err, users.ErrUserNotFound):
		problem.Write(w, r, http.StatusNotFound, "Current user no longer exists", nil, h.env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, "", err, h.env)
	}
}

// DeleteMe handles DELETE /api/users/@me and ends the current session.
func (h *UsersHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := h.users.Delete(r.Context(), user.ID); err != nil && !errors.Is(err, users.ErrUserNotFound) {
		problem.Write(w, r, http.StatusInternalServerError, "", err, h.env)
		return
	}

	if st := session.FromContext(r.Context()); st.Session() != nil {
		if err := h.sessions.Logout(r.Context(), st); err != nil {
			problem.Write(w, r, http.StatusInternalServerError, "", err, h.env)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Projects handles GET /api/users/@me/projects.
func (h *UsersHandler) Projects(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	projects, err := h.users.ListProjects(r.Context(), user.ID)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, "", err, h.env)
		return
	}
	if len(projects) == 0 {
		problem.Write(w, r, http.StatusNotFound, "Current user hasn't made any projects.", nil, h.env)
		return
	}
	problem.WriteData(w, http.StatusOK, projects)
}

// Organisations handles GET /api/users/@me/organisations.
func (h *UsersHandler) Organisations(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	organisations, err := h.users.ListOrganisations(r.Context(), user.ID)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, "", err, h.env)
		return
	}
	if len(organisations) == 0 {
		problem.Write(w, r, http.StatusNotFound, "Current user hasn't made any organisations.", nil, h.env)
		return
	}
	problem.WriteData(w, http.StatusOK, organisations)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

// jsonType names the JSON type of raw the way clients of this API expect in
// error messages.
func jsonType(raw json.RawMessage) string {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '"':
			return "string"
		case 't', 'f':
			return "boolean"
		case '{', '[', 'n':
			return "object"
		default:
			return "number"
		}
	}
	return "undefined"
}
