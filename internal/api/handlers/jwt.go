package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/arisu-i18n/arisu/internal/api/middleware"
	"github.com/arisu-i18n/arisu/internal/api/problem"
	"github.com/arisu-i18n/arisu/internal/auth"
	"github.com/arisu-i18n/arisu/internal/domain/users"
)

// TokenService issues the per-user API token.
type TokenService interface {
	Token(ctx context.Context, userID string) (string, error)
	GenerateToken(ctx context.Context, userID string) (string, error)
}

// TokensHandler serves /api/users/@me/jwt.
type TokensHandler struct {
	tokens TokenService
	env    string
}

func NewTokensHandler(tokens TokenService, env string) *TokensHandler {
	return &TokensHandler{tokens: tokens, env: env}
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Get returns the cached token, rotating it when it has expired.
func (h *TokensHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	token, err := h.tokens.Token(r.Context(), user.ID)
	h.respond(w, r, token, err)
}

// Generate always replaces the cached token.
func (h *TokensHandler) Generate(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	token, err := h.tokens.GenerateToken(r.Context(), user.ID)
	h.respond(w, r, token, err)
}

func (h *TokensHandler) respond(w http.ResponseWriter, r *http.Request, token string, err error) {
	if err == nil {
		problem.WriteData(w, http.StatusOK, tokenResponse{Token: token})
		return
	}

	var tokenErr *auth.TokenError
	switch {
	case errors.Is(err, users.ErrSaltMissing):
		problem.Write(w, r, http.StatusInternalServerError, problem.SaltMissingMessage, err, h.env)
	case errors.As(err, &tokenErr) && tokenErr.Status == auth.TokenInvalid:
		problem.Write(w, r, http.StatusUnauthorized, tokenErr.Reason, err, h.env)
	case errors.As(err, &tokenErr):
		problem.Write(w, r, http.StatusUnauthorized, "Unable to decode token, try again later", err, h.env)
	case errors.Is(err, users.ErrTokenConflict):
		problem.Write(w, r, http.StatusConflict, "Token was changed by another request, try again", err, h.env)
	case errors.Is(err, users.ErrUserNotFound):
		problem.Write(w, r, http.StatusNotFound, "Current user no longer exists", err, h.env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, "", err, h.env)
	}
}
