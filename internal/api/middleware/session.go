package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/arisu-i18n/arisu/internal/api/problem"
	"github.com/arisu-i18n/arisu/internal/audit"
	"github.com/arisu-i18n/arisu/internal/auth"
	"github.com/arisu-i18n/arisu/internal/domain/users"
	"github.com/arisu-i18n/arisu/internal/sanitize"
	"github.com/arisu-i18n/arisu/internal/session"
	"github.com/rs/zerolog"
)

// SessionConfig configures SessionGate.
type SessionConfig struct {
	// CookieSecure forces the Secure attribute even on plain HTTP requests.
	CookieSecure   bool
	TrustedProxies []string
	Environment    string
}

// SessionGate resolves the session named by the current-session cookie, or
// creates an anonymous one, and stores its state in the request context.
// A Set-Cookie header is only sent when the outgoing session differs from
// the one the client presented.
func SessionGate(manager *session.Manager, signer *session.Signer, cfg SessionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var received string
			if cookie, err := r.Cookie(session.CookieName); err == nil {
				if id, ok := signer.Unsign(cookie.Value); ok {
					received = id
				}
			}

			clientIP := ClientIP(r, cfg.TrustedProxies)
			info := session.ClientInfo{Device: sanitize.Device(r.UserAgent()), RemoteAddress: clientIP}

			state, err := manager.Resolve(r.Context(), received, info)
			if err != nil {
				problem.Write(w, r, http.StatusInternalServerError, "Unable to load the current session", err, cfg.Environment)
				return
			}

			ctx := session.WithState(r.Context(), state)
			ctx = audit.WithRequest(ctx, clientIP, GetRequestID(r.Context()))
			if current := state.Session(); current != nil {
				logger := zerolog.Ctx(ctx).With().Str("session_id", current.ID).Logger()
				ctx = logger.WithContext(ctx)
			}

			cw := &cookieWriter{
				ResponseWriter: w,
				state:          state,
				manager:        manager,
				signer:         signer,
				secure:         cfg.CookieSecure || IsSecureRequest(r),
			}
			next.ServeHTTP(cw, r.WithContext(ctx))
			cw.writeCookie()
		})
	}
}

// cookieWriter emits the session cookie right before the response headers
// are flushed, so handlers that log in or out are reflected in the response.
type cookieWriter struct {
	http.ResponseWriter
	state   *session.State
	manager *session.Manager
	signer  *session.Signer
	secure  bool
	done    bool
}

func (w *cookieWriter) writeCookie() {
	if w.done {
		return
	}
	w.done = true

	switch {
	case w.state.Destroyed():
		http.SetCookie(w.ResponseWriter, &http.Cookie{
			Name:     session.CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   w.secure,
			SameSite: http.SameSiteLaxMode,
		})
	case w.state.Changed():
		current := w.state.Session()
		expires := w.manager.ExpiresAt(current)
		http.SetCookie(w.ResponseWriter, &http.Cookie{
			Name:     session.CookieName,
			Value:    w.signer.Sign(current.ID),
			Path:     "/",
			Expires:  expires.UTC(),
			MaxAge:   int(time.Until(expires).Seconds()),
			HttpOnly: true,
			Secure:   w.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (w *cookieWriter) WriteHeader(statusCode int) {
	w.writeCookie()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *cookieWriter) Write(p []byte) (int, error) {
	w.writeCookie()
	return w.ResponseWriter.Write(p)
}

func (w *cookieWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// UserResolver loads the user behind a session or a bearer token.
type UserResolver interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
	AuthenticateToken(ctx context.Context, token string) (*users.User, error)
}

type userContextKey struct{}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, user *users.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the user stored by RequireUser.
func UserFromContext(ctx context.Context) *users.User {
	user, _ := ctx.Value(userContextKey{}).(*users.User)
	return user
}

// RequireUser rejects requests that are neither bound to a logged-in session
// nor carry the user's current bearer token.
func RequireUser(resolver UserResolver, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if current := session.FromContext(ctx).Session(); current.Authenticated() {
				user, err := resolver.GetByID(ctx, current.UserID)
				switch {
				case err == nil:
					next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
					return
				case !errors.Is(err, users.ErrUserNotFound):
					problem.Write(w, r, http.StatusInternalServerError, "", err, env)
					return
				}
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				problem.Write(w, r, http.StatusUnauthorized, "You must be logged in to use this route", nil, env)
				return
			}
			token, err := auth.TokenFromHeader(header)
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, "Authorization header must use the Bearer scheme", nil, env)
				return
			}

			user, err := resolver.AuthenticateToken(ctx, token)
			if err != nil {
				writeTokenError(w, r, err, env)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
		})
	}
}

func writeTokenError(w http.ResponseWriter, r *http.Request, err error, env string) {
	var tokenErr *auth.TokenError
	switch {
	case errors.Is(err, users.ErrSaltMissing):
		problem.Write(w, r, http.StatusInternalServerError, problem.SaltMissingMessage, err, env)
	case errors.As(err, &tokenErr) && tokenErr.Status == auth.TokenInvalid:
		problem.Write(w, r, http.StatusUnauthorized, tokenErr.Reason, nil, env)
	case errors.As(err, &tokenErr), errors.Is(err, auth.ErrEmptySubject):
		problem.Write(w, r, http.StatusUnauthorized, "Unable to decode token, try again later", nil, env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, "", err, env)
	}
}
