package api

import (
	"net/http"

	"github.com/arisu-i18n/arisu/internal/api/handlers"
	"github.com/arisu-i18n/arisu/internal/api/middleware"
	"github.com/arisu-i18n/arisu/internal/auth"
	"github.com/arisu-i18n/arisu/internal/config"
	"github.com/arisu-i18n/arisu/internal/domain/users"
	"github.com/arisu-i18n/arisu/internal/metrics"
	"github.com/arisu-i18n/arisu/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const csrfKeyPurpose = "arisu-csrf-v1"

// Deps are the services the HTTP layer is built from.
type Deps struct {
	Config   config.Config
	Logger   zerolog.Logger
	Users    *users.Service
	Sessions *session.Manager
	Signer   *session.Signer
	// Checks are pinged by /readyz, keyed by the name reported in the body.
	Checks map[string]handlers.Pinger

	Version   string
	GitCommit string
	BuildDate string
}

// NewRouter builds the HTTP handler. The returned function releases
// background resources held by the middleware.
func NewRouter(deps Deps) (http.Handler, func(), error) {
	cfg := deps.Config
	env := cfg.Environment

	usersHandler := handlers.NewUsersHandler(deps.Users, deps.Sessions, env)
	tokensHandler := handlers.NewTokensHandler(deps.Users, env)
	sessionsHandler := handlers.NewSessionsHandler(deps.Users, deps.Sessions, env)
	health := handlers.NewHealthChecker(deps.Checks, deps.Version, deps.GitCommit)

	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.Server.TrustedProxies, env)
	requireUser := middleware.RequireUser(deps.Users, env)
	authed := func(h http.HandlerFunc) http.Handler {
		return requireUser(h)
	}

	app := http.NewServeMux()
	app.Handle("PUT /api/users", http.HandlerFunc(usersHandler.Create))
	app.Handle("GET /api/users/{username}", http.HandlerFunc(usersHandler.Get))
	app.Handle("GET /api/users/@me", authed(usersHandler.Me))
	app.Handle("PATCH /api/users/@me", authed(usersHandler.UpdateMe))
	app.Handle("DELETE /api/users/@me", authed(usersHandler.DeleteMe))
	app.Handle("GET /api/users/@me/projects", authed(usersHandler.Projects))
	app.Handle("GET /api/users/@me/organisations", authed(usersHandler.Organisations))
	app.Handle("GET /api/users/@me/jwt", authed(tokensHandler.Get))
	app.Handle("POST /api/users/@me/jwt/generate", authed(tokensHandler.Generate))
	app.Handle("POST /api/sessions/login", limiter.Limit(middleware.TierLogin)(http.HandlerFunc(sessionsHandler.Login)))
	app.Handle("POST /api/sessions/logout", http.HandlerFunc(sessionsHandler.Logout))
	if cfg.DiagnosticsEnabled() {
		app.Handle("GET /sessions/{id}", http.HandlerFunc(sessionsHandler.Get))
	}

	var appHandler http.Handler = metrics.HTTPMiddleware(app)
	if cfg.Auth.CSRFEnabled {
		key, err := auth.DeriveKey([]byte(cfg.Session.Secret), csrfKeyPurpose)
		if err != nil {
			limiter.Stop()
			return nil, nil, err
		}
		app.Handle("GET /api/sessions/csrf", http.HandlerFunc(sessionsHandler.CSRFToken))
		appHandler = middleware.CSRFProtection(key, cfg.Session.CookieSecure, env)(appHandler)
	}
	appHandler = middleware.SessionGate(deps.Sessions, deps.Signer, middleware.SessionConfig{
		CookieSecure:   cfg.Session.CookieSecure,
		TrustedProxies: cfg.Server.TrustedProxies,
		Environment:    env,
	})(appHandler)
	appHandler = limiter.Limit(middleware.TierPublic)(appHandler)

	// Probes and scrapes bypass sessions and rate limiting.
	root := http.NewServeMux()
	root.Handle("GET /healthz", health.Healthz())
	root.Handle("GET /readyz", health.Readyz())
	root.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	root.Handle("GET /version", VersionHandler(deps.Version, deps.GitCommit, deps.BuildDate))
	root.Handle("/", appHandler)

	var handler http.Handler = root
	handler = middleware.SecurityHeaders(cfg.IsProduction())(handler)
	handler = middleware.RequestLogging()(handler)
	handler = middleware.Tracing(handler)
	handler = middleware.CorrelationID(deps.Logger)(handler)
	return handler, limiter.Stop, nil
}
