package middleware

import (
	"net/http"

	"github.com/arisu-i18n/arisu/internal/api/problem"
	"github.com/gorilla/csrf"
)

// CSRFHeader is the request header carrying the token for unsafe methods.
const CSRFHeader = "X-CSRF-Token"

// CSRFProtection guards cookie-authenticated mutations with gorilla/csrf's
// double-submit token. Requests that did not arrive over TLS are marked as
// plaintext so the origin check matches the scheme actually in use. Requests
// carrying an Authorization header do not rely on ambient cookies and skip
// the check.
func CSRFProtection(authKey []byte, secure bool, env string) func(http.Handler) http.Handler {
	protect := csrf.Protect(authKey,
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.RequestHeader(CSRFHeader),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(w, r, http.StatusForbidden, "CSRF token validation failed", csrf.FailureReason(r), env)
		})),
	)

	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				next.ServeHTTP(w, r)
				return
			}
			if !IsSecureRequest(r) {
				r = csrf.PlaintextHTTPRequest(r)
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// CSRFToken returns the token clients must echo in CSRFHeader.
func CSRFToken(r *http.Request) string {
	return csrf.Token(r)
}
