// Package session implements server-side sessions referenced by a signed
// opaque id carried in the current-session cookie.
package session

import (
	"time"
)

// CookieName is the cookie carrying the signed session id.
const CookieName = "current-session"

// DefaultTTL is how long a session lives after it was started (7 days).
const DefaultTTL = 604800000 * time.Millisecond

// Session is the server-side record for one client. UserID is empty until the
// client logs in.
type Session struct {
	ID            string    `json:"session_id"`
	UserID        string    `json:"user_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	Device        string    `json:"device,omitempty"`
	RemoteAddress string    `json:"remote_address,omitempty"`
}

// ExpiresAt reports when the session stops being valid for the given TTL.
func (s *Session) ExpiresAt(ttl time.Duration) time.Time {
	return s.StartedAt.Add(ttl)
}

// Expired reports whether the session is no longer valid at now. A session is
// expired from the instant StartedAt+ttl is reached.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return !now.Before(s.ExpiresAt(ttl))
}

// Authenticated reports whether a user is bound to the session.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

// ClientInfo describes the client a new session is created for.
type ClientInfo struct {
	Device        string
	RemoteAddress string
}
