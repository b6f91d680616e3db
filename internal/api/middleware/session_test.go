package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arisu-i18n/arisu/internal/auth"
	"github.com/arisu-i18n/arisu/internal/domain/ids"
	"github.com/arisu-i18n/arisu/internal/domain/users"
	"github.com/arisu-i18n/arisu/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateFixture struct {
	store   *session.MemoryStore
	manager *session.Manager
	signer  *session.Signer
}

func newGateFixture(t *testing.T) gateFixture {
	t.Helper()
	store := session.NewMemoryStore()
	signer, err := session.NewSigner("test-session-secret")
	require.NoError(t, err)
	return gateFixture{
		store:   store,
		manager: session.NewManager(store, ids.NewGenerator(), zerolog.Nop(), session.WithStoreTimeout(time.Second)),
		signer:  signer,
	}
}

func (f gateFixture) gate(next http.Handler) http.Handler {
	return SessionGate(f.manager, f.signer, SessionConfig{Environment: "test"})(next)
}

func sessionCookie(t *testing.T, res *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range res.Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	return nil
}

func TestSessionGate_CreatesSessionWithoutCookie(t *testing.T) {
	f := newGateFixture(t)
	var seen *session.Session
	handler := f.gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = session.FromContext(r.Context()).Session()
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users/@me", nil)
	req.Header.Set("User-Agent", "arisu-test/1.0")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	assert.Equal(t, "arisu-test/1.0", seen.Device)
	assert.Equal(t, "192.0.2.1", seen.RemoteAddress)
	assert.False(t, seen.Authenticated())

	cookie := sessionCookie(t, rec.Result())
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.False(t, cookie.Secure)

	id, ok := f.signer.Unsign(cookie.Value)
	require.True(t, ok)
	assert.Equal(t, seen.ID, id)
	assert.Equal(t, 1, f.store.Len())
}

func TestSessionGate_ReusesSignedCookieWithoutResending(t *testing.T) {
	f := newGateFixture(t)
	existing, err := f.manager.Create(context.Background(), session.ClientInfo{Device: "ua"})
	require.NoError(t, err)

	var seen *session.Session
	handler := f.gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = session.FromContext(r.Context()).Session()
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users/@me", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: f.signer.Sign(existing.ID)})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	assert.Equal(t, existing.ID, seen.ID)
	assert.Nil(t, sessionCookie(t, rec.Result()))
	assert.Equal(t, 1, f.store.Len())
}

func TestSessionGate_TamperedCookieStartsNewSession(t *testing.T) {
	f := newGateFixture(t)
	existing, err := f.manager.Create(context.Background(), session.ClientInfo{})
	require.NoError(t, err)

	signed := f.signer.Sign(existing.ID)
	tampered := []byte(signed)
	if tampered[len(tampered)-1] == 'A' {
		tampered[len(tampered)-1] = 'B'
	} else {
		tampered[len(tampered)-1] = 'A'
	}

	var seen *session.Session
	handler := f.gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = session.FromContext(r.Context()).Session()
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: string(tampered)})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	assert.NotEqual(t, existing.ID, seen.ID)
	require.NotNil(t, sessionCookie(t, rec.Result()))
}

func TestSessionGate_LoginResendsCookie(t *testing.T) {
	f := newGateFixture(t)
	existing, err := f.manager.Create(context.Background(), session.ClientInfo{})
	require.NoError(t, err)

	handler := f.gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, f.manager.Login(r.Context(), session.FromContext(r.Context()), "user-1"))
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/login", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: f.signer.Sign(existing.ID)})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	cookie := sessionCookie(t, rec.Result())
	require.NotNil(t, cookie)
	id, ok := f.signer.Unsign(cookie.Value)
	require.True(t, ok)
	assert.NotEqual(t, existing.ID, id)

	bound, err := f.manager.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "user-1", bound.UserID)
}

func TestSessionGate_LogoutClearsCookie(t *testing.T) {
	f := newGateFixture(t)
	existing, err := f.manager.Create(context.Background(), session.ClientInfo{})
	require.NoError(t, err)

	handler := f.gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, f.manager.Logout(r.Context(), session.FromContext(r.Context())))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/logout", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: f.signer.Sign(existing.ID)})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	cookie := sessionCookie(t, rec.Result())
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Equal(t, -1, cookie.MaxAge)
	assert.Equal(t, 0, f.store.Len())
}

func TestSessionGate_SecureBehindTLSProxy(t *testing.T) {
	f := newGateFixture(t)
	handler := f.gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	cookie := sessionCookie(t, rec.Result())
	require.NotNil(t, cookie)
	assert.True(t, cookie.Secure)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*session.Session, error) {
	return nil, session.ErrStoreUnavailable
}

func (failingStore) Create(context.Context, *session.Session) error {
	return session.ErrStoreUnavailable
}

func (failingStore) Delete(context.Context, string) error {
	return session.ErrStoreUnavailable
}

func TestSessionGate_StoreFailure(t *testing.T) {
	signer, err := session.NewSigner("secret")
	require.NoError(t, err)
	manager := session.NewManager(failingStore{}, ids.NewGenerator(), zerolog.Nop())

	called := false
	handler := SessionGate(manager, signer, SessionConfig{Environment: "production"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"statusCode":500,"message":"Unable to load the current session"}`, rec.Body.String())
}

type stubResolver struct {
	byID    map[string]*users.User
	byToken map[string]*users.User
	err     error
}

func (s stubResolver) GetByID(_ context.Context, id string) (*users.User, error) {
	if user, ok := s.byID[id]; ok {
		return user, nil
	}
	return nil, users.ErrUserNotFound
}

func (s stubResolver) AuthenticateToken(_ context.Context, token string) (*users.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if user, ok := s.byToken[token]; ok {
		return user, nil
	}
	return nil, &auth.TokenError{Status: auth.TokenInvalid, Reason: "token was revoked"}
}

func requireUserRequest(st *session.State, header string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/users/@me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	return req.WithContext(session.WithState(req.Context(), st))
}

func TestRequireUser(t *testing.T) {
	alice := &users.User{ID: "user-1", Username: "alice"}
	resolver := stubResolver{
		byID:    map[string]*users.User{"user-1": alice},
		byToken: map[string]*users.User{"good-token": alice},
	}
	anonymous := session.NewState(&session.Session{ID: "s1"}, "s1")
	loggedIn := session.NewState(&session.Session{ID: "s2", UserID: "user-1"}, "s2")
	orphaned := session.NewState(&session.Session{ID: "s3", UserID: "deleted"}, "s3")

	tests := []struct {
		name   string
		state  *session.State
		header string
		status int
	}{
		{"anonymous session", anonymous, "", http.StatusUnauthorized},
		{"logged in session", loggedIn, "", http.StatusOK},
		{"session of deleted user", orphaned, "", http.StatusUnauthorized},
		{"bearer token", anonymous, "Bearer good-token", http.StatusOK},
		{"revoked bearer token", anonymous, "Bearer stale-token", http.StatusUnauthorized},
		{"wrong scheme", anonymous, "Basic abc", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *users.User
			handler := RequireUser(resolver, "test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = UserFromContext(r.Context())
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, requireUserRequest(tt.state, tt.header))

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				require.NotNil(t, got)
				assert.Equal(t, "alice", got.Username)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestRequireUser_TokenErrors(t *testing.T) {
	anonymous := session.NewState(&session.Session{ID: "s1"}, "s1")
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"salt missing", users.ErrSaltMissing, http.StatusInternalServerError, "Administrators haven't set a salt token, please contact them!"},
		{"invalid", &auth.TokenError{Status: auth.TokenInvalid, Reason: "signature is invalid"}, http.StatusUnauthorized, "signature is invalid"},
		{"unknown", &auth.TokenError{Status: auth.TokenUnknown, Reason: "malformed token"}, http.StatusUnauthorized, "Unable to decode token, try again later"},
		{"store", errors.New("boom"), http.StatusInternalServerError, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireUser(stubResolver{err: tt.err}, "test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, requireUserRequest(anonymous, "Bearer anything"))

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.message)
		})
	}
}
