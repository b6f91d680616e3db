package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenStatus classifies the outcome of decoding a user token.
type TokenStatus int

const (
	TokenValid TokenStatus = iota
	TokenExpired
	TokenInvalid
	TokenUnknown
)

func (s TokenStatus) String() string {
	switch s {
	case TokenValid:
		return "valid"
	case TokenExpired:
		return "expired"
	case TokenInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

const DefaultIssuer = "arisu"

var (
	ErrMissingToken = errors.New("missing token")
	ErrMissingSalt  = errors.New("salt is not configured")
	ErrEmptySubject = errors.New("token subject cannot be empty")
)

// TokenError reports a token that could not be accepted.
type TokenError struct {
	Status TokenStatus
	Reason string
}

func (e *TokenError) Error() string {
	if e.Reason == "" {
		return "token " + e.Status.String()
	}
	return "token " + e.Status.String() + ": " + e.Reason
}

// Decoded is the result of TokenIssuer.Decode. Subject is only set for valid
// tokens.
type Decoded struct {
	Subject string
	Status  TokenStatus
	Reason  string
}

// Err returns nil for a valid token and a *TokenError otherwise.
func (d Decoded) Err() error {
	if d.Status == TokenValid {
		return nil
	}
	return &TokenError{Status: d.Status, Reason: d.Reason}
}

type Claims struct {
	jwt.RegisteredClaims
}

// TokenIssuer issues and decodes per-user tokens. The HMAC key of a token is
// derived from the user's password hash and the server salt, so changing
// either revokes every token issued before.
type TokenIssuer struct {
	expiry time.Duration
	issuer string
	now    func() time.Time
}

type IssuerOption func(*TokenIssuer)

// WithTokenClock overrides time.Now for issuing and validating.
func WithTokenClock(now func() time.Time) IssuerOption {
	return func(i *TokenIssuer) {
		if now != nil {
			i.now = now
		}
	}
}

func NewTokenIssuer(expiry time.Duration, issuer string, opts ...IssuerOption) *TokenIssuer {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	i := &TokenIssuer{
		expiry: expiry,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue signs a token for username. Every call carries a fresh jti, so a
// token issued in the same second as the previous one still differs from it.
func (i *TokenIssuer) Issue(username, passwordHash, salt string) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", ErrEmptySubject
	}
	key, err := DeriveUserJWTKey(salt, passwordHash)
	if err != nil {
		return "", err
	}

	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

// Decode verifies token for username and classifies the result.
func (i *TokenIssuer) Decode(token, username, passwordHash, salt string) Decoded {
	if strings.TrimSpace(token) == "" {
		return Decoded{Status: TokenInvalid, Reason: ErrMissingToken.Error()}
	}
	key, err := DeriveUserJWTKey(salt, passwordHash)
	if err != nil {
		return Decoded{Status: TokenUnknown, Reason: err.Error()}
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithSubject(username),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Decoded{Status: TokenUnknown, Reason: "unexpected claims"}
	}
	return Decoded{Subject: claims.Subject, Status: TokenValid}
}

func classify(err error) Decoded {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Decoded{Status: TokenExpired, Reason: "token has expired"}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Decoded{Status: TokenUnknown, Reason: err.Error()}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenInvalidSubject),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return Decoded{Status: TokenInvalid, Reason: err.Error()}
	default:
		return Decoded{Status: TokenUnknown, Reason: err.Error()}
	}
}

func TokenFromHeader(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}

// UnverifiedSubject reads the sub claim without checking the signature. The
// result only selects whose key to verify with; it must never be trusted on
// its own.
func UnverifiedSubject(token string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", &TokenError{Status: TokenUnknown, Reason: "malformed token"}
	}
	if claims.Subject == "" {
		return "", ErrEmptySubject
	}
	return claims.Subject, nil
}
