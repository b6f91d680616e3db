package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/arisu-i18n/arisu/internal/auth"
	"github.com/arisu-i18n/arisu/internal/metrics"
)

const maxTokenSwaps = 3

// Token returns the user's cached token, issuing a fresh one when none is
// cached or the cached one has expired. Concurrent calls for the same user
// share one issuance, and the value returned is always the persisted one.
func (s *Service) Token(ctx context.Context, userID string) (string, error) {
	if s.salt == "" {
		return "", ErrSaltMissing
	}
	return s.shared(ctx, "token:"+userID, func(ctx context.Context) (string, error) {
		return s.currentToken(ctx, userID)
	})
}

// GenerateToken always issues a new token, replacing the cached one.
func (s *Service) GenerateToken(ctx context.Context, userID string) (string, error) {
	if s.salt == "" {
		return "", ErrSaltMissing
	}
	return s.shared(ctx, "generate:"+userID, func(ctx context.Context) (string, error) {
		user, err := s.repo.GetByID(ctx, userID)
		if err != nil {
			return "", err
		}
		return s.rotate(ctx, user, user.JWT, "generate")
	})
}

// shared runs fn once for every concurrent caller using key. fn gets a
// context detached from the caller that started it and bounded by the token
// timeout, so one caller going away does not fail the others. Each caller
// still returns as soon as its own ctx is done.
func (s *Service) shared(ctx context.Context, key string, fn func(context.Context) (string, error)) (string, error) {
	ch := s.flights.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flightTTL)
		defer cancel()
		return fn(flightCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *Service) currentToken(ctx context.Context, userID string) (string, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.JWT == "" {
		return s.rotate(ctx, user, "", "missing")
	}

	decoded := s.tokens.Decode(user.JWT, user.Username, user.PasswordHash, s.salt)
	metrics.JWTDecoded.WithLabelValues(decoded.Status.String()).Inc()

	switch decoded.Status {
	case auth.TokenValid:
		return user.JWT, nil
	case auth.TokenExpired:
		return s.rotate(ctx, user, user.JWT, "expired")
	default:
		s.logger.Debug().
			Str("user_id", user.ID).
			Str("status", decoded.Status.String()).
			Str("reason", decoded.Reason).
			Msg("cached token rejected")
		return "", decoded.Err()
	}
}

// rotate issues a token and swaps it in for expected. When another writer
// got there first, the winner's token is returned instead.
func (s *Service) rotate(ctx context.Context, user *User, expected, reason string) (string, error) {
	for attempt := 0; attempt < maxTokenSwaps; attempt++ {
		next, err := s.tokens.Issue(user.Username, user.PasswordHash, s.salt)
		if err != nil {
			return "", fmt.Errorf("issue token: %w", err)
		}

		stored, err := s.repo.CompareAndSwapToken(ctx, user.ID, expected, next)
		if err != nil {
			return "", fmt.Errorf("persist token: %w", err)
		}
		if stored == next {
			metrics.JWTIssued.WithLabelValues(reason).Inc()
			s.logger.Debug().Str("user_id", user.ID).Str("reason", reason).Msg("token issued")
			return stored, nil
		}
		if stored != "" {
			return stored, nil
		}

		// The cached token was cleared underneath us, most likely by a
		// username change, so the token must be reissued for the new row.
		if user, err = s.repo.GetByID(ctx, user.ID); err != nil {
			return "", err
		}
		expected = ""
	}
	return "", ErrTokenConflict
}

// AuthenticateToken resolves the user a bearer token was issued to. Only the
// user's currently cached token is accepted, so generating a new one revokes
// the previous.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (*User, error) {
	if s.salt == "" {
		return nil, ErrSaltMissing
	}
	subject, err := auth.UnverifiedSubject(token)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, &auth.TokenError{Status: auth.TokenInvalid, Reason: "unknown subject"}
		}
		return nil, err
	}

	decoded := s.tokens.Decode(token, user.Username, user.PasswordHash, s.salt)
	metrics.JWTDecoded.WithLabelValues(decoded.Status.String()).Inc()
	if err := decoded.Err(); err != nil {
		return nil, err
	}
	if user.JWT != token {
		return nil, &auth.TokenError{Status: auth.TokenInvalid, Reason: "token was revoked"}
	}
	return user, nil
}
