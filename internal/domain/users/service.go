package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/arisu-i18n/arisu/internal/audit"
	"github.com/arisu-i18n/arisu/internal/auth"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// IDSource mints user ids.
type IDSource interface {
	New() (string, error)
}

// DefaultTokenTimeout bounds a shared token read or rotation.
const DefaultTokenTimeout = 5 * time.Second

type Options struct {
	// Salt is the server-wide token salt; empty disables token routes.
	Salt       string
	BcryptCost int
	// TokenTimeout bounds the store work behind Token and GenerateToken. It is
	// independent of any single caller, since callers share that work.
	TokenTimeout time.Duration
}

// Service handles user management and token issuance.
type Service struct {
	repo        Repository
	tokens      *auth.TokenIssuer
	ids         IDSource
	salt        string
	bcryptCost  int
	validate    *validator.Validate
	auditLogger *audit.Logger
	logger      zerolog.Logger
	flights     singleflight.Group
	flightTTL   time.Duration
	now         func() time.Time
}

func NewService(repo Repository, tokens *auth.TokenIssuer, ids IDSource, opts Options, auditLogger *audit.Logger, logger zerolog.Logger) *Service {
	if opts.TokenTimeout <= 0 {
		opts.TokenTimeout = DefaultTokenTimeout
	}
	return &Service{
		repo:        repo,
		tokens:      tokens,
		ids:         ids,
		salt:        opts.Salt,
		bcryptCost:  opts.BcryptCost,
		validate:    newValidator(),
		auditLogger: auditLogger,
		logger:      logger.With().Str("component", "users").Logger(),
		flightTTL:   opts.TokenTimeout,
		now:         time.Now,
	}
}

// CreateParams contains parameters for creating a new user
type CreateParams struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{2,32}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidationError names the first field that failed validation.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%q failed validation (%s)", e.Field, e.Rule)
}

func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &ValidationError{Field: strings.ToLower(fieldErrs[0].Field()), Rule: fieldErrs[0].Tag()}
	}
	return err
}

// Create registers a new user. Username and email uniqueness is checked first
// and enforced again by the repository.
func (s *Service) Create(ctx context.Context, params CreateParams) (*User, error) {
	params.Username = strings.TrimSpace(params.Username)
	params.Email = strings.TrimSpace(params.Email)
	if err := s.validateStruct(params); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByUsername(ctx, params.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if _, err := s.repo.GetByEmail(ctx, params.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	hash, err := auth.HashPassword(params.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	id, err := s.ids.New()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	now := s.now().UTC()
	user := &User{
		ID:           id,
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.auditLogger.LogSuccess(ctx, "user.created", user.Username, "user", user.ID, nil)
	return user, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.repo.GetByUsername(ctx, username)
}

// Authenticate checks a username and password pair. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrUserNotFound) {
		s.auditLogger.LogFailure(ctx, "session.login", username, map[string]string{"reason": "unknown user"})
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.auditLogger.LogFailure(ctx, "session.login", username, map[string]string{"reason": "password mismatch"})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return user, nil
}

// UpdateSelf applies the self-service patch for id.
func (s *Service) UpdateSelf(ctx context.Context, id string, patch Patch) (*User, error) {
	if patch.Username != nil {
		name := strings.TrimSpace(*patch.Username)
		if err := s.validate.Var(name, "required,username"); err != nil {
			return nil, &ValidationError{Field: "username", Rule: "username"}
		}
		existing, err := s.repo.GetByUsername(ctx, name)
		switch {
		case err == nil && existing.ID != id:
			return nil, ErrUsernameTaken
		case err != nil && !errors.Is(err, ErrUserNotFound):
			return nil, fmt.Errorf("check username: %w", err)
		}
		patch.Username = &name
	}

	user, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.auditLogger.LogSuccess(ctx, "user.updated", user.Username, "user", user.ID, nil)
	return user, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.auditLogger.LogSuccess(ctx, "user.deleted", "", "user", id, nil)
	return nil
}

func (s *Service) ListProjects(ctx context.Context, ownerID string) ([]Project, error) {
	return s.repo.ListProjects(ctx, ownerID)
}

func (s *Service) ListOrganisations(ctx context.Context, ownerID string) ([]Organisation, error) {
	return s.repo.ListOrganisations(ctx, ownerID)
}
