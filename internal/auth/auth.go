// Package auth implements user registration, password and Google sign-in,
// and the JWT plumbing that guards the ledger endpoints.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/idtoken"

	"spendly/internal/core"
	applog "spendly/internal/log"
)

const bcryptCost = 10

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var (
	// ErrEmailTaken means registration hit an already registered email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError reports a rejected registration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// UserStore is the persistence port for accounts.
type UserStore interface {
	Create(ctx context.Context, user core.User) error
	FindByEmail(ctx context.Context, email string) (core.User, error)
	FindByID(ctx context.Context, id string) (core.User, error)
}

// GoogleProfile is the subset of a verified Google ID token we care about.
type GoogleProfile struct {
	Subject string
	Email   string
	Name    string
}

// GoogleVerifier validates a Google ID token against an OAuth client ID.
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken, audience string) (GoogleProfile, error)
}

// IDTokenVerifier verifies tokens against Google's public keys.
type IDTokenVerifier struct{}

func (IDTokenVerifier) Verify(ctx context.Context, token, audience string) (GoogleProfile, error) {
	payload, err := idtoken.Validate(ctx, token, audience)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("validate google id token: %w", err)
	}
	profile := GoogleProfile{Subject: payload.Subject}
	if email, ok := payload.Claims["email"].(string); ok {
		profile.Email = email
	}
	if name, ok := payload.Claims["name"].(string); ok {
		profile.Name = name
	}
	return profile, nil
}

type Service struct {
	users          UserStore
	jwtSecret      string
	tokenTTL       time.Duration
	googleClientID string
	verifier       GoogleVerifier
}

// NewService wires the auth service. A nil verifier defaults to verifying
// against Google's public keys.
func NewService(users UserStore, jwtSecret string, tokenTTL time.Duration, googleClientID string, verifier GoogleVerifier) *Service {
	if verifier == nil {
		verifier = IDTokenVerifier{}
	}
	return &Service{
		users:          users,
		jwtSecret:      jwtSecret,
		tokenTTL:       tokenTTL,
		googleClientID: googleClientID,
		verifier:       verifier,
	}
}

// Register creates an account and returns the user with a signed token.
func (s *Service) Register(ctx context.Context, name, email, password string) (core.User, string, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if len(name) < 2 {
		return core.User{}, "", &ValidationError{Field: "name", Message: "must be at least 2 characters"}
	}
	if !emailRe.MatchString(email) {
		return core.User{}, "", &ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	if len(password) < 6 {
		return core.User{}, "", &ValidationError{Field: "password", Message: "must be at least 6 characters"}
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return core.User{}, "", ErrEmailTaken
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.User{}, "", fmt.Errorf("check existing email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return core.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	user := core.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return core.User{}, "", ErrEmailTaken
		}
		return core.User{}, "", fmt.Errorf("create user: %w", err)
	}

	token, err := GenerateToken(s.jwtSecret, user.ID, s.tokenTTL)
	if err != nil {
		return core.User{}, "", fmt.Errorf("sign token: %w", err)
	}

	slog.InfoContext(ctx, "User registered",
		applog.FieldComponent, applog.ComponentAuth,
		applog.FieldUserID, user.ID)
	return user, token, nil
}

// Login verifies the password and returns the user with a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (core.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, core.ErrNotFound) {
		return core.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return core.User{}, "", fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return core.User{}, "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtSecret, user.ID, s.tokenTTL)
	if err != nil {
		return core.User{}, "", fmt.Errorf("sign token: %w", err)
	}
	return user, token, nil
}

// GoogleLogin verifies a Google ID token, creating the account on first
// sign-in, and returns the user with a signed token.
func (s *Service) GoogleLogin(ctx context.Context, googleToken string) (core.User, string, error) {
	profile, err := s.verifier.Verify(ctx, googleToken, s.googleClientID)
	if err != nil {
		return core.User{}, "", fmt.Errorf("%w: %s", ErrInvalidCredentials, err)
	}
	if profile.Email == "" {
		return core.User{}, "", fmt.Errorf("%w: token has no email", ErrInvalidCredentials)
	}

	email := strings.ToLower(profile.Email)
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, core.ErrNotFound) {
		user = core.User{
			ID:        uuid.NewString(),
			Name:      profile.Name,
			Email:     email,
			GoogleID:  profile.Subject,
			CreatedAt: time.Now().UTC(),
		}
		if user.Name == "" {
			user.Name = email
		}
		if err := s.users.Create(ctx, user); err != nil {
			return core.User{}, "", fmt.Errorf("create google user: %w", err)
		}
		slog.InfoContext(ctx, "User registered via Google",
			applog.FieldComponent, applog.ComponentAuth,
			applog.FieldUserID, user.ID)
	} else if err != nil {
		return core.User{}, "", fmt.Errorf("find user: %w", err)
	}

	token, err := GenerateToken(s.jwtSecret, user.ID, s.tokenTTL)
	if err != nil {
		return core.User{}, "", fmt.Errorf("sign token: %w", err)
	}
	return user, token, nil
}

// Me resolves the authenticated user's profile.
func (s *Service) Me(ctx context.Context, userID string) (core.User, error) {
	return s.users.FindByID(ctx, userID)
}
