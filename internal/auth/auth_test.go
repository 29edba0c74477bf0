package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"spendly/internal/memstore"
)

const testSecret = "test-secret-at-least-16-chars"

type fakeVerifier struct {
	profile GoogleProfile
	err     error
}

func (f fakeVerifier) Verify(_ context.Context, _, _ string) (GoogleProfile, error) {
	return f.profile, f.err
}

func newTestService(verifier GoogleVerifier) *Service {
	store := memstore.New()
	return NewService(store.Users(), testSecret, time.Hour, "client-id", verifier)
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user and returns token", func(t *testing.T) {
		svc := newTestService(nil)
		user, token, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1")
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if user.ID == "" {
			t.Error("user ID not assigned")
		}
		if user.Email != "ada@example.com" {
			t.Errorf("Email = %q", user.Email)
		}
		if user.PasswordHash == "" || user.PasswordHash == "secret1" {
			t.Error("password not hashed")
		}

		claims, err := ParseToken(testSecret, token)
		if err != nil {
			t.Fatalf("ParseToken() error = %v", err)
		}
		if claims.UserID != user.ID {
			t.Errorf("token UserID = %q, want %q", claims.UserID, user.ID)
		}
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name      string
			userName  string
			email     string
			password  string
			wantField string
		}{
			{"short name", "A", "a@example.com", "secret1", "name"},
			{"empty name", "", "a@example.com", "secret1", "name"},
			{"bad email", "Ada", "not-an-email", "secret1", "email"},
			{"email without domain", "Ada", "ada@", "secret1", "email"},
			{"short password", "Ada", "a@example.com", "12345", "password"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc := newTestService(nil)
				_, _, err := svc.Register(ctx, tt.userName, tt.email, tt.password)
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("Register() error = %v, want *ValidationError", err)
				}
				if verr.Field != tt.wantField {
					t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
				}
			})
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc := newTestService(nil)
		if _, _, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1"); err != nil {
			t.Fatal(err)
		}
		_, _, err := svc.Register(ctx, "Other", "ADA@example.com", "secret2")
		if !errors.Is(err, ErrEmailTaken) {
			t.Errorf("Register() duplicate error = %v, want ErrEmailTaken", err)
		}
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(nil)
	if _, _, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}

	t.Run("valid credentials", func(t *testing.T) {
		user, token, err := svc.Login(ctx, "ada@example.com", "secret1")
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if user.Email != "ada@example.com" || token == "" {
			t.Errorf("Login() = %+v, token %q", user, token)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, _, err := svc.Login(ctx, "ada@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		if _, _, err := svc.Login(ctx, "nobody@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
		}
	})
}

func TestService_GoogleLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user on first login", func(t *testing.T) {
		svc := newTestService(fakeVerifier{profile: GoogleProfile{
			Subject: "google-123",
			Email:   "ada@gmail.com",
			Name:    "Ada",
		}})

		user, token, err := svc.GoogleLogin(ctx, "id-token")
		if err != nil {
			t.Fatalf("GoogleLogin() error = %v", err)
		}
		if user.GoogleID != "google-123" || user.Email != "ada@gmail.com" || token == "" {
			t.Errorf("GoogleLogin() = %+v", user)
		}
	})

	t.Run("reuses existing user by email", func(t *testing.T) {
		svc := newTestService(fakeVerifier{profile: GoogleProfile{
			Subject: "google-123",
			Email:   "ada@example.com",
			Name:    "Ada",
		}})
		registered, _, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1")
		if err != nil {
			t.Fatal(err)
		}

		user, _, err := svc.GoogleLogin(ctx, "id-token")
		if err != nil {
			t.Fatalf("GoogleLogin() error = %v", err)
		}
		if user.ID != registered.ID {
			t.Errorf("GoogleLogin() created a new user %q, want existing %q", user.ID, registered.ID)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		svc := newTestService(fakeVerifier{err: errors.New("bad token")})
		if _, _, err := svc.GoogleLogin(ctx, "junk"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("GoogleLogin() error = %v, want ErrInvalidCredentials", err)
		}
	})
}

func TestGenerateParseToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", claims.UserID)
	}

	t.Run("wrong secret", func(t *testing.T) {
		if _, err := ParseToken("another-secret-16-chars-long", token); err == nil {
			t.Error("ParseToken() with wrong secret should fail")
		}
	})

	t.Run("expired token", func(t *testing.T) {
		expired, err := GenerateToken(testSecret, "user-1", -time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := ParseToken(testSecret, expired); err == nil {
			t.Error("ParseToken() with expired token should fail")
		}
	})
}

func TestMiddleware(t *testing.T) {
	handler := Middleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r.Context())
		if !ok {
			t.Error("user ID missing from context")
		}
		w.Write([]byte(userID))
	}))

	token, err := GenerateToken(testSecret, "user-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
		wantBody   string
	}{
		{"bearer token", "Authorization", "Bearer " + token, http.StatusOK, "user-1"},
		{"auth-token header", "auth-token", token, http.StatusOK, "user-1"},
		{"missing token", "", "", http.StatusUnauthorized, ""},
		{"malformed token", "Authorization", "Bearer junk", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/balance", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}
