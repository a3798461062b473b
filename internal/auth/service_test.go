package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/supabase"
)

// --- モック定義 ---

type mockBackend struct {
	signInFn  func(ctx context.Context, email, password string) (*supabase.AuthResponse, error)
	signUpFn  func(ctx context.Context, email, password string, metadata map[string]any) (*supabase.AuthResponse, error)
	getUserFn func(ctx context.Context, accessToken string) (*supabase.User, error)
	signOutFn func(ctx context.Context, accessToken string) error

	calls int
}

func (m *mockBackend) SignInWithPassword(ctx context.Context, email, password string) (*supabase.AuthResponse, error) {
	m.calls++
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockBackend) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*supabase.AuthResponse, error) {
	m.calls++
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, metadata)
	}
	return &supabase.AuthResponse{}, nil
}

func (m *mockBackend) GetUser(ctx context.Context, accessToken string) (*supabase.User, error) {
	m.calls++
	if m.getUserFn != nil {
		return m.getUserFn(ctx, accessToken)
	}
	return nil, nil
}

func (m *mockBackend) SignOut(ctx context.Context, accessToken string) error {
	m.calls++
	if m.signOutFn != nil {
		return m.signOutFn(ctx, accessToken)
	}
	return nil
}

type mockRecorder struct {
	outcomes []string
}

func (m *mockRecorder) RecordAuthOutcome(op, code string) {
	m.outcomes = append(m.outcomes, op+":"+code)
}
func (m *mockRecorder) RecordGatewayDecision(string)               {}
func (m *mockRecorder) RecordBackendLatency(string, time.Duration) {}
func (m *mockRecorder) RecordHTTPStatus(int)                       {}
func (m *mockRecorder) RecordBlogFetch(bool)                       {}
func (m *mockRecorder) RecordContactsPurged(int)                   {}

func sessionResponse() *supabase.AuthResponse {
	return &supabase.AuthResponse{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresIn:    3600,
		User: &supabase.User{
			ID:           "user-1",
			Email:        "a@b.com",
			UserMetadata: map[string]any{"name": "山田太郎"},
		},
	}
}

func asAuthError(t *testing.T, err error) *model.AuthError {
	t.Helper()
	var authErr *model.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *model.AuthError, got %T (%v)", err, err)
	}
	return authErr
}

// --- Login ---

func TestLogin_Success_ReturnsSessionAndUser(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	backend := &mockBackend{
		signInFn: func(_ context.Context, email, password string) (*supabase.AuthResponse, error) {
			if email != "a@b.com" || password != "password123" {
				t.Errorf("unexpected credentials: %s / %s", email, password)
			}
			return sessionResponse(), nil
		},
	}
	rec := &mockRecorder{}
	svc := NewService(backend, rec)
	svc.now = func() time.Time { return now }

	session, user, err := svc.Login(context.Background(), model.Credentials{Email: " a@b.com ", Password: "password123"})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if session.UserID != "user-1" || session.AccessToken != "access" {
		t.Errorf("unexpected session: %+v", session)
	}
	if !session.IssuedAt.Equal(now) {
		t.Errorf("IssuedAt = %v, want %v", session.IssuedAt, now)
	}
	if !session.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, now.Add(time.Hour))
	}
	if user.DisplayName != "山田太郎" {
		t.Errorf("DisplayName = %q, want 山田太郎", user.DisplayName)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != "login:success" {
		t.Errorf("outcomes = %v", rec.outcomes)
	}
}

func TestLogin_MissingFields_DetailsMarkExactlyMissing(t *testing.T) {
	tests := []struct {
		name    string
		creds   model.Credentials
		missing []string
	}{
		{"email missing", model.Credentials{Password: "password123"}, []string{"email"}},
		{"password missing", model.Credentials{Email: "a@b.com"}, []string{"password"}},
		{"both missing", model.Credentials{}, []string{"email", "password"}},
		{"whitespace email", model.Credentials{Email: "   ", Password: "short"}, []string{"email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{}
			svc := NewService(backend, nil)

			_, _, err := svc.Login(context.Background(), tt.creds)
			authErr := asAuthError(t, err)

			if authErr.HTTPStatus != http.StatusBadRequest {
				t.Errorf("HTTPStatus = %d, want 400", authErr.HTTPStatus)
			}
			if len(authErr.Details) != len(tt.missing) {
				t.Errorf("details = %v, want exactly %v", authErr.Details, tt.missing)
			}
			for _, field := range tt.missing {
				if _, ok := authErr.Details[field]; !ok {
					t.Errorf("details should mark %q: %v", field, authErr.Details)
				}
			}
			if backend.calls != 0 {
				t.Errorf("backend must not be called, got %d calls", backend.calls)
			}
		})
	}
}

func TestLogin_ShortPassword_MentionsLength(t *testing.T) {
	backend := &mockBackend{}
	svc := NewService(backend, nil)

	_, _, err := svc.Login(context.Background(), model.Credentials{Email: "a@b.com", Password: "short"})
	authErr := asAuthError(t, err)

	if authErr.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want 400", authErr.HTTPStatus)
	}
	if !strings.Contains(authErr.Message, "8文字以上") {
		t.Errorf("message should mention password length: %q", authErr.Message)
	}
	if backend.calls != 0 {
		t.Errorf("backend must not be called, got %d calls", backend.calls)
	}
}

func TestLogin_BackendRateLimited(t *testing.T) {
	backend := &mockBackend{
		signInFn: func(context.Context, string, string) (*supabase.AuthResponse, error) {
			return nil, &supabase.Error{Status: http.StatusTooManyRequests, Message: "Too many requests"}
		},
	}
	svc := NewService(backend, nil)

	_, _, err := svc.Login(context.Background(), model.Credentials{Email: "a@b.com", Password: "password123"})
	authErr := asAuthError(t, err)

	if authErr.HTTPStatus != http.StatusTooManyRequests {
		t.Errorf("HTTPStatus = %d, want 429", authErr.HTTPStatus)
	}
	if authErr.RetryAfterSeconds != 60 {
		t.Errorf("RetryAfterSeconds = %d, want 60", authErr.RetryAfterSeconds)
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want exactly 1", backend.calls)
	}
}

func TestLogin_NoSessionInResponse_IsUnavailable(t *testing.T) {
	backend := &mockBackend{
		signInFn: func(context.Context, string, string) (*supabase.AuthResponse, error) {
			return &supabase.AuthResponse{}, nil
		},
	}
	svc := NewService(backend, nil)

	_, _, err := svc.Login(context.Background(), model.Credentials{Email: "a@b.com", Password: "password123"})
	authErr := asAuthError(t, err)
	if authErr.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus = %d, want 503", authErr.HTTPStatus)
	}
}

// --- Register ---

func TestRegister_ShortPassword_NeverCallsBackend(t *testing.T) {
	for _, pw := range []string{"a", "short", "1234567", "パスワード"} {
		backend := &mockBackend{}
		svc := NewService(backend, nil)

		_, _, err := svc.Register(context.Background(), model.Credentials{Email: "a@b.com", Password: pw}, "花子")
		authErr := asAuthError(t, err)
		if authErr.HTTPStatus != http.StatusBadRequest {
			t.Errorf("password %q: HTTPStatus = %d, want 400", pw, authErr.HTTPStatus)
		}
		if backend.calls != 0 {
			t.Errorf("password %q: backend calls = %d, want 0", pw, backend.calls)
		}
	}
}

func TestRegister_PassesNameAsMetadata(t *testing.T) {
	var gotMeta map[string]any
	backend := &mockBackend{
		signUpFn: func(_ context.Context, _, _ string, metadata map[string]any) (*supabase.AuthResponse, error) {
			gotMeta = metadata
			return sessionResponse(), nil
		},
	}
	svc := NewService(backend, nil)

	session, user, err := svc.Register(context.Background(), model.Credentials{Email: "a@b.com", Password: "password123"}, " 山田太郎 ")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if gotMeta["name"] != "山田太郎" {
		t.Errorf("metadata name = %v, want 山田太郎", gotMeta["name"])
	}
	if session == nil || user == nil {
		t.Fatal("expected session and user")
	}
}

func TestRegister_ConfirmationPending_NilSession(t *testing.T) {
	backend := &mockBackend{
		signUpFn: func(context.Context, string, string, map[string]any) (*supabase.AuthResponse, error) {
			return &supabase.AuthResponse{User: &supabase.User{ID: "user-2", Email: "new@b.com"}}, nil
		},
	}
	svc := NewService(backend, nil)

	session, user, err := svc.Register(context.Background(), model.Credentials{Email: "new@b.com", Password: "password123"}, "")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if session != nil {
		t.Errorf("expected nil session, got %+v", session)
	}
	if user == nil || user.ID != "user-2" {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestRegister_AlreadyRegistered_Conflict(t *testing.T) {
	backend := &mockBackend{
		signUpFn: func(context.Context, string, string, map[string]any) (*supabase.AuthResponse, error) {
			return nil, &supabase.Error{Status: http.StatusUnprocessableEntity, Code: "user_already_exists", Message: "User already registered"}
		},
	}
	rec := &mockRecorder{}
	svc := NewService(backend, rec)

	_, _, err := svc.Register(context.Background(), model.Credentials{Email: "a@b.com", Password: "password123"}, "")
	authErr := asAuthError(t, err)
	if authErr.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want 409", authErr.HTTPStatus)
	}
	if !strings.Contains(authErr.Message, "既に登録") {
		t.Errorf("Message = %q", authErr.Message)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != "register:user_already_exists" {
		t.Errorf("outcomes = %v", rec.outcomes)
	}
}

// --- Logout / CurrentUser ---

func TestLogout_EmptyToken_NoBackendCall(t *testing.T) {
	backend := &mockBackend{}
	svc := NewService(backend, nil)

	if err := svc.Logout(context.Background(), ""); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if backend.calls != 0 {
		t.Errorf("backend calls = %d, want 0", backend.calls)
	}
}

func TestLogout_BackendError_Wrapped(t *testing.T) {
	backendErr := &supabase.Error{Status: http.StatusUnauthorized, Message: "invalid JWT"}
	backend := &mockBackend{
		signOutFn: func(context.Context, string) error { return backendErr },
	}
	svc := NewService(backend, nil)

	err := svc.Logout(context.Background(), "token")
	if !errors.Is(err, backendErr) {
		t.Errorf("expected wrapped backend error, got %v", err)
	}
}

func TestCurrentUser_ReturnsModel(t *testing.T) {
	backend := &mockBackend{
		getUserFn: func(_ context.Context, token string) (*supabase.User, error) {
			if token != "token" {
				t.Errorf("token = %q", token)
			}
			return &supabase.User{ID: "user-1", Email: "a@b.com", AppMetadata: map[string]any{"role": "teacher"}}, nil
		},
	}
	svc := NewService(backend, nil)

	user, err := svc.CurrentUser(context.Background(), "token")
	if err != nil {
		t.Fatalf("CurrentUser returned error: %v", err)
	}
	if user.Role != "teacher" {
		t.Errorf("Role = %q, want teacher", user.Role)
	}
}

func TestCurrentUser_EmptyToken(t *testing.T) {
	svc := NewService(&mockBackend{}, nil)
	if _, err := svc.CurrentUser(context.Background(), ""); err == nil {
		t.Error("expected error for empty token")
	}
}
