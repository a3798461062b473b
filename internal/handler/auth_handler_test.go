package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/session"
)

func newTestSession() *model.Session {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	return &model.Session{
		UserID:       "user-1",
		Email:        "taro@example.com",
		DisplayName:  "山田太郎",
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
		AccessToken:  "access-abc",
		RefreshToken: "refresh-abc",
	}
}

func cookieMap(w *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range w.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestAuthHandler_Login_Success(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, creds model.Credentials) (*model.Session, *model.User, error) {
			if creds.Email != "taro@example.com" || creds.Password != "password123" {
				t.Errorf("unexpected credentials: %+v", creds)
			}
			return newTestSession(), &model.User{ID: "user-1", Email: creds.Email, DisplayName: "山田太郎"}, nil
		},
	}
	h := NewAuthHandler(svc, &mockResolver{}, session.CookieConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"taro@example.com","password":"password123"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	cookies := cookieMap(w)
	if c := cookies[session.AccessTokenCookie]; c == nil || c.Value != "access-abc" || !c.HttpOnly {
		t.Errorf("access cookie = %+v", c)
	}
	if c := cookies[session.RefreshTokenCookie]; c == nil || c.Value != "refresh-abc" {
		t.Errorf("refresh cookie = %+v", c)
	}

	body := w.Body.String()
	if strings.Contains(body, "access-abc") || strings.Contains(body, "refresh-abc") {
		t.Errorf("tokens must not appear in body: %s", body)
	}
	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.User == nil || resp.User.ID != "user-1" || resp.User.Name != "山田太郎" {
		t.Errorf("user = %+v", resp.User)
	}
	if resp.Session == nil || resp.Session.ExpiresAt.IsZero() {
		t.Errorf("session = %+v", resp.Session)
	}
}

func TestAuthHandler_Login_InvalidJSON(t *testing.T) {
	called := false
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, creds model.Credentials) (*model.Session, *model.User, error) {
			called = true
			return nil, nil, nil
		},
	}
	h := NewAuthHandler(svc, &mockResolver{}, session.CookieConfig{})

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{not json")))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if called {
		t.Error("service should not be called")
	}
}

func TestAuthHandler_Login_AuthErrorPassthrough(t *testing.T) {
	tests := []struct {
		name       string
		err        *model.AuthError
		wantStatus int
		wantRetry  string
	}{
		{
			name:       "invalid credentials",
			err:        &model.AuthError{HTTPStatus: http.StatusUnauthorized, Code: model.AuthCodeInvalidCredentials, Message: "メールアドレスまたはパスワードが正しくありません"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "rate limited",
			err:        &model.AuthError{HTTPStatus: http.StatusTooManyRequests, Code: model.AuthCodeRateLimited, Message: "リクエストが多すぎます", RetryAfterSeconds: 60},
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "60",
		},
		{
			name:       "validation",
			err:        &model.AuthError{HTTPStatus: http.StatusBadRequest, Code: model.AuthCodeValidation, Message: "入力内容に誤りがあります", Details: map[string]string{"password": "パスワードは8文字以上で入力してください"}},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				loginFn: func(ctx context.Context, creds model.Credentials) (*model.Session, *model.User, error) {
					return nil, nil, tt.err
				},
			}
			h := NewAuthHandler(svc, &mockResolver{}, session.CookieConfig{})

			w := httptest.NewRecorder()
			h.Login(w, httptest.NewRequest(http.MethodPost, "/api/auth/login",
				strings.NewReader(`{"email":"taro@example.com","password":"x"}`)))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Retry-After"); got != tt.wantRetry {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetry)
			}
			var body map[string]any
			json.NewDecoder(w.Body).Decode(&body)
			if body["code"] != tt.err.Code || body["error"] != tt.err.Message {
				t.Errorf("body = %v", body)
			}
			if len(w.Result().Cookies()) != 0 {
				t.Error("no cookies should be set on failure")
			}
		})
	}
}

func TestAuthHandler_Login_UnexpectedError(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, creds model.Credentials) (*model.Session, *model.User, error) {
			return nil, nil, errors.New("boom")
		},
	}
	h := NewAuthHandler(svc, &mockResolver{}, session.CookieConfig{})

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`)))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestAuthHandler_Register_WithSession(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, creds model.Credentials, name string) (*model.Session, *model.User, error) {
			if name != "山田太郎" {
				t.Errorf("name = %q", name)
			}
			return newTestSession(), &model.User{ID: "user-1", Email: creds.Email, DisplayName: name}, nil
		},
	}
	h := NewAuthHandler(svc, &mockResolver{}, session.CookieConfig{})

	w := httptest.NewRecorder()
	h.Register(w, httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"taro@example.com","password":"password123","name":"山田太郎"}`)))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if cookieMap(w)[session.AccessTokenCookie] == nil {
		t.Error("access cookie should be set")
	}
	var resp registerResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Session == nil || resp.Message != "会員登録が完了しました" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAuthHandler_Register_ConfirmationPending(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, creds model.Credentials, name string) (*model.Session, *model.User, error) {
			return nil, &model.User{ID: "user-2", Email: creds.Email}, nil
		},
	}
	h := NewAuthHandler(svc, &mockResolver{}, session.CookieConfig{})

	w := httptest.NewRecorder()
	h.Register(w, httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"hanako@example.com","password":"password123"}`)))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("no cookies should be set while confirmation is pending")
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["session"] != nil {
		t.Errorf("session = %v, want null", body["session"])
	}
	if msg, _ := body["message"].(string); !strings.HasPrefix(msg, "確認メールを送信しました") {
		t.Errorf("message = %q", msg)
	}
}

func TestAuthHandler_Register_AlreadyRegistered(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, creds model.Credentials, name string) (*model.Session, *model.User, error) {
			return nil, nil, &model.AuthError{HTTPStatus: http.StatusConflict, Code: model.AuthCodeAlreadyRegistered, Message: "このメールアドレスは既に登録されています"}
		},
	}
	h := NewAuthHandler(svc, &mockResolver{}, session.CookieConfig{})

	w := httptest.NewRecorder()
	h.Register(w, httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"taro@example.com","password":"password123"}`)))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestAuthHandler_Logout_ClearsCookies(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"backend ok", nil},
		{"backend failure", errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotToken string
			svc := &mockAuthService{
				logoutFn: func(ctx context.Context, accessToken string) error {
					gotToken = accessToken
					return tt.err
				},
			}
			h := NewAuthHandler(svc, &mockResolver{}, session.CookieConfig{})

			req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
			req.AddCookie(&http.Cookie{Name: session.AccessTokenCookie, Value: "access-abc"})
			w := httptest.NewRecorder()
			h.Logout(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
			if gotToken != "access-abc" {
				t.Errorf("token = %q, want access-abc", gotToken)
			}
			for _, name := range []string{session.AccessTokenCookie, session.RefreshTokenCookie} {
				c := cookieMap(w)[name]
				if c == nil || c.MaxAge >= 0 {
					t.Errorf("%s should be cleared: %+v", name, c)
				}
			}
		})
	}
}

func TestAuthHandler_Session(t *testing.T) {
	tests := []struct {
		name        string
		res         *session.Resolution
		err         error
		wantStatus  int
		wantCookies bool
	}{
		{"authenticated", &session.Resolution{Session: newTestSession()}, nil, http.StatusOK, false},
		{"refreshed", &session.Resolution{Session: newTestSession(), Refreshed: true}, nil, http.StatusOK, true},
		{"anonymous", &session.Resolution{}, nil, http.StatusUnauthorized, false},
		{"backend down", nil, errors.New("timeout"), http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &mockResolver{
				resolveFn: func(ctx context.Context, r *http.Request) (*session.Resolution, error) {
					return tt.res, tt.err
				},
			}
			h := NewAuthHandler(&mockAuthService{}, resolver, session.CookieConfig{})

			w := httptest.NewRecorder()
			h.Session(w, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := len(w.Result().Cookies()) > 0; got != tt.wantCookies {
				t.Errorf("cookies written = %v, want %v", got, tt.wantCookies)
			}
			if tt.wantStatus == http.StatusOK {
				var resp loginResponse
				json.NewDecoder(w.Body).Decode(&resp)
				if resp.User == nil || resp.User.Email != "taro@example.com" {
					t.Errorf("user = %+v", resp.User)
				}
			}
		})
	}
}
