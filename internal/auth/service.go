// Package auth はメールアドレス・パスワードによるログイン、会員登録、
// 認証バックエンドのエラー分類を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/melodia/internal/metrics"
	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/supabase"
	"github.com/hitoshi/melodia/internal/validation"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// Backend は認証バックエンドのインターフェース。
// *supabase.Client が実装する。
type Backend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*supabase.AuthResponse, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*supabase.AuthResponse, error)
	GetUser(ctx context.Context, accessToken string) (*supabase.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// credentialsInput は入力検証用の構造体。
type credentialsInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

var credentialMessages = validation.Messages{
	"email.required":    "メールアドレスは必須です",
	"password.required": "パスワードは必須です",
	"password.min":      fmt.Sprintf("パスワードは%d文字以上で入力してください", MinPasswordLength),
}

// Service は認証に関するビジネスロジックを提供する。
// バックエンド呼び出しはリクエストごとに1回だけ行い、リトライしない。
type Service struct {
	backend Backend
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合は記録しない。
func NewService(backend Backend, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		backend: backend,
		metrics: mc,
		now:     time.Now,
	}
}

// Login はメールアドレスとパスワードでログインし、セッションとユーザーを返す。
// 入力エラー・バックエンドエラーはいずれも*model.AuthErrorとして返す。
func (s *Service) Login(ctx context.Context, creds model.Credentials) (*model.Session, *model.User, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if authErr := validateCredentials(creds); authErr != nil {
		s.metrics.RecordAuthOutcome(string(OpLogin), authErr.Code)
		return nil, nil, authErr
	}

	start := time.Now()
	resp, err := s.backend.SignInWithPassword(ctx, creds.Email, creds.Password)
	s.metrics.RecordBackendLatency(string(OpLogin), time.Since(start))
	if err != nil {
		return nil, nil, s.fail(OpLogin, creds.Email, err)
	}
	if !resp.HasSession() {
		// パスワードグラントでセッションが返らないのはバックエンドの異常
		return nil, nil, s.fail(OpLogin, creds.Email, &supabase.Error{
			Status:  http.StatusBadGateway,
			Message: "session missing from token response",
		})
	}

	session := resp.ToSession(s.now())
	user := resp.User.ToModel()

	s.metrics.RecordAuthOutcome(string(OpLogin), "success")
	slog.Info("user logged in", slog.String("user_id", session.UserID))
	return session, user, nil
}

// Register は新規会員を登録する。
// メール確認待ちの場合、セッションはnilで返る。
func (s *Service) Register(ctx context.Context, creds model.Credentials, name string) (*model.Session, *model.User, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if authErr := validateCredentials(creds); authErr != nil {
		s.metrics.RecordAuthOutcome(string(OpRegister), authErr.Code)
		return nil, nil, authErr
	}

	metadata := map[string]any{"name": strings.TrimSpace(name)}

	start := time.Now()
	resp, err := s.backend.SignUp(ctx, creds.Email, creds.Password, metadata)
	s.metrics.RecordBackendLatency(string(OpRegister), time.Since(start))
	if err != nil {
		return nil, nil, s.fail(OpRegister, creds.Email, err)
	}

	session := resp.ToSession(s.now())
	user := resp.User.ToModel()

	s.metrics.RecordAuthOutcome(string(OpRegister), "success")
	attrs := []any{slog.Bool("confirmation_pending", session == nil)}
	if user != nil {
		attrs = append(attrs, slog.String("user_id", user.ID))
	}
	slog.Info("user registered", attrs...)
	return session, user, nil
}

// Logout はバックエンドのセッションを失効させる。
// アクセストークンが空の場合は何もしない。
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}

	start := time.Now()
	err := s.backend.SignOut(ctx, accessToken)
	s.metrics.RecordBackendLatency("logout", time.Since(start))
	if err != nil {
		slog.Warn("backend sign-out failed", slog.String("error", err.Error()))
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// CurrentUser はアクセストークンに対応するユーザーを取得する。
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (*model.User, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	start := time.Now()
	u, err := s.backend.GetUser(ctx, accessToken)
	s.metrics.RecordBackendLatency("get_user", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u.ToModel(), nil
}

// fail はバックエンドエラーをログに記録し、分類済みのAuthErrorを返す。
func (s *Service) fail(op Operation, email string, err error) *model.AuthError {
	authErr := Classify(err, op)

	level := slog.LevelWarn
	if authErr.HTTPStatus >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, "auth backend call failed",
		slog.String("operation", string(op)),
		slog.String("email_domain", emailDomain(email)),
		slog.Int("status", authErr.HTTPStatus),
		slog.String("code", authErr.Code),
		slog.String("backend_code", authErr.BackendCode),
		slog.String("error", err.Error()),
	)

	s.metrics.RecordAuthOutcome(string(op), authErr.Code)
	return authErr
}

// validateCredentials は入力値を検証する。
// まず必須項目を確認し、不足がある場合は不足したフィールドのみをdetailsに含める。
// 必須項目が揃っている場合のみパスワード長を検証する。
func validateCredentials(creds model.Credentials) *model.AuthError {
	if fieldErrs := validation.Struct(&credentialsInput{
		Email:    creds.Email,
		Password: creds.Password,
	}, credentialMessages); fieldErrs != nil {
		return &model.AuthError{
			HTTPStatus: http.StatusBadRequest,
			Code:       model.AuthCodeValidation,
			Message:    "メールアドレスとパスワードは必須です",
			Details:    fieldErrs,
		}
	}

	if msg := validation.Var("password", creds.Password, fmt.Sprintf("min=%d", MinPasswordLength), credentialMessages); msg != "" {
		return &model.AuthError{
			HTTPStatus: http.StatusBadRequest,
			Code:       model.AuthCodeValidation,
			Message:    msg,
			Details:    map[string]string{"password": msg},
		}
	}

	return nil
}

// emailDomain はログ出力用にメールアドレスのドメイン部のみを返す。
func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}
