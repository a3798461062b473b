package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/melodia/internal/middleware"
	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/session"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
// *auth.Service が実装する。
type AuthServiceInterface interface {
	Login(ctx context.Context, creds model.Credentials) (*model.Session, *model.User, error)
	Register(ctx context.Context, creds model.Credentials, name string) (*model.Session, *model.User, error)
	Logout(ctx context.Context, accessToken string) error
}

// AuthHandler はログイン・会員登録・ログアウト・セッション確認のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	resolver middleware.SessionResolver
	cookies  session.CookieConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, resolver middleware.SessionResolver, cookies session.CookieConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		resolver: resolver,
		cookies:  cookies,
	}
}

// --- リクエスト・レスポンス型 ---

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// userResponse はクライアントに返すユーザー情報。
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
}

// sessionResponse はクライアントに返すセッション情報。
// トークンはHttpOnly Cookieでのみ扱い、ボディには含めない。
type sessionResponse struct {
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type loginResponse struct {
	User    *userResponse    `json:"user"`
	Session *sessionResponse `json:"session"`
}

type registerResponse struct {
	Message string           `json:"message"`
	User    *userResponse    `json:"user"`
	Session *sessionResponse `json:"session"`
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{ID: u.ID, Email: u.Email, Name: u.DisplayName, Role: u.Role}
}

func toSessionResponse(s *model.Session) *sessionResponse {
	if s == nil {
		return nil
	}
	return &sessionResponse{IssuedAt: s.IssuedAt, ExpiresAt: s.ExpiresAt}
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeParseError(w, err)
		return
	}

	sess, user, err := h.service.Login(r.Context(), model.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		writeAuthServiceError(w, err)
		return
	}

	session.WriteCookies(w, sess, h.cookies)
	middleware.WriteJSON(w, http.StatusOK, loginResponse{
		User:    toUserResponse(user),
		Session: toSessionResponse(sess),
	})
}

// Register は新規会員登録を行う。
// メール確認が必要な設定ではセッションはnullで返り、Cookieは設定しない。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeParseError(w, err)
		return
	}

	sess, user, err := h.service.Register(r.Context(), model.Credentials{Email: req.Email, Password: req.Password}, req.Name)
	if err != nil {
		writeAuthServiceError(w, err)
		return
	}

	message := "会員登録が完了しました"
	if sess == nil {
		message = "確認メールを送信しました。メール内のリンクから登録を完了してください"
	} else {
		session.WriteCookies(w, sess, h.cookies)
	}

	middleware.WriteJSON(w, http.StatusCreated, registerResponse{
		Message: message,
		User:    toUserResponse(user),
		Session: toSessionResponse(sess),
	})
}

// Logout はバックエンドのセッションを失効させ、Cookieを削除する。
// バックエンドの失効に失敗してもCookieは削除する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), session.AccessToken(r)); err != nil {
		slog.Warn("logout: backend sign-out failed", slog.String("error", err.Error()))
	}

	session.ClearCookies(w, h.cookies)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "ログアウトしました"})
}

// Session は現在のセッションを返す。
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	res, err := h.resolver.Resolve(r.Context(), r)
	if err != nil {
		slog.Error("failed to resolve session", slog.String("error", err.Error()))
		middleware.WriteMessageError(w, http.StatusServiceUnavailable, "認証サービスが一時的に利用できません")
		return
	}
	if res.Session == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	if res.Refreshed {
		session.WriteCookies(w, res.Session, h.cookies)
	}

	s := res.Session
	middleware.WriteJSON(w, http.StatusOK, loginResponse{
		User:    &userResponse{ID: s.UserID, Email: s.Email, Name: s.DisplayName},
		Session: toSessionResponse(s),
	})
}

// writeAuthServiceError は認証サービスのエラーを書き込む。
func writeAuthServiceError(w http.ResponseWriter, err error) {
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		middleware.WriteAuthError(w, authErr)
		return
	}
	slog.Error("unexpected auth service error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
