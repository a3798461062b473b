// Package session はリクエストのCookieから認証バックエンドのセッションを解決する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/supabase"
)

// Backend はセッション解決に必要な認証バックエンドの操作。
// *supabase.Client が実装する。
type Backend interface {
	GetUser(ctx context.Context, accessToken string) (*supabase.User, error)
	RefreshSession(ctx context.Context, refreshToken string) (*supabase.AuthResponse, error)
}

// Resolution はセッション解決の結果。
// Sessionがnilの場合は未ログイン。
type Resolution struct {
	Session   *model.Session
	Refreshed bool // リフレッシュトークンで新しいセッションを取得した
}

// Resolver はCookieのトークンからセッションを解決する。
// 状態を持たず、リクエストごとに独立して動作する。
type Resolver struct {
	backend   Backend
	jwtSecret []byte
	now       func() time.Time
}

// NewResolver はResolverを生成する。
// jwtSecretが空の場合、アクセストークンはバックエンドに問い合わせて検証する。
func NewResolver(backend Backend, jwtSecret string) *Resolver {
	r := &Resolver{backend: backend, now: time.Now}
	if jwtSecret != "" {
		r.jwtSecret = []byte(jwtSecret)
	}
	return r
}

// accessClaims はSupabaseのアクセストークンのクレーム。
type accessClaims struct {
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

// Resolve はリクエストのCookieからセッションを解決する。
// Cookieがない場合はバックエンドを呼び出さない。
// バックエンドがトークンを拒否した場合はセッションなし、
// それ以外のバックエンド障害はエラーとして返す。
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (*Resolution, error) {
	access := cookieValue(req, AccessTokenCookie)
	refresh := cookieValue(req, RefreshTokenCookie)

	if access == "" && refresh == "" {
		return &Resolution{}, nil
	}

	if access != "" {
		s, err := r.fromAccessToken(ctx, access, refresh)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return &Resolution{Session: s}, nil
		}
	}

	if refresh == "" {
		return &Resolution{}, nil
	}

	resp, err := r.backend.RefreshSession(ctx, refresh)
	if err != nil {
		if rejected(err) {
			slog.Debug("refresh token rejected", slog.String("error", err.Error()))
			return &Resolution{}, nil
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	s := resp.ToSession(r.now())
	if s == nil {
		return &Resolution{}, nil
	}
	return &Resolution{Session: s, Refreshed: true}, nil
}

// fromAccessToken はアクセストークンからセッションを構築する。
// トークンが無効または期限切れの場合はnilを返す。
func (r *Resolver) fromAccessToken(ctx context.Context, access, refresh string) (*model.Session, error) {
	claims, ok := r.parseClaims(access)
	if !ok {
		return nil, nil
	}

	s := &model.Session{
		UserID:       claims.Subject,
		Email:        claims.Email,
		AccessToken:  access,
		RefreshToken: refresh,
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	if name, ok := claims.UserMetadata["name"].(string); ok {
		s.DisplayName = name
	}

	if r.jwtSecret != nil {
		return s, nil
	}

	// 署名を検証できないため、バックエンドでトークンの有効性を確認する
	user, err := r.backend.GetUser(ctx, access)
	if err != nil {
		if rejected(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to verify access token: %w", err)
	}
	s.UserID = user.ID
	s.Email = user.Email
	s.DisplayName = user.DisplayName()
	return s, nil
}

// parseClaims はアクセストークンのクレームを読み取る。
// 署名鍵が設定されている場合はHS256で検証する。期限切れは無効とみなす。
func (r *Resolver) parseClaims(token string) (*accessClaims, bool) {
	claims := &accessClaims{}

	if r.jwtSecret != nil {
		_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return r.jwtSecret, nil
		}, jwt.WithTimeFunc(r.now), jwt.WithExpirationRequired())
		if err != nil {
			if !errors.Is(err, jwt.ErrTokenExpired) {
				slog.Debug("access token rejected", slog.String("error", err.Error()))
			}
			return nil, false
		}
		return claims, claims.Subject != ""
	}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	if claims.Subject == "" {
		return nil, false
	}
	if claims.ExpiresAt != nil && !r.now().Before(claims.ExpiresAt.Time) {
		return nil, false
	}
	return claims, true
}

// rejected はバックエンドがトークンを拒否したかどうかを返す。
// 429と5xx、通信エラーは拒否とみなさない。
func rejected(err error) bool {
	var be *supabase.Error
	if !errors.As(err, &be) {
		return false
	}
	return be.Status >= 400 && be.Status < 500 && be.Status != http.StatusTooManyRequests
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
