package session

import (
	"net/http"

	"github.com/hitoshi/melodia/internal/model"
)

// Cookie名
const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
)

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Secure bool
	Domain string
	MaxAge int // 秒
}

// WriteCookies はセッションのトークンをHttpOnly Cookieに書き込む。
func WriteCookies(w http.ResponseWriter, s *model.Session, cfg CookieConfig) {
	if s == nil {
		return
	}
	http.SetCookie(w, newCookie(AccessTokenCookie, s.AccessToken, cfg.MaxAge, cfg))
	if s.RefreshToken != "" {
		http.SetCookie(w, newCookie(RefreshTokenCookie, s.RefreshToken, cfg.MaxAge, cfg))
	}
}

// ClearCookies はセッションCookieを削除する。
func ClearCookies(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, newCookie(AccessTokenCookie, "", -1, cfg))
	http.SetCookie(w, newCookie(RefreshTokenCookie, "", -1, cfg))
}

// AccessToken はリクエストのアクセストークンを返す。
func AccessToken(r *http.Request) string {
	return cookieValue(r, AccessTokenCookie)
}

func newCookie(name, value string, maxAge int, cfg CookieConfig) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
