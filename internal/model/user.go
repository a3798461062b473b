// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証バックエンドが保持する会員を表す。
// 本サービスは読み取り専用のミラーとして扱う。
type User struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	DisplayName string         `json:"name"`
	Role        string         `json:"role,omitempty"`
	Metadata    map[string]any `json:"user_metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
}

// NameOrEmail は表示名が未設定の場合にメールアドレスを返す。
func (u *User) NameOrEmail() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// Session は認証バックエンドが発行したログインセッションを表す。
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"name"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
}

// Expired はアクセストークンが期限切れかどうかを返す。
// ExpiresAtが未設定の場合は期限切れとみなさない。
func (s *Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Credentials はログイン・会員登録時の入力値。永続化しない。
type Credentials struct {
	Email    string
	Password string
}
