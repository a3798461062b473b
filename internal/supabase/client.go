// Package supabase はSupabase Auth（GoTrue）のREST APIクライアントを提供する。
// すべての呼び出しはリクエストごとに1回だけ試行し、リトライは行わない。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/melodia/internal/model"
)

const (
	// authPathPrefix はGoTrue APIのパスプレフィックス。
	authPathPrefix = "/auth/v1"
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20
)

// Config はクライアントの接続設定。
type Config struct {
	URL        string // プロジェクトURL（例: https://xxxx.supabase.co）
	AnonKey    string // 公開用anonキー
	ServiceKey string // サーバー専用のservice_roleキー
}

// Client はSupabase AuthのHTTPクライアント。
// プロセス起動時に明示的に生成し、依存として注入する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	anonKey    string
	serviceKey string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		anonKey:    cfg.AnonKey,
		serviceKey: cfg.ServiceKey,
	}
}

// User はGoTrueが返すユーザーオブジェクト。
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
	ConfirmedAt  *time.Time     `json:"confirmed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// DisplayName はuser_metadata.nameを返す。
func (u *User) DisplayName() string {
	if u == nil || u.UserMetadata == nil {
		return ""
	}
	name, _ := u.UserMetadata["name"].(string)
	return name
}

// AppRole はapp_metadata.roleを返す（講師・管理者の区別に使用）。
func (u *User) AppRole() string {
	if u == nil || u.AppMetadata == nil {
		return ""
	}
	role, _ := u.AppMetadata["role"].(string)
	return role
}

// AuthResponse はトークン発行系エンドポイントのレスポンス。
// メール確認待ちのサインアップではAccessTokenが空になる。
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// HasSession はセッションが発行されたかどうかを返す。
func (r *AuthResponse) HasSession() bool {
	return r != nil && r.AccessToken != ""
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*AuthResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", c.serviceKey, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignUp は新規会員を登録する。metadataはuser_metadataとして保存される。
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*AuthResponse, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", c.serviceKey, body, &raw); err != nil {
		return nil, err
	}

	var resp AuthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("サインアップレスポンスのパースに失敗しました: %w", err)
	}

	// メール確認待ちの場合、レスポンスはユーザーオブジェクトそのもの
	if resp.User == nil {
		var user User
		if err := json.Unmarshal(raw, &user); err != nil {
			return nil, fmt.Errorf("ユーザーオブジェクトのパースに失敗しました: %w", err)
		}
		if user.ID != "" {
			resp.User = &user
		}
	}

	return &resp, nil
}

// GetUser はアクセストークンに対応するユーザーを取得する。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RefreshSession はリフレッシュトークンで新しいセッションを取得する。
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", c.anonKey, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignOut はアクセストークンに紐づくセッションをバックエンドで失効させる。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

// do はGoTrue APIを1回呼び出す。
// bearerはAuthorizationヘッダーに設定するトークン（空の場合はanonキー）。
// 2xx以外のレスポンスは*Errorとして返す。
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	endpoint, err := url.Parse(c.baseURL + authPathPrefix + path)
	if err != nil {
		return fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}

	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reqBody)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("認証バックエンドの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", endpoint.Path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("認証バックエンドへのリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	c.logger.Debug("認証バックエンドAPIレスポンス",
		slog.String("method", method),
		slog.String("path", endpoint.Path),
		slog.Int("status", resp.StatusCode),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseError(resp.StatusCode, body)
		c.logger.Warn("認証バックエンドがエラーを返しました",
			slog.String("method", method),
			slog.String("path", endpoint.Path),
			slog.Int("http_status", apiErr.Status),
			slog.String("error_code", apiErr.Code),
			slog.String("message", truncate(apiErr.Message, 200)),
		)
		return apiErr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ToModel はGoTrueのユーザーをドメインモデルに変換する。
func (u *User) ToModel() *model.User {
	if u == nil {
		return nil
	}
	return &model.User{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName(),
		Role:        u.AppRole(),
		Metadata:    u.UserMetadata,
		CreatedAt:   u.CreatedAt,
	}
}

// ToSession はトークンレスポンスをドメインモデルのセッションに変換する。
// セッションが発行されていない場合はnilを返す。
func (r *AuthResponse) ToSession(now time.Time) *model.Session {
	if !r.HasSession() {
		return nil
	}
	s := &model.Session{
		IssuedAt:     now,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
	}
	switch {
	case r.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	if r.User != nil {
		s.UserID = r.User.ID
		s.Email = r.User.Email
		s.DisplayName = r.User.DisplayName()
	}
	return s
}
