package sessioncache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hitoshi/melodia/internal/model"
)

// HTTPBackend は本サービスのセッションAPIをBackendとして扱う。
// Cookieを送受信するため、clientにはCookieJarを設定しておくこと。
type HTTPBackend struct {
	client  *http.Client
	baseURL string
}

// NewHTTPBackend はHTTPBackendを生成する。
func NewHTTPBackend(client *http.Client, baseURL string) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// FetchSession は GET /api/auth/session でユーザーを取得する。401の場合はnilを返す。
func (b *HTTPBackend) FetchSession(ctx context.Context) (*model.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/auth/session", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("session request returned status %d", resp.StatusCode)
	}

	var body struct {
		User *model.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	return body.User, nil
}

// SignOut は POST /api/auth/logout でセッションを破棄する。
func (b *HTTPBackend) SignOut(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/auth/logout", nil)
	if err != nil {
		return fmt.Errorf("failed to build logout request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("logout request returned status %d", resp.StatusCode)
	}
	return nil
}
