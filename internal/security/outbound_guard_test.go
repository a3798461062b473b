package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOutboundGuard_NewClient_Timeout(t *testing.T) {
	client := NewOutboundGuard().NewClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("expected custom Transport")
	}
}

// TestOutboundGuard_NewClient_BlocksLoopback はhttptestサーバー（127.0.0.1）への接続が拒否されることを検証する。
func TestOutboundGuard_NewClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	_, err := NewOutboundGuard().NewClient(5 * time.Second).Get(ts.URL)
	if err == nil {
		t.Fatal("expected error for loopback request")
	}
}

func TestOutboundGuard_ValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"ameblo rss", "https://ameblo.jp/yamayumiji/rss.html", false},
		{"http public", "http://example.com/feed.xml", false},
		{"empty", "", true},
		{"ftp scheme", "ftp://example.com/feed", true},
		{"javascript scheme", "javascript:alert(1)", true},
		{"no host", "https:///feed", true},
		{"localhost", "http://LOCALHOST/feed", true},
		{"loopback", "http://127.0.0.1/feed", true},
		{"private", "http://192.168.1.10/feed", true},
		{"metadata", "http://169.254.169.254/latest/meta-data", true},
		{"ipv6 loopback", "http://[::1]/feed", true},
	}
	guard := NewOutboundGuard()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
