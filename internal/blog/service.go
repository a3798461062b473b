// Package blog は講師ブログのRSSを取得し、会員サイト向けの記事一覧として提供する。
package blog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/melodia/internal/metrics"
	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/security"
)

const (
	// DefaultCacheTTL は取得結果を再利用する既定の期間。
	DefaultCacheTTL = 10 * time.Minute

	maxFeedSize    = 2 * 1024 * 1024
	snippetRunes   = 200
	feedUserAgent  = "melodia-blog-feed/1.0"
	singleflightID = "feed"
)

// Config はブログサービスの設定。
type Config struct {
	FeedURL  string
	CacheTTL time.Duration
}

// Service はRSSの取得結果をTTL付きでキャッシュする。
// キャッシュ期限内は上流に問い合わせず、同時に期限切れを検知した呼び出しは1回の取得にまとめる。
type Service struct {
	client    *http.Client
	sanitizer *security.Sanitizer
	metrics   metrics.MetricsCollector
	config    Config
	now       func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	entries   []model.BlogEntry
	fetchedAt time.Time
}

// NewService はServiceを生成する。
// clientには外部取得用のガード付きクライアントを渡す想定。
func NewService(client *http.Client, cfg Config, mc metrics.MetricsCollector) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		client:    client,
		sanitizer: security.NewSanitizer(),
		metrics:   mc,
		config:    cfg,
		now:       time.Now,
	}
}

// Latest は新しい順に最大n件の記事を返す。
// 取得に失敗した場合、過去の取得結果があればそれを返す。
func (s *Service) Latest(ctx context.Context, n int) ([]model.BlogEntry, error) {
	if entries, ok := s.fresh(); ok {
		return head(entries, n), nil
	}

	v, err, _ := s.group.Do(singleflightID, func() (any, error) {
		// 待機中に別の呼び出しが更新済みの場合がある
		if entries, ok := s.fresh(); ok {
			return entries, nil
		}
		entries, err := s.fetch(ctx)
		s.metrics.RecordBlogFetch(err == nil)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.entries = entries
		s.fetchedAt = s.now()
		s.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		s.mu.RLock()
		stale := s.entries
		s.mu.RUnlock()
		if stale != nil {
			slog.Warn("blog feed fetch failed, serving stale entries",
				slog.String("error", err.Error()),
				slog.Int("entries", len(stale)),
			)
			return head(stale, n), nil
		}
		return nil, err
	}
	return head(v.([]model.BlogEntry), n), nil
}

func (s *Service) fresh() ([]model.BlogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entries == nil || s.now().Sub(s.fetchedAt) >= s.config.CacheTTL {
		return nil, false
	}
	return s.entries, true
}

// fetch はRSSを取得して記事一覧に変換する。
func (s *Service) fetch(ctx context.Context) ([]model.BlogEntry, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build blog feed request: %w", err)
	}
	req.Header.Set("User-Agent", feedUserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blog feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blog feed returned status %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to parse blog feed: %w", err)
	}

	entries := make([]model.BlogEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entries = append(entries, s.toEntry(item))
	}

	slog.Info("blog feed fetched",
		slog.String("feed_title", feed.Title),
		slog.Int("items", len(entries)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return entries, nil
}

// toEntry はRSSアイテムを表示用の記事に変換する。本文は無害化する。
func (s *Service) toEntry(item *gofeed.Item) model.BlogEntry {
	body := item.Content
	if body == "" {
		body = item.Description
	}

	entry := model.BlogEntry{
		Title:          item.Title,
		Link:           item.Link,
		GUID:           item.GUID,
		PubDate:        item.Published,
		Content:        s.sanitizer.SanitizeHTML(body),
		ContentSnippet: s.sanitizer.PlainText(body, snippetRunes),
	}
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		entry.ISODate = &t
	}
	return entry
}

func head(entries []model.BlogEntry, n int) []model.BlogEntry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[:n]
}
