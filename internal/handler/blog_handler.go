package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/melodia/internal/middleware"
	"github.com/hitoshi/melodia/internal/model"
)

// blogEntryCount はトップページに表示するブログ記事数。
const blogEntryCount = 5

// BlogSource は最新のブログ記事を返す。*blog.Service が実装する。
type BlogSource interface {
	Latest(ctx context.Context, n int) ([]model.BlogEntry, error)
}

// BlogHandler は教室ブログの記事一覧を返すHTTPハンドラー。
type BlogHandler struct {
	source BlogSource
}

// NewBlogHandler はBlogHandlerを生成する。
func NewBlogHandler(source BlogSource) *BlogHandler {
	return &BlogHandler{source: source}
}

// Latest は最新の記事を返す。
// GET /api/blog-feed
func (h *BlogHandler) Latest(w http.ResponseWriter, r *http.Request) {
	entries, err := h.source.Latest(r.Context(), blogEntryCount)
	if err != nil {
		slog.Error("ブログ記事の取得に失敗しました", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewBlogFeedFailedError())
		return
	}
	if entries == nil {
		entries = []model.BlogEntry{}
	}
	middleware.WriteJSON(w, http.StatusOK, entries)
}
