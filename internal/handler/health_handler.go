package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/melodia/internal/middleware"
)

// healthTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthTimeout = 2 * time.Second

// Pinger はDBの疎通を確認する。*sql.DB が実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// NewHealthHandler はヘルスチェックのハンドラーを返す。
// DBに接続できない場合は503を返す。
// GET /health
func NewHealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			slog.Error("health check: database unreachable", slog.String("error", err.Error()))
			middleware.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Database: "down"})
			return
		}
		middleware.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "up"})
	}
}
