// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/melodia/internal/middleware"
	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/repository"
)

// maxJSONBodyBytes はJSONリクエストボディの上限。
const maxJSONBodyBytes = 64 << 10

// messageResponse は処理結果メッセージのみのレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

// decodeJSON はリクエストボディをJSONとしてvに読み込む。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// writeParseError はボディ解析失敗の400レスポンスを書き込む。
func writeParseError(w http.ResponseWriter, err error) {
	slog.Warn("invalid request body", slog.String("error", err.Error()))
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     model.ErrCodeInvalidRequest,
		Message:  "リクエストの解析に失敗しました",
		Category: "validation",
		Action:   "入力内容を確認してください。",
	})
}

// writeStoreError はリポジトリのエラーをレスポンスに変換する。
// 対象行がない場合は404、それ以外はfailMessageを含む500を返す。
func writeStoreError(w http.ResponseWriter, err error, kind model.FeedbackKind, id int64, failMessage string) {
	if errors.Is(err, repository.ErrNotFound) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewRecordNotFoundError(kind, id))
		return
	}
	slog.Error("database operation failed",
		slog.String("kind", string(kind)),
		slog.Int64("item_id", id),
		slog.String("error", err.Error()),
	)
	middleware.WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  failMessage,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// flexibleID は数値・数値文字列のどちらでも受け付けるID。
// 未指定・空文字列は0になる。
type flexibleID int64

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (id *flexibleID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid id %q", s)
	}
	*id = flexibleID(n)
	return nil
}

// parseID はパス・クエリのIDを正の整数として解釈する。
func parseID(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
