package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/melodia/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
//
//	{"error": "...", "code": "...", "details": {...}, "retryAfter": 60}
type ErrorResponseBody struct {
	Error      string            `json:"error"`
	Code       string            `json:"code,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	RetryAfter int               `json:"retryAfter,omitempty"`
	Action     string            `json:"action,omitempty"`
}

// WriteJSON は任意の値をJSONレスポンスとして書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	WriteJSON(w, statusCode, ErrorResponseBody{
		Error:  apiErr.Message,
		Code:   apiErr.Code,
		Action: apiErr.Action,
	})
}

// WriteAuthError は認証エラーを書き込む。
// レート制限の場合はRetry-AfterヘッダーにボディのretryAfterと同じ値を設定する。
func WriteAuthError(w http.ResponseWriter, authErr *model.AuthError) {
	if authErr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(authErr.RetryAfterSeconds))
	}
	WriteJSON(w, authErr.HTTPStatus, ErrorResponseBody{
		Error:      authErr.Message,
		Code:       authErr.Code,
		Details:    authErr.Details,
		RetryAfter: authErr.RetryAfterSeconds,
	})
}

// WriteMessageError はメッセージのみのエラーレスポンスを書き込む。
func WriteMessageError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponseBody{Error: message})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
