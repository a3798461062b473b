// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, feedback, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeInvalidFeedback = "INVALID_FEEDBACK_TYPE"
	ErrCodeRecordNotFound  = "RECORD_NOT_FOUND"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeBlogFeedFailed  = "BLOG_FEED_FAILED"
	ErrCodeInvalidStatus   = "INVALID_STATUS"
	ErrCodeMissingFields   = "MISSING_FIELDS"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
)

// NewMissingFieldsError は必須フィールド不足エラーを生成する。
func NewMissingFieldsError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingFields,
		Message:  "必須フィールドが不足しています",
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidFeedbackTypeError は不正なフィードバック種別エラーを生成する。
func NewInvalidFeedbackTypeError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFeedback,
		Message:  fmt.Sprintf("不正なフィードバックタイプです: %s", kind),
		Category: "validation",
		Action:   "種別には practice または assignment を指定してください。",
	}
}

// NewRecordNotFoundError は対象レコードが見つからない場合のエラーを生成する。
func NewRecordNotFoundError(kind FeedbackKind, id int64) *APIError {
	return &APIError{
		Code:     ErrCodeRecordNotFound,
		Message:  fmt.Sprintf("指定された%sが見つかりません: %d", kind.Label(), id),
		Category: "feedback",
		Action:   "一覧を再読み込みしてから再度お試しください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証エラー",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidStatusError は不正な課題ステータスのエラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効なステータスです: %s", status),
		Category: "validation",
		Action:   "ステータスには not_started、in_progress、completed のいずれかを指定してください。",
	}
}

// NewBlogFeedFailedError はブログ記事取得失敗エラーを生成する。
func NewBlogFeedFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeBlogFeedFailed,
		Message:  "ブログ記事の取得に失敗しました",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// AuthError は認証バックエンドの応答から導出した、クライアント向けの認証エラー。
// リクエスト単位で生成し、永続化しない。
type AuthError struct {
	BackendCode       string            // バックエンドの構造化エラーコード（不明な場合は空）
	HTTPStatus        int               // クライアントに返すHTTPステータス
	Code              string            // クライアント向けエラーコード
	Message           string            // ローカライズ済みメッセージ
	RetryAfterSeconds int               // レート制限時の推奨待機秒数（0は未指定）
	Details           map[string]string // フィールド単位の入力エラー
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.BackendCode != "" {
		return fmt.Sprintf("auth error %d (%s): %s", e.HTTPStatus, e.BackendCode, e.Message)
	}
	return fmt.Sprintf("auth error %d: %s", e.HTTPStatus, e.Message)
}

// クライアント向け認証エラーコード
const (
	AuthCodeValidation         = "validation_failed"
	AuthCodeInvalidCredentials = "invalid_credentials"
	AuthCodeEmailNotConfirmed  = "email_not_confirmed"
	AuthCodeRateLimited        = "rate_limited"
	AuthCodeAlreadyRegistered  = "user_already_exists"
	AuthCodeWeakPassword       = "weak_password"
	AuthCodeUnavailable        = "service_unavailable"
	AuthCodeNetwork            = "network_error"
	AuthCodeBackend            = "backend_error"
)
