package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/supabase"
)

// Operation は分類対象のバックエンド操作。
type Operation string

const (
	// OpLogin はログイン操作。
	OpLogin Operation = "login"
	// OpRegister は会員登録操作。
	OpRegister Operation = "register"
)

// RateLimitRetryAfter はレート制限時にクライアントへ推奨する待機秒数。
const RateLimitRetryAfter = 60

// errorKind はバックエンドエラーの分類結果。
type errorKind int

const (
	kindUnknown errorKind = iota
	kindInvalidCredentials
	kindEmailNotConfirmed
	kindRateLimited
	kindAlreadyRegistered
	kindWeakPassword
	kindUnavailable
)

// structuredCodes はGoTrueの構造化エラーコードと分類の対応表。
var structuredCodes = map[string]errorKind{
	"invalid_credentials":        kindInvalidCredentials,
	"invalid_grant":              kindInvalidCredentials,
	"email_not_confirmed":        kindEmailNotConfirmed,
	"over_request_rate_limit":    kindRateLimited,
	"over_email_send_rate_limit": kindRateLimited,
	"over_sms_send_rate_limit":   kindRateLimited,
	"user_already_exists":        kindAlreadyRegistered,
	"email_exists":               kindAlreadyRegistered,
	"weak_password":              kindWeakPassword,
}

// fallbackPhrases は構造化コードが得られない場合のメッセージ照合表。
// 照合順に評価する（"Email not confirmed"をinvalid_grantより優先するため）。
var fallbackPhrases = []struct {
	phrase string
	kind   errorKind
}{
	{"email not confirmed", kindEmailNotConfirmed},
	{"rate limit", kindRateLimited},
	{"too many requests", kindRateLimited},
	{"already registered", kindAlreadyRegistered},
	{"already exists", kindAlreadyRegistered},
	{"invalid login credentials", kindInvalidCredentials},
	{"password should be", kindWeakPassword},
}

// Classify はバックエンド呼び出しのエラーをクライアント向けのAuthErrorに変換する。
// 構造化エラーコードを優先し、得られない場合のみメッセージ照合にフォールバックする。
// バックエンド由来でないエラー（通信失敗等）は503として扱う。
func Classify(err error, op Operation) *model.AuthError {
	if err == nil {
		return nil
	}

	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	var backendErr *supabase.Error
	if !errors.As(err, &backendErr) {
		return &model.AuthError{
			HTTPStatus: http.StatusServiceUnavailable,
			Code:       model.AuthCodeNetwork,
			Message:    "認証サービスに接続できませんでした。通信環境を確認してください",
		}
	}

	kind := classifyBackendError(backendErr)
	ae := &model.AuthError{BackendCode: backendErr.Code}

	switch kind {
	case kindInvalidCredentials:
		ae.HTTPStatus = http.StatusUnauthorized
		ae.Code = model.AuthCodeInvalidCredentials
		ae.Message = "メールアドレスまたはパスワードが正しくありません"
	case kindEmailNotConfirmed:
		ae.HTTPStatus = http.StatusUnauthorized
		ae.Code = model.AuthCodeEmailNotConfirmed
		ae.Message = "メールアドレスの確認が完了していません。確認メールのリンクをクリックしてください"
	case kindRateLimited:
		ae.HTTPStatus = http.StatusTooManyRequests
		ae.Code = model.AuthCodeRateLimited
		ae.Message = "リクエストが多すぎます。しばらく待ってから再度お試しください"
		ae.RetryAfterSeconds = RateLimitRetryAfter
	case kindAlreadyRegistered:
		if op == OpRegister {
			ae.HTTPStatus = http.StatusConflict
			ae.Code = model.AuthCodeAlreadyRegistered
			ae.Message = "このメールアドレスは既に登録されています"
		} else {
			ae.HTTPStatus = http.StatusBadRequest
			ae.Code = model.AuthCodeBackend
			ae.Message = backendErr.Message
		}
	case kindWeakPassword:
		ae.HTTPStatus = http.StatusBadRequest
		ae.Code = model.AuthCodeWeakPassword
		ae.Message = "パスワードが脆弱です。より複雑なパスワードを設定してください"
	case kindUnavailable:
		ae.HTTPStatus = http.StatusServiceUnavailable
		ae.Code = model.AuthCodeUnavailable
		ae.Message = "認証サービスが一時的に利用できません。しばらく待ってから再度お試しください"
	default:
		ae.HTTPStatus = http.StatusBadRequest
		ae.Code = model.AuthCodeBackend
		ae.Message = backendErr.Message
	}

	return ae
}

// classifyBackendError はバックエンドエラーを分類する。
// 評価順: HTTPステータス（429, 5xx）→ 構造化コード → メッセージ照合。
func classifyBackendError(e *supabase.Error) errorKind {
	if e.Status == http.StatusTooManyRequests {
		return kindRateLimited
	}
	if e.Status >= http.StatusInternalServerError {
		return kindUnavailable
	}

	if e.Structured() {
		if kind, ok := structuredCodes[e.Code]; ok {
			// invalid_grantはメール未確認も含むため、メッセージで細分化する
			if kind == kindInvalidCredentials && e.Code == "invalid_grant" {
				if k := matchPhrase(e.Message); k == kindEmailNotConfirmed {
					return k
				}
			}
			return kind
		}
		return kindUnknown
	}

	return matchPhrase(e.Message)
}

func matchPhrase(message string) errorKind {
	lower := strings.ToLower(message)
	for _, p := range fallbackPhrases {
		if strings.Contains(lower, p.phrase) {
			return p.kind
		}
	}
	return kindUnknown
}
