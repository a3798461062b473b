package supabase

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Error は認証バックエンドが2xx以外で応答した場合のエラー。
type Error struct {
	Status  int    // HTTPステータスコード
	Code    string // 構造化エラーコード（error_code）。旧形式ではOAuthのerror値
	Message string // バックエンドのメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase auth: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase auth: %d: %s", e.Status, e.Message)
}

// Structured はバックエンドが機械可読なエラーコードを返したかどうかを返す。
// OAuth形式の汎用値（invalid_request等）は構造化コードとして扱わない。
func (e *Error) Structured() bool {
	switch e.Code {
	case "", "invalid_request", "unexpected_failure":
		return false
	}
	return true
}

// errorBody はGoTrueのエラーレスポンスの各形式を受けるための構造体。
//
//	{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}
//	{"error":"invalid_grant","error_description":"Invalid login credentials"}
//	{"code":"over_request_rate_limit","message":"..."}
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	ErrorName        string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// parseError はエラーレスポンスボディを*Errorに変換する。
// JSONでないボディはそのままメッセージとして扱う。
func parseError(status int, body []byte) *Error {
	e := &Error{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
		return e
	}

	e.Code = eb.ErrorCode
	if e.Code == "" && len(eb.Code) > 0 {
		// codeは数値（HTTPステータス）または文字列（エラーコード）
		var s string
		if err := json.Unmarshal(eb.Code, &s); err == nil {
			if _, convErr := strconv.Atoi(s); convErr != nil {
				e.Code = s
			}
		}
	}
	if e.Code == "" {
		e.Code = eb.ErrorName
	}

	for _, m := range []string{eb.Msg, eb.Message, eb.ErrorDescription, eb.ErrorName} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}

	return e
}
