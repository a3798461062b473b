// Package validation はgo-playground/validatorによる入力検証を提供する。
// 検証エラーはJSONフィールド名をキーとする日本語メッセージのマップに変換する。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Messages はフィールド・タグごとのメッセージ上書き。
// キーは "field" または "field.tag"（fieldはJSON名）。
type Messages map[string]string

// FieldErrors はJSONフィールド名ごとの検証エラーメッセージ。
type FieldErrors map[string]string

// Error はerrorインターフェースを実装する。
func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for field, msg := range fe {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// Get はシングルトンのvalidatorを返す。
// フィールド名にはjsonタグ（なければformタグ）の名前を使用する。
func Get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, key := range []string{"json", "form"} {
				name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})
	})
	return validate
}

// Struct は構造体を検証する。問題がなければnilを返す。
func Struct(s any, msgs Messages) FieldErrors {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"_": err.Error()}
	}

	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if _, exists := out[field]; exists {
			continue
		}
		out[field] = translate(fe, msgs)
	}
	return out
}

// Var は単一の値をタグで検証する。問題がなければ空文字列を返す。
func Var(field string, value any, tag string, msgs Messages) string {
	err := Get().Var(value, tag)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if msg, ok := msgs[field+"."+fe.Tag()]; ok {
		return msg
	}
	if msg, ok := msgs[field]; ok {
		return msg
	}
	return defaultMessage(field, fe.Tag(), fe.Param())
}

func translate(fe validator.FieldError, msgs Messages) string {
	if msg, ok := msgs[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	if msg, ok := msgs[fe.Field()]; ok {
		return msg
	}
	return defaultMessage(fe.Field(), fe.Tag(), fe.Param())
}

// defaultMessage はタグごとの既定メッセージを返す。
func defaultMessage(field, tag, param string) string {
	switch tag {
	case "required":
		return fmt.Sprintf("%sは必須です", field)
	case "email":
		return "有効なメールアドレスを入力してください"
	case "min":
		return fmt.Sprintf("%sは%s文字以上で入力してください", field, param)
	case "max":
		return fmt.Sprintf("%sは%s文字以内で入力してください", field, param)
	case "oneof":
		return fmt.Sprintf("%sは次のいずれかを指定してください: %s", field, param)
	case "gt", "gte":
		return fmt.Sprintf("%sは%s以上の値を指定してください", field, param)
	default:
		return fmt.Sprintf("%sが不正です", field)
	}
}
