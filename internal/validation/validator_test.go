package validation

import "testing"

type sampleForm struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Message string `form:"message" validate:"min=10"`
}

func TestStruct_Valid_ReturnsNil(t *testing.T) {
	errs := Struct(&sampleForm{Name: "a", Email: "a@b.com", Message: "1234567890"}, nil)
	if errs != nil {
		t.Errorf("expected nil, got %v", errs)
	}
}

func TestStruct_UsesJSONAndFormNames(t *testing.T) {
	errs := Struct(&sampleForm{Email: "bad"}, nil)
	for _, field := range []string{"name", "email", "message"} {
		if _, ok := errs[field]; !ok {
			t.Errorf("expected error for %q, got %v", field, errs)
		}
	}
}

func TestStruct_MessageOverride(t *testing.T) {
	errs := Struct(&sampleForm{Name: "a", Email: "a@b.com", Message: "短い"}, Messages{
		"message.min": "メッセージは10文字以上で入力してください",
	})
	if errs["message"] != "メッセージは10文字以上で入力してください" {
		t.Errorf("message error = %q", errs["message"])
	}
}

func TestStruct_MinCountsRunes(t *testing.T) {
	// 日本語10文字はバイト長ではなく文字数で判定される
	errs := Struct(&sampleForm{Name: "a", Email: "a@b.com", Message: "あいうえおかきくけこ"}, nil)
	if errs != nil {
		t.Errorf("expected nil for 10 runes, got %v", errs)
	}
}

func TestVar_Min(t *testing.T) {
	if msg := Var("password", "short", "min=8", nil); msg == "" {
		t.Error("expected error for 5 characters")
	}
	if msg := Var("password", "longenough", "min=8", nil); msg != "" {
		t.Errorf("expected no error, got %q", msg)
	}
}

func TestFieldErrors_Error(t *testing.T) {
	fe := FieldErrors{"email": "必須です"}
	if fe.Error() != "email: 必須です" {
		t.Errorf("Error() = %q", fe.Error())
	}
}
