package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/melodia/internal/middleware"
	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/validation"
)

const (
	// maxContactBodyBytes は添付ファイルを含むお問い合わせフォームの上限。
	maxContactBodyBytes = 10 << 20
	// contactMemoryBytes はmultipartをメモリ上で扱う上限。超過分は一時ファイルになる。
	contactMemoryBytes = 1 << 20
)

// ContactStore はお問い合わせの保存先。
type ContactStore interface {
	Create(ctx context.Context, inquiry *model.ContactInquiry) error
}

// ContactHandler はお問い合わせフォームのHTTPハンドラー。
type ContactHandler struct {
	store ContactStore
	now   func() time.Time
	newID func() string
}

// NewContactHandler はContactHandlerを生成する。
func NewContactHandler(store ContactStore) *ContactHandler {
	return &ContactHandler{store: store, now: time.Now, newID: uuid.NewString}
}

// contactForm はフォーム入力値。
type contactForm struct {
	Name             string `form:"name" validate:"required"`
	Email            string `form:"email" validate:"required,email"`
	Phone            string `form:"phone" validate:"omitempty,max=30"`
	ContactType      string `form:"contactType" validate:"oneof=general lesson trial pricing other"`
	PreferredContact string `form:"preferredContact" validate:"oneof=email phone any"`
	Subject          string `form:"subject" validate:"required,max=200"`
	Message          string `form:"message" validate:"min=10,max=5000"`
	Policy           bool   `form:"policy" validate:"eq=true"`
}

var contactMessages = validation.Messages{
	"name":             "名前を入力してください",
	"email":            "有効なメールアドレスを入力してください",
	"phone":            "電話番号は30文字以内で入力してください",
	"contactType":      "問い合わせ種別を選択してください",
	"preferredContact": "希望連絡方法を選択してください",
	"subject.required": "件名を入力してください",
	"subject.max":      "件名は200文字以内で入力してください",
	"message.min":      "メッセージは10文字以上で入力してください",
	"message.max":      "メッセージは5000文字以内で入力してください",
	"policy":           "プライバシーポリシーに同意する必要があります",
}

type contactErrorResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Errors  validation.FieldErrors `json:"errors,omitempty"`
}

type contactSuccessResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	InquiryID string `json:"inquiryId"`
}

// Submit はお問い合わせを受け付ける。
// application/x-www-form-urlencoded と multipart/form-data に対応する。
// 添付ファイルはファイル名のみを記録し、内容は保存しない。
// POST /api/contact
func (h *ContactHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxContactBodyBytes)
	if err := parseContactForm(r); err != nil {
		slog.Warn("failed to parse contact form", slog.String("error", err.Error()))
		middleware.WriteJSON(w, http.StatusBadRequest, contactErrorResponse{
			Message: "リクエストの解析に失敗しました",
		})
		return
	}

	form := contactForm{
		Name:             strings.TrimSpace(r.FormValue("name")),
		Email:            strings.TrimSpace(r.FormValue("email")),
		Phone:            strings.TrimSpace(r.FormValue("phone")),
		ContactType:      r.FormValue("contactType"),
		PreferredContact: r.FormValue("preferredContact"),
		Subject:          strings.TrimSpace(r.FormValue("subject")),
		Message:          r.FormValue("message"),
		Policy:           r.FormValue("policy") == "true",
	}
	if fieldErrs := validation.Struct(&form, contactMessages); fieldErrs != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, contactErrorResponse{Errors: fieldErrs})
		return
	}

	inquiry := &model.ContactInquiry{
		ID:               h.newID(),
		Name:             form.Name,
		Email:            form.Email,
		Phone:            form.Phone,
		ContactType:      form.ContactType,
		PreferredContact: form.PreferredContact,
		Subject:          form.Subject,
		Message:          form.Message,
		FileName:         attachmentName(r),
		Status:           model.ContactStatusNew,
		CreatedAt:        h.now().UTC(),
	}
	if err := h.store.Create(r.Context(), inquiry); err != nil {
		slog.Error("failed to store contact inquiry", slog.String("error", err.Error()))
		middleware.WriteJSON(w, http.StatusInternalServerError, contactErrorResponse{
			Message: "予期せぬエラーが発生しました",
		})
		return
	}

	slog.Info("contact inquiry received",
		slog.String("inquiry_id", inquiry.ID),
		slog.String("contact_type", inquiry.ContactType),
		slog.Bool("has_attachment", inquiry.FileName != ""),
	)
	middleware.WriteJSON(w, http.StatusOK, contactSuccessResponse{
		Success:   true,
		Message:   "お問い合わせを受け付けました",
		InquiryID: inquiry.ID,
	})
}

// parseContactForm はContent-Typeに応じてフォームを解析する。
func parseContactForm(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	switch mediaType {
	case "multipart/form-data":
		return r.ParseMultipartForm(contactMemoryBytes)
	case "application/x-www-form-urlencoded":
		return r.ParseForm()
	default:
		return errors.New("unsupported content type: " + mediaType)
	}
}

// attachmentName は添付ファイルのファイル名を返す。添付がない場合は空文字列。
func attachmentName(r *http.Request) string {
	if r.MultipartForm == nil {
		return ""
	}
	files := r.MultipartForm.File["attachment"]
	if len(files) == 0 {
		return ""
	}
	return filepath.Base(files[0].Filename)
}
