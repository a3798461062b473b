package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/melodia/internal/middleware"
	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/repository"
)

// defaultTeacherName はユーザー名が未設定の講師の表示名。
const defaultTeacherName = "講師"

// FeedbackHandler は練習記録・課題へのフィードバックのHTTPハンドラー。
type FeedbackHandler struct {
	repo repository.FeedbackRepository
	now  func() time.Time
}

// NewFeedbackHandler はFeedbackHandlerを生成する。
func NewFeedbackHandler(repo repository.FeedbackRepository) *FeedbackHandler {
	return &FeedbackHandler{repo: repo, now: time.Now}
}

type feedbackRequest struct {
	Type      string     `json:"type"`
	ItemID    flexibleID `json:"itemId"`
	Feedback  string     `json:"feedback"`
	StudentID string     `json:"studentId"`
	Message   string     `json:"message"`
}

// Submit は講師のフィードバックを記録する。
// POST /api/feedback
//
// TODO: 講師ロールの確認がなく、ログイン済みの生徒も記録できる。app_metadata.roleで講師に限定する。
func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeParseError(w, err)
		return
	}
	if req.Type == "" || req.ItemID == 0 || strings.TrimSpace(req.Feedback) == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldsError())
		return
	}
	kind, ok := model.ParseFeedbackKind(req.Type)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidFeedbackTypeError(req.Type))
		return
	}

	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	teacherName := sess.DisplayName
	if teacherName == "" {
		teacherName = defaultTeacherName
	}

	err := h.repo.SetFeedback(r.Context(), kind, int64(req.ItemID), req.StudentID, repository.TeacherFeedback{
		Text:        req.Feedback,
		TeacherID:   sess.UserID,
		TeacherName: teacherName,
		At:          h.now().UTC(),
	})
	if err != nil {
		writeStoreError(w, err, kind, int64(req.ItemID), "フィードバックの保存に失敗しました")
		return
	}

	slog.Info("feedback submitted",
		slog.String("kind", string(kind)),
		slog.Int64("item_id", int64(req.ItemID)),
		slog.String("teacher_id", sess.UserID),
	)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "フィードバックを送信しました"})
}

// Request は生徒が自分の練習記録・課題にフィードバックを依頼する。
// PUT /api/feedback
func (h *FeedbackHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeParseError(w, err)
		return
	}
	if req.Type == "" || req.ItemID == 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldsError())
		return
	}
	kind, ok := model.ParseFeedbackKind(req.Type)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidFeedbackTypeError(req.Type))
		return
	}

	studentID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.repo.RequestFeedback(r.Context(), kind, int64(req.ItemID), studentID); err != nil {
		writeStoreError(w, err, kind, int64(req.ItemID), "フィードバックリクエストの保存に失敗しました")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "フィードバックをリクエストしました"})
}

// Get はフィードバックを取得する。
// GET /api/feedback?type=practice&itemId=1
//
// TODO: 所有者で絞り込んでいないため、itemIdを知っていれば他の生徒の記録も読める。
func (h *FeedbackHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ, rawID := q.Get("type"), q.Get("itemId")
	if typ == "" || rawID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldsError())
		return
	}
	kind, ok := model.ParseFeedbackKind(typ)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidFeedbackTypeError(typ))
		return
	}
	id, ok := parseID(rawID)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldsError())
		return
	}

	fb, err := h.repo.FindFeedback(r.Context(), kind, id)
	if err != nil {
		writeStoreError(w, err, kind, id, "フィードバックの取得に失敗しました")
		return
	}
	if fb == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewRecordNotFoundError(kind, id))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, fb)
}

// Reply は生徒がフィードバックに返信する。
// POST /api/feedback/reply
func (h *FeedbackHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeParseError(w, err)
		return
	}
	if req.Type == "" || req.ItemID == 0 || strings.TrimSpace(req.Message) == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldsError())
		return
	}
	kind, ok := model.ParseFeedbackKind(req.Type)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidFeedbackTypeError(req.Type))
		return
	}

	studentID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.repo.SetReply(r.Context(), kind, int64(req.ItemID), studentID, req.Message, h.now().UTC()); err != nil {
		writeStoreError(w, err, kind, int64(req.ItemID), "フィードバック返信の保存に失敗しました")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "フィードバック返信を送信しました"})
}
