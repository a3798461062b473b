package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/melodia/internal/middleware"
	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/repository"
	"github.com/hitoshi/melodia/internal/validation"
)

const (
	defaultPracticeRecordLimit = 30
	maxPracticeRecordLimit     = 100
)

// MyPageHandler はマイページの練習記録・課題のHTTPハンドラー。
// すべての操作はログイン中の生徒自身のデータのみを対象とする。
type MyPageHandler struct {
	practice    repository.PracticeRecordRepository
	assignments repository.AssignmentRepository
}

// NewMyPageHandler はMyPageHandlerを生成する。
func NewMyPageHandler(practice repository.PracticeRecordRepository, assignments repository.AssignmentRepository) *MyPageHandler {
	return &MyPageHandler{practice: practice, assignments: assignments}
}

type practiceRecordRequest struct {
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Duration int    `json:"duration" validate:"gte=1,lte=1440"`
	Piece    string `json:"piece" validate:"required,max=200"`
	Notes    string `json:"notes" validate:"max=2000"`
	Mood     string `json:"mood" validate:"omitempty,oneof=good normal bad"`
}

var practiceRecordMessages = validation.Messages{
	"date":           "日付をYYYY-MM-DD形式で入力してください",
	"duration":       "練習時間は1〜1440分で入力してください",
	"piece.required": "曲名を入力してください",
	"piece.max":      "曲名は200文字以内で入力してください",
	"notes.max":      "メモは2000文字以内で入力してください",
	"mood":           "気分は good、normal、bad のいずれかを指定してください",
}

type assignmentStatusRequest struct {
	Status string `json:"status"`
}

type practiceRecordListResponse struct {
	Records []*model.PracticeRecord `json:"records"`
}

type assignmentListResponse struct {
	Assignments []*model.Assignment `json:"assignments"`
}

type assignmentStatusResponse struct {
	Message string                 `json:"message"`
	ID      int64                  `json:"id"`
	Status  model.AssignmentStatus `json:"status"`
}

// ListPracticeRecords は生徒の練習記録を新しい順に返す。
// GET /api/practice-records?limit=30
func (h *MyPageHandler) ListPracticeRecords(w http.ResponseWriter, r *http.Request) {
	studentID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	limit := defaultPracticeRecordLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			middleware.WriteMessageError(w, http.StatusBadRequest, "limitには正の整数を指定してください")
			return
		}
		limit = min(n, maxPracticeRecordLimit)
	}

	records, err := h.practice.ListByStudent(r.Context(), studentID, limit)
	if err != nil {
		slog.Error("failed to list practice records",
			slog.String("user_id", studentID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, practiceRecordListResponse{Records: records})
}

// CreatePracticeRecord は練習記録を追加する。
// POST /api/practice-records
func (h *MyPageHandler) CreatePracticeRecord(w http.ResponseWriter, r *http.Request) {
	studentID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req practiceRecordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeParseError(w, err)
		return
	}
	req.Piece = strings.TrimSpace(req.Piece)
	if fieldErrs := validation.Struct(&req, practiceRecordMessages); fieldErrs != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorResponseBody{
			Error:   "入力内容に誤りがあります",
			Code:    model.ErrCodeValidation,
			Details: fieldErrs,
		})
		return
	}
	if req.Mood == "" {
		req.Mood = "normal"
	}

	rec := &model.PracticeRecord{
		StudentID: studentID,
		Date:      req.Date,
		Duration:  req.Duration,
		Piece:     req.Piece,
		Notes:     req.Notes,
		Mood:      req.Mood,
	}
	if err := h.practice.Create(r.Context(), rec); err != nil {
		slog.Error("failed to create practice record",
			slog.String("user_id", studentID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, rec)
}

// ListAssignments は生徒の課題を期限の近い順に返す。
// GET /api/assignments
func (h *MyPageHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	studentID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	list, err := h.assignments.ListByStudent(r.Context(), studentID)
	if err != nil {
		slog.Error("failed to list assignments",
			slog.String("user_id", studentID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, assignmentListResponse{Assignments: list})
}

// UpdateAssignmentStatus は課題の進捗状態を更新する。
// PUT /api/assignments/{id}/status
func (h *MyPageHandler) UpdateAssignmentStatus(w http.ResponseWriter, r *http.Request) {
	studentID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		middleware.WriteMessageError(w, http.StatusBadRequest, "課題IDが不正です")
		return
	}

	var req assignmentStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeParseError(w, err)
		return
	}
	status := model.AssignmentStatus(req.Status)
	if !status.Valid() {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStatusError(req.Status))
		return
	}

	if err := h.assignments.UpdateStatus(r.Context(), id, studentID, status); err != nil {
		writeStoreError(w, err, model.FeedbackAssignment, id, "ステータスの更新に失敗しました")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, assignmentStatusResponse{
		Message: "ステータスを更新しました",
		ID:      id,
		Status:  status,
	})
}
