package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/melodia/internal/model"
)

// PostgresFeedbackRepo はPostgreSQLを使用したフィードバックリポジトリ。
type PostgresFeedbackRepo struct {
	db *sql.DB
}

// NewPostgresFeedbackRepo はPostgresFeedbackRepoを生成する。
func NewPostgresFeedbackRepo(db *sql.DB) *PostgresFeedbackRepo {
	return &PostgresFeedbackRepo{db: db}
}

// SetFeedback は講師のフィードバックを記録する。
// 新しいフィードバックが付いた時点で依頼フラグは下ろす。
func (r *PostgresFeedbackRepo) SetFeedback(ctx context.Context, kind model.FeedbackKind, itemID int64, studentID string, fb TeacherFeedback) error {
	query := fmt.Sprintf(
		`UPDATE %s
		 SET feedback = $2, feedback_date = $3, teacher_id = $4, teacher_name = $5, needs_feedback = FALSE
		 WHERE id = $1`, kind.Table())
	args := []any{itemID, fb.Text, fb.At, fb.TeacherID, fb.TeacherName}
	if studentID != "" {
		query += ` AND student_id = $6`
		args = append(args, studentID)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("フィードバックの保存に失敗しました: %w", err)
	}
	return requireAffected(result)
}

// RequestFeedback は生徒自身の行にフィードバック依頼フラグを立てる。
func (r *PostgresFeedbackRepo) RequestFeedback(ctx context.Context, kind model.FeedbackKind, itemID int64, studentID string) error {
	result, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET needs_feedback = TRUE WHERE id = $1 AND student_id = $2`, kind.Table()),
		itemID, studentID,
	)
	if err != nil {
		return fmt.Errorf("フィードバック依頼の保存に失敗しました: %w", err)
	}
	return requireAffected(result)
}

// SetReply は生徒自身の行に返信を記録する。
func (r *PostgresFeedbackRepo) SetReply(ctx context.Context, kind model.FeedbackKind, itemID int64, studentID, message string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET student_reply = $3, student_reply_date = $4 WHERE id = $1 AND student_id = $2`, kind.Table()),
		itemID, studentID, message, at,
	)
	if err != nil {
		return fmt.Errorf("フィードバック返信の保存に失敗しました: %w", err)
	}
	return requireAffected(result)
}

// FindFeedback はフィードバック列を取得する。見つからない場合はnilを返す。
func (r *PostgresFeedbackRepo) FindFeedback(ctx context.Context, kind model.FeedbackKind, itemID int64) (*model.Feedback, error) {
	fb := &model.Feedback{}
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(
			`SELECT feedback, feedback_date, teacher_id, teacher_name, needs_feedback, student_reply, student_reply_date
			 FROM %s WHERE id = $1`, kind.Table()),
		itemID,
	).Scan(feedbackScanDest(fb)...)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードバックの取得に失敗しました: %w", err)
	}
	return fb, nil
}

// feedbackScanDest はフィードバック列のScan先を返す。
// SELECTの列順は feedback, feedback_date, teacher_id, teacher_name, needs_feedback, student_reply, student_reply_date。
func feedbackScanDest(fb *model.Feedback) []any {
	return []any{
		&fb.Feedback, &fb.FeedbackDate, &fb.TeacherID, &fb.TeacherName,
		&fb.NeedsFeedback, &fb.StudentReply, &fb.StudentReplyDate,
	}
}

// requireAffected は更新件数が0の場合にErrNotFoundを返す。
func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
