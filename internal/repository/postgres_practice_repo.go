package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/melodia/internal/model"
)

const practiceRecordColumns = `id, student_id, to_char(date, 'YYYY-MM-DD'), duration, piece, notes, mood, created_at,
	feedback, feedback_date, teacher_id, teacher_name, needs_feedback, student_reply, student_reply_date`

// PostgresPracticeRecordRepo はPostgreSQLを使用した練習記録リポジトリ。
type PostgresPracticeRecordRepo struct {
	db *sql.DB
}

// NewPostgresPracticeRecordRepo はPostgresPracticeRecordRepoを生成する。
func NewPostgresPracticeRecordRepo(db *sql.DB) *PostgresPracticeRecordRepo {
	return &PostgresPracticeRecordRepo{db: db}
}

// ListByStudent は生徒の練習記録を日付の新しい順に返す。
func (r *PostgresPracticeRecordRepo) ListByStudent(ctx context.Context, studentID string, limit int) ([]*model.PracticeRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+practiceRecordColumns+`
		 FROM practice_records WHERE student_id = $1
		 ORDER BY date DESC, id DESC LIMIT $2`,
		studentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("練習記録一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	records := make([]*model.PracticeRecord, 0)
	for rows.Next() {
		rec := &model.PracticeRecord{}
		dest := append([]any{
			&rec.ID, &rec.StudentID, &rec.Date, &rec.Duration, &rec.Piece, &rec.Notes, &rec.Mood, &rec.CreatedAt,
		}, feedbackScanDest(&rec.Feedback)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("練習記録の読み取りに失敗しました: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("練習記録一覧の走査に失敗しました: %w", err)
	}
	return records, nil
}

// Create は練習記録を作成し、採番されたIDと作成日時を設定する。
func (r *PostgresPracticeRecordRepo) Create(ctx context.Context, rec *model.PracticeRecord) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO practice_records (student_id, date, duration, piece, notes, mood)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		rec.StudentID, rec.Date, rec.Duration, rec.Piece, rec.Notes, rec.Mood,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("練習記録の作成に失敗しました: %w", err)
	}
	return nil
}
