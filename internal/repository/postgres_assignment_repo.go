package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/melodia/internal/model"
)

// PostgresAssignmentRepo はPostgreSQLを使用した課題リポジトリ。
type PostgresAssignmentRepo struct {
	db *sql.DB
}

// NewPostgresAssignmentRepo はPostgresAssignmentRepoを生成する。
func NewPostgresAssignmentRepo(db *sql.DB) *PostgresAssignmentRepo {
	return &PostgresAssignmentRepo{db: db}
}

// ListByStudent は生徒の課題を期限の近い順に返す。期限未設定の課題は末尾に並ぶ。
func (r *PostgresAssignmentRepo) ListByStudent(ctx context.Context, studentID string) ([]*model.Assignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, student_id, title, description, COALESCE(to_char(due_date, 'YYYY-MM-DD'), ''), status, created_at,
		        feedback, feedback_date, teacher_id, teacher_name, needs_feedback, student_reply, student_reply_date
		 FROM assignments WHERE student_id = $1
		 ORDER BY due_date ASC NULLS LAST, id ASC`,
		studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("課題一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	assignments := make([]*model.Assignment, 0)
	for rows.Next() {
		a := &model.Assignment{}
		dest := append([]any{
			&a.ID, &a.StudentID, &a.Title, &a.Description, &a.DueDate, &a.Status, &a.CreatedAt,
		}, feedbackScanDest(&a.Feedback)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("課題の読み取りに失敗しました: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("課題一覧の走査に失敗しました: %w", err)
	}
	return assignments, nil
}

// UpdateStatus は生徒自身の課題のステータスを更新する。
func (r *PostgresAssignmentRepo) UpdateStatus(ctx context.Context, id int64, studentID string, status model.AssignmentStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE assignments SET status = $3 WHERE id = $1 AND student_id = $2`,
		id, studentID, string(status),
	)
	if err != nil {
		return fmt.Errorf("課題ステータスの更新に失敗しました: %w", err)
	}
	return requireAffected(result)
}
