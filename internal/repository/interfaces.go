// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/melodia/internal/model"
)

// ErrNotFound は更新対象の行が存在しない（または所有者が一致しない）ことを表す。
var ErrNotFound = errors.New("record not found")

// TeacherFeedback は講師が記録するフィードバック内容。
type TeacherFeedback struct {
	Text        string
	TeacherID   string
	TeacherName string
	At          time.Time
}

// FeedbackRepository は練習記録・課題のフィードバック列の永続化インターフェース。
// 対象テーブルはFeedbackKindで切り替える。
type FeedbackRepository interface {
	// SetFeedback は講師のフィードバックを記録する。
	// studentIDが空でない場合は所有者も一致する行のみ更新する。
	// 対象がない場合はErrNotFoundを返す。
	SetFeedback(ctx context.Context, kind model.FeedbackKind, itemID int64, studentID string, fb TeacherFeedback) error

	// RequestFeedback は生徒自身の行にフィードバック依頼フラグを立てる。
	RequestFeedback(ctx context.Context, kind model.FeedbackKind, itemID int64, studentID string) error

	// SetReply は生徒自身の行に返信を記録する。
	SetReply(ctx context.Context, kind model.FeedbackKind, itemID int64, studentID, message string, at time.Time) error

	// FindFeedback はフィードバック列を取得する。見つからない場合はnilを返す。
	FindFeedback(ctx context.Context, kind model.FeedbackKind, itemID int64) (*model.Feedback, error)
}

// PracticeRecordRepository は練習記録の永続化インターフェース。
type PracticeRecordRepository interface {
	// ListByStudent は生徒の練習記録を日付の新しい順に返す。
	ListByStudent(ctx context.Context, studentID string, limit int) ([]*model.PracticeRecord, error)
	// Create は練習記録を作成し、採番されたIDと作成日時を設定する。
	Create(ctx context.Context, rec *model.PracticeRecord) error
}

// AssignmentRepository は課題の永続化インターフェース。
type AssignmentRepository interface {
	// ListByStudent は生徒の課題を期限の近い順に返す。
	ListByStudent(ctx context.Context, studentID string) ([]*model.Assignment, error)
	// UpdateStatus は生徒自身の課題のステータスを更新する。対象がない場合はErrNotFoundを返す。
	UpdateStatus(ctx context.Context, id int64, studentID string, status model.AssignmentStatus) error
}

// ContactRepository はお問い合わせの永続化インターフェース。
type ContactRepository interface {
	// Create はお問い合わせを保存する。
	Create(ctx context.Context, inquiry *model.ContactInquiry) error
	// DeleteHandledBefore は対応済みで指定日時より前に受け付けたお問い合わせを削除し、件数を返す。
	DeleteHandledBefore(ctx context.Context, before time.Time) (int64, error)
}
