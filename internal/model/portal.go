package model

import "time"

// FeedbackKind はフィードバック対象の種別。
type FeedbackKind string

const (
	// FeedbackPractice は練習記録へのフィードバック。
	FeedbackPractice FeedbackKind = "practice"
	// FeedbackAssignment は課題へのフィードバック。
	FeedbackAssignment FeedbackKind = "assignment"
)

// ParseFeedbackKind は文字列をFeedbackKindに変換する。
func ParseFeedbackKind(s string) (FeedbackKind, bool) {
	switch FeedbackKind(s) {
	case FeedbackPractice, FeedbackAssignment:
		return FeedbackKind(s), true
	}
	return "", false
}

// Table は種別に対応するテーブル名を返す。
func (k FeedbackKind) Table() string {
	if k == FeedbackAssignment {
		return "assignments"
	}
	return "practice_records"
}

// Label はエラーメッセージ用の日本語名を返す。
func (k FeedbackKind) Label() string {
	if k == FeedbackAssignment {
		return "課題"
	}
	return "練習記録"
}

// Feedback は練習記録・課題に付与された講師フィードバックと生徒の返信。
type Feedback struct {
	Feedback         *string    `json:"feedback"`
	FeedbackDate     *time.Time `json:"feedback_date"`
	TeacherID        *string    `json:"teacher_id"`
	TeacherName      *string    `json:"teacher_name"`
	NeedsFeedback    bool       `json:"needs_feedback"`
	StudentReply     *string    `json:"student_reply"`
	StudentReplyDate *time.Time `json:"student_reply_date"`
}

// PracticeRecord は生徒の練習記録。
type PracticeRecord struct {
	ID        int64     `json:"id"`
	StudentID string    `json:"student_id"`
	Date      string    `json:"date"`
	Duration  int       `json:"duration"`
	Piece     string    `json:"piece"`
	Notes     string    `json:"notes"`
	Mood      string    `json:"mood"`
	CreatedAt time.Time `json:"created_at"`
	Feedback
}

// AssignmentStatus は課題の進捗状態。
type AssignmentStatus string

const (
	AssignmentNotStarted AssignmentStatus = "not_started"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
)

// Valid は定義済みのステータスかどうかを返す。
func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentNotStarted, AssignmentInProgress, AssignmentCompleted:
		return true
	}
	return false
}

// Assignment は講師から生徒に出された課題。
type Assignment struct {
	ID          int64            `json:"id"`
	StudentID   string           `json:"student_id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	DueDate     string           `json:"due_date"`
	Status      AssignmentStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	Feedback
}

// お問い合わせの対応状態
const (
	ContactStatusNew     = "new"
	ContactStatusHandled = "handled"
)

// ContactInquiry はお問い合わせフォームの送信内容。
type ContactInquiry struct {
	ID               string
	Name             string
	Email            string
	Phone            string
	ContactType      string
	PreferredContact string
	Subject          string
	Message          string
	FileName         string
	Status           string
	CreatedAt        time.Time
}

// BlogEntry は外部ブログのRSSから取得した記事。
type BlogEntry struct {
	Title          string     `json:"title"`
	Link           string     `json:"link"`
	GUID           string     `json:"guid,omitempty"`
	PubDate        string     `json:"pubDate,omitempty"`
	ISODate        *time.Time `json:"isoDate,omitempty"`
	Content        string     `json:"content,omitempty"`
	ContentSnippet string     `json:"contentSnippet,omitempty"`
}
