package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/melodia/internal/middleware"
	"github.com/hitoshi/melodia/internal/model"
	"github.com/hitoshi/melodia/internal/repository"
	"github.com/hitoshi/melodia/internal/session"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	loginFn    func(ctx context.Context, creds model.Credentials) (*model.Session, *model.User, error)
	registerFn func(ctx context.Context, creds model.Credentials, name string) (*model.Session, *model.User, error)
	logoutFn   func(ctx context.Context, accessToken string) error
}

func (m *mockAuthService) Login(ctx context.Context, creds model.Credentials) (*model.Session, *model.User, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, creds)
	}
	return nil, nil, nil
}

func (m *mockAuthService) Register(ctx context.Context, creds model.Credentials, name string) (*model.Session, *model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, creds, name)
	}
	return nil, nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, accessToken string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, accessToken)
	}
	return nil
}

// mockResolver はSessionResolverのモック実装。
type mockResolver struct {
	resolveFn func(ctx context.Context, r *http.Request) (*session.Resolution, error)
	calls     int
}

func (m *mockResolver) Resolve(ctx context.Context, r *http.Request) (*session.Resolution, error) {
	m.calls++
	if m.resolveFn != nil {
		return m.resolveFn(ctx, r)
	}
	return &session.Resolution{}, nil
}

// mockFeedbackRepo はFeedbackRepositoryのモック実装。
type mockFeedbackRepo struct {
	setFeedbackFn     func(ctx context.Context, kind model.FeedbackKind, itemID int64, studentID string, fb repository.TeacherFeedback) error
	requestFeedbackFn func(ctx context.Context, kind model.FeedbackKind, itemID int64, studentID string) error
	setReplyFn        func(ctx context.Context, kind model.FeedbackKind, itemID int64, studentID, message string, at time.Time) error
	findFeedbackFn    func(ctx context.Context, kind model.FeedbackKind, itemID int64) (*model.Feedback, error)
}

func (m *mockFeedbackRepo) SetFeedback(ctx context.Context, kind model.FeedbackKind, itemID int64, studentID string, fb repository.TeacherFeedback) error {
	if m.setFeedbackFn != nil {
		return m.setFeedbackFn(ctx, kind, itemID, studentID, fb)
	}
	return nil
}

func (m *mockFeedbackRepo) RequestFeedback(ctx context.Context, kind model.FeedbackKind, itemID int64, studentID string) error {
	if m.requestFeedbackFn != nil {
		return m.requestFeedbackFn(ctx, kind, itemID, studentID)
	}
	return nil
}

func (m *mockFeedbackRepo) SetReply(ctx context.Context, kind model.FeedbackKind, itemID int64, studentID, message string, at time.Time) error {
	if m.setReplyFn != nil {
		return m.setReplyFn(ctx, kind, itemID, studentID, message, at)
	}
	return nil
}

func (m *mockFeedbackRepo) FindFeedback(ctx context.Context, kind model.FeedbackKind, itemID int64) (*model.Feedback, error) {
	if m.findFeedbackFn != nil {
		return m.findFeedbackFn(ctx, kind, itemID)
	}
	return nil, nil
}

// mockPracticeRepo はPracticeRecordRepositoryのモック実装。
type mockPracticeRepo struct {
	listFn   func(ctx context.Context, studentID string, limit int) ([]*model.PracticeRecord, error)
	createFn func(ctx context.Context, rec *model.PracticeRecord) error
}

func (m *mockPracticeRepo) ListByStudent(ctx context.Context, studentID string, limit int) ([]*model.PracticeRecord, error) {
	if m.listFn != nil {
		return m.listFn(ctx, studentID, limit)
	}
	return []*model.PracticeRecord{}, nil
}

func (m *mockPracticeRepo) Create(ctx context.Context, rec *model.PracticeRecord) error {
	if m.createFn != nil {
		return m.createFn(ctx, rec)
	}
	rec.ID = 1
	return nil
}

// mockAssignmentRepo はAssignmentRepositoryのモック実装。
type mockAssignmentRepo struct {
	listFn         func(ctx context.Context, studentID string) ([]*model.Assignment, error)
	updateStatusFn func(ctx context.Context, id int64, studentID string, status model.AssignmentStatus) error
}

func (m *mockAssignmentRepo) ListByStudent(ctx context.Context, studentID string) ([]*model.Assignment, error) {
	if m.listFn != nil {
		return m.listFn(ctx, studentID)
	}
	return []*model.Assignment{}, nil
}

func (m *mockAssignmentRepo) UpdateStatus(ctx context.Context, id int64, studentID string, status model.AssignmentStatus) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, studentID, status)
	}
	return nil
}

// mockContactStore はContactStoreのモック実装。
type mockContactStore struct {
	created []*model.ContactInquiry
	err     error
}

func (m *mockContactStore) Create(ctx context.Context, inquiry *model.ContactInquiry) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, inquiry)
	return nil
}

// mockBlogSource はBlogSourceのモック実装。
type mockBlogSource struct {
	latestFn func(ctx context.Context, n int) ([]model.BlogEntry, error)
}

func (m *mockBlogSource) Latest(ctx context.Context, n int) ([]model.BlogEntry, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, n)
	}
	return nil, nil
}

// mockPinger はPingerのモック実装。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error { return m.err }

// withSession はセッション確認済みのリクエストを返す。
func withSession(r *http.Request, userID, name string) *http.Request {
	ctx := middleware.ContextWithSession(r.Context(), &model.Session{
		UserID:      userID,
		DisplayName: name,
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	return r.WithContext(ctx)
}
