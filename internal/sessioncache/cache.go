// Package sessioncache はクライアント側（1タブ単位）のセッション表示キャッシュを提供する。
//
// キャッシュは表示用のスナップショット（名前・メールアドレス）を保持し、
// 画面遷移のたびにバックエンドへ問い合わせることを避ける。
// スナップショットは認可の根拠にはならない。保護された操作の可否は
// サーバー側のセッションゲートウェイとAPIが毎回バックエンドで確認する。
package sessioncache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/melodia/internal/model"
)

const (
	// SnapshotExpiry はスナップショットを楽観的に表示してよい期間。
	SnapshotExpiry = time.Hour
	// CheckInterval はバックエンドへの確認を間引く最小間隔。
	CheckInterval = 30 * time.Second
	// StorageKey はスナップショットの保存キー。
	StorageKey = "userSession"
	// HomePath はログアウト後の遷移先。
	HomePath = "/"
)

// State はキャッシュの状態。
type State int

const (
	StateUnknown State = iota
	StateDisplayedOptimistic
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateDisplayedOptimistic:
		return "displayed_optimistic"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Backend は正となるセッション状態を返す。
type Backend interface {
	// FetchSession は現在のユーザーを返す。未ログインの場合はnilを返す。
	FetchSession(ctx context.Context) (*model.User, error)
	// SignOut はバックエンドのセッションを破棄する。
	SignOut(ctx context.Context) error
}

// Navigator は画面遷移を行う。
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc は関数をNavigatorとして扱うアダプタ。
type NavigatorFunc func(path string)

// Navigate はf(path)を呼び出す。
func (f NavigatorFunc) Navigate(path string) { f(path) }

// EventKind はバックエンドから通知される認証イベントの種別。
type EventKind string

const (
	EventSignedIn  EventKind = "SIGNED_IN"
	EventSignedOut EventKind = "SIGNED_OUT"
)

// AuthEvent はバックエンドから通知される認証状態の変化。
type AuthEvent struct {
	Kind EventKind
	User *model.User // SignedInの場合のみ
}

// Snapshot は保存される表示用のユーザー情報。
type Snapshot struct {
	IsLoggedIn bool   `json:"isLoggedIn"`
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	Timestamp  int64  `json:"timestamp"` // UNIXミリ秒
}

// Options はCacheの依存関係。未指定の項目には既定値を使う。
type Options struct {
	Storage   Storage
	Now       func() time.Time
	Navigator Navigator
	// OnChange は認証状態が変わりページ全体のデータ再取得が必要なときに呼ばれる。
	OnChange func()
}

// Cache は1タブ分のセッション表示キャッシュ。
type Cache struct {
	backend   Backend
	storage   Storage
	now       func() time.Time
	navigator Navigator
	onChange  func()

	group singleflight.Group

	mu        sync.Mutex
	state     State
	user      *model.User
	lastCheck time.Time
	checked   bool
	// gen はサインアウト・サインインのたびに進め、それ以前に開始した確認の結果を破棄する。
	gen uint64
}

// New はCacheを生成する。
func New(backend Backend, opts Options) *Cache {
	c := &Cache{
		backend:   backend,
		storage:   opts.Storage,
		now:       opts.Now,
		navigator: opts.Navigator,
		onChange:  opts.OnChange,
	}
	if c.storage == nil {
		c.storage = NewMemoryStorage()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.navigator == nil {
		c.navigator = NavigatorFunc(func(string) {})
	}
	if c.onChange == nil {
		c.onChange = func() {}
	}
	return c
}

// Mount は画面表示時の初期化を行う。
// 有効期限内のスナップショットがあれば楽観的に表示状態とし、その後に確認を行う。
func (c *Cache) Mount(ctx context.Context) (State, error) {
	if snap, ok := c.readSnapshot(); ok {
		c.mu.Lock()
		if c.state == StateUnknown {
			c.state = StateDisplayedOptimistic
			c.user = snap.user()
		}
		c.mu.Unlock()
	}
	return c.Check(ctx)
}

// Check はバックエンドで正のセッション状態を確認する。
// 前回の確認からCheckIntervalが経過していない場合はバックエンドを呼ばずに現在の状態を返す。
// 状態がまだUnknownの場合は間隔に関係なく確認する。
// 確認時刻はバックエンド呼び出しの前にロック内で更新し、実行中の確認はsingleflightで共有する。
func (c *Cache) Check(ctx context.Context) (State, error) {
	c.mu.Lock()
	now := c.now()
	if c.state != StateUnknown && c.checked && now.Sub(c.lastCheck) < CheckInterval {
		state := c.state
		c.mu.Unlock()
		return state, nil
	}
	c.lastCheck = now
	c.checked = true
	gen := c.gen
	c.mu.Unlock()

	v, err, _ := c.group.Do("session:"+strconv.FormatUint(gen, 10), func() (any, error) {
		return c.backend.FetchSession(ctx)
	})
	if err != nil {
		slog.Warn("session check failed", slog.String("error", err.Error()))
		return c.State(), fmt.Errorf("failed to check session: %w", err)
	}

	user, _ := v.(*model.User)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// 確認中にサインアウト等が起きた場合はその結果を優先する
		return c.state, nil
	}
	if user == nil {
		// スナップショットは表示用として残すが、認可の根拠にはしない
		c.state = StateAnonymous
		return c.state, nil
	}
	c.state = StateAuthenticated
	c.user = user
	c.writeSnapshot(user, now)
	return c.state, nil
}

// HandleEvent はバックエンドからの認証イベントを即座に反映し、再取得を促す。
func (c *Cache) HandleEvent(ev AuthEvent) {
	c.mu.Lock()
	switch ev.Kind {
	case EventSignedIn:
		if ev.User == nil {
			c.mu.Unlock()
			return
		}
		now := c.now()
		c.gen++
		c.state = StateAuthenticated
		c.user = ev.User
		c.lastCheck = now
		c.checked = true
		c.writeSnapshot(ev.User, now)
	case EventSignedOut:
		c.signOutLocked()
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.onChange()
}

// Watch はイベントチャネルを購読し、コンテキストの終了またはチャネルのクローズまで反映し続ける。
func (c *Cache) Watch(ctx context.Context, events <-chan AuthEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ev)
		}
	}
}

// Logout はスナップショットとバックエンドのセッションを破棄し、ホームへ遷移する。
// 手元の状態はバックエンドの結果を待たずにAnonymousにする。
// バックエンドのサインアウトに失敗した場合は遷移せずにエラーを返す。
func (c *Cache) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.signOutLocked()
	c.mu.Unlock()

	if err := c.backend.SignOut(ctx); err != nil {
		slog.Error("logout failed", slog.String("error", err.Error()))
		return fmt.Errorf("failed to sign out: %w", err)
	}

	c.navigator.Navigate(HomePath)
	return nil
}

// signOutLocked はc.muを保持した状態で呼び出す。
func (c *Cache) signOutLocked() {
	c.gen++
	c.state = StateAnonymous
	c.user = nil
	c.storage.Delete(StorageKey)
}

// State は現在の状態を返す。
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DisplayUser は表示用のユーザーを返す。認可判定には使わないこと。
func (c *Cache) DisplayUser() *model.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Authorized はバックエンドで確認済みのセッションがある場合のみtrueを返す。
func (c *Cache) Authorized() bool {
	return c.State() == StateAuthenticated
}

func (c *Cache) readSnapshot() (*Snapshot, bool) {
	raw, ok := c.storage.Get(StorageKey)
	if !ok {
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		slog.Warn("discarding unreadable session snapshot", slog.String("error", err.Error()))
		c.storage.Delete(StorageKey)
		return nil, false
	}
	if !snap.IsLoggedIn || c.now().Sub(time.UnixMilli(snap.Timestamp)) >= SnapshotExpiry {
		return nil, false
	}
	return &snap, true
}

// writeSnapshot はc.muを保持した状態で呼び出す。
func (c *Cache) writeSnapshot(u *model.User, at time.Time) {
	raw, err := json.Marshal(Snapshot{
		IsLoggedIn: true,
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.DisplayName,
		Timestamp:  at.UnixMilli(),
	})
	if err != nil {
		slog.Error("failed to encode session snapshot", slog.String("error", err.Error()))
		return
	}
	c.storage.Set(StorageKey, raw)
}

func (s *Snapshot) user() *model.User {
	return &model.User{ID: s.ID, Email: s.Email, DisplayName: s.Name}
}
