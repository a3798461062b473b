package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/melodia/internal/model"
)

// PostgresContactRepo はPostgreSQLを使用したお問い合わせリポジトリ。
type PostgresContactRepo struct {
	db *sql.DB
}

// NewPostgresContactRepo はPostgresContactRepoを生成する。
func NewPostgresContactRepo(db *sql.DB) *PostgresContactRepo {
	return &PostgresContactRepo{db: db}
}

// Create はお問い合わせを保存する。IDと作成日時は呼び出し側で設定する。
func (r *PostgresContactRepo) Create(ctx context.Context, c *model.ContactInquiry) error {
	status := c.Status
	if status == "" {
		status = model.ContactStatusNew
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO contacts (id, name, email, phone, contact_type, preferred_contact, subject, message, file_name, status, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, NULLIF($9, ''), $10, $11)`,
		c.ID, c.Name, c.Email, c.Phone, c.ContactType, c.PreferredContact,
		c.Subject, c.Message, c.FileName, status, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("お問い合わせの保存に失敗しました: %w", err)
	}
	return nil
}

// DeleteHandledBefore は対応済みで指定日時より前のお問い合わせを削除する。
// 削除対象がない場合は0を返す。
func (r *PostgresContactRepo) DeleteHandledBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM contacts WHERE status = $1 AND created_at < $2`,
		model.ContactStatusHandled, before,
	)
	if err != nil {
		return 0, fmt.Errorf("お問い合わせの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}
