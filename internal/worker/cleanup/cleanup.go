// Package cleanup は対応済みお問い合わせの自動削除ジョブを提供する。
// 保持期間（デフォルト365日）を超過した対応済みのお問い合わせを日次バッチで削除する。
// 未対応のお問い合わせは保持期間に関係なく残す。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/melodia/internal/metrics"
)

// DefaultRetentionDays は対応済みお問い合わせの既定の保持日数。
const DefaultRetentionDays = 365

// ContactPurger は対応済みお問い合わせを削除するインターフェース。
// *repository.PostgresContactRepo が実装する。
type ContactPurger interface {
	DeleteHandledBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した対応済みお問い合わせの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	purger        ContactPurger
	logger        *slog.Logger
	metrics       metrics.MetricsCollector
	now           func() time.Time
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。mcがnilの場合は記録しない。
func NewCleanupJob(purger ContactPurger, logger *slog.Logger, mc metrics.MetricsCollector) *CleanupJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &CleanupJob{
		purger:        purger,
		logger:        logger,
		metrics:       mc,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は保持期間を超過した対応済みお問い合わせを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.purger.DeleteHandledBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("お問い合わせクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("お問い合わせクリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordContactsPurged(int(deleted))
	j.logger.Info("お問い合わせクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
