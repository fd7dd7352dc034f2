// Package cleanup は期限切れリフレッシュトークンの定期消去ジョブを提供する。
// 期限を過ぎたトークンは検証で拒否されるが、ユーザー行に残さないよう
// 一定間隔でまとめてNULLに戻す。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chanhub/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は期限切れリフレッシュトークンの消去ジョブ。
// 冪等で、何度実行しても結果は変わらない。
type CleanupJob struct {
	db       Executor
	logger   *slog.Logger
	recorder metrics.CleanupRecorder

	// GracePeriod は期限切れから消去までの猶予（デフォルト: 0）。
	GracePeriod time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder metrics.CleanupRecorder) *CleanupJob {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &CleanupJob{
		db:       db,
		logger:   logger,
		recorder: recorder,
	}
}

const clearExpiredQuery = `
	UPDATE users
	SET refresh_token = NULL, refresh_token_expires_at = NULL, updated_at = now()
	WHERE refresh_token IS NOT NULL
	  AND refresh_token_expires_at < now() - $1::interval`

// Run は期限切れのリフレッシュトークンを消去する。
// 期限内のトークンには触れない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	grace := fmt.Sprintf("%d seconds", int64(j.GracePeriod.Seconds()))

	result, err := j.db.ExecContext(ctx, clearExpiredQuery, grace)
	if err != nil {
		j.logger.Error("リフレッシュトークン消去ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("リフレッシュトークン消去の実行に失敗: %w", err)
	}

	cleared, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("消去件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("消去件数の取得に失敗: %w", err)
	}

	j.recorder.RecordTokensCleared(cleared)
	j.logger.Info("リフレッシュトークン消去ジョブが完了しました",
		slog.Int64("cleared_count", cleared),
		slog.String("grace_period", grace),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行する。起動直後に1回実行し、ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("リフレッシュトークン消去ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("リフレッシュトークン消去ジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
