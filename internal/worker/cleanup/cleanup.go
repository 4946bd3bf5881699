// Package cleanup は期限切れのセッションとリフレッシュトークンを定期的に削除するジョブを提供する。
// 削除対象はすでに検証で拒否される行のみで、削除は冪等。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mermaidboard/internal/auth"
)

// DefaultInterval はジョブの実行間隔のデフォルト値。
const DefaultInterval = time.Hour

// Purger は期限切れ資格情報の削除を抽象化するインターフェース。
// auth.SessionManager が実装する。
type Purger interface {
	PurgeExpired(ctx context.Context) (auth.PurgeResult, error)
}

// CleanupJob は期限切れトークンの削除ジョブ。
type CleanupJob struct {
	purger Purger
	logger *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(purger Purger, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		purger: purger,
		logger: logger,
	}
}

// Run は期限切れのセッションとリフレッシュトークンを1回削除する。
// 一方の削除に失敗しても、もう一方の結果はログに記録する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	result, err := j.purger.PurgeExpired(ctx)
	duration := time.Since(start)
	if err != nil {
		j.logger.Error("期限切れトークンの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int64("deleted_sessions", result.Sessions),
			slog.Int64("deleted_refresh_tokens", result.RefreshTokens),
		)
		return fmt.Errorf("期限切れトークンの削除に失敗: %w", err)
	}

	j.logger.Info("期限切れトークンの削除が完了しました",
		slog.Int64("deleted_sessions", result.Sessions),
		slog.Int64("deleted_refresh_tokens", result.RefreshTokens),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// エラーはRun内でログ出力済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
