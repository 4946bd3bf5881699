// Package audit はセキュリティ上重要な操作を監査ログに記録する。
// 記録はベストエフォートで、失敗しても呼び出し元の処理には影響しない。
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hitoshi/mermaidboard/internal/metrics"
	"github.com/hitoshi/mermaidboard/internal/model"
	"github.com/hitoshi/mermaidboard/internal/repository"
	"github.com/hitoshi/mermaidboard/internal/reqctx"
)

// 書き込み1件あたりの上限時間
const writeTimeout = 3 * time.Second

// Entry は記録する操作の内容。
type Entry struct {
	Action       string
	UserID       int64 // 0は未認証
	ResourceType string
	ResourceID   string
	Metadata     map[string]any
}

// Logger は監査ログを書き込む。
type Logger struct {
	repo    repository.AuditLogRepository
	metrics metrics.MetricsCollector
	timeout time.Duration
}

// NewLogger はLoggerを生成する。
func NewLogger(repo repository.AuditLogRepository, collector metrics.MetricsCollector) *Logger {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Logger{repo: repo, metrics: collector, timeout: writeTimeout}
}

// Record は監査ログを1件書き込む。接続元情報はコンテキストから読む。
// リクエストのキャンセルとは切り離したコンテキストで実行し、エラーはログ出力のみ行う。
func (l *Logger) Record(ctx context.Context, e Entry) {
	client := reqctx.ClientInfoFrom(ctx)
	row := &model.AuditLog{
		Action:    e.Action,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	}
	if e.UserID != 0 {
		id := e.UserID
		row.UserID = &id
	}
	if e.ResourceType != "" {
		rt := e.ResourceType
		row.ResourceType = &rt
	}
	if e.ResourceID != "" {
		rid := e.ResourceID
		row.ResourceID = &rid
	}
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			l.fail(e, err)
			return
		}
		row.Metadata = b
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if err := l.repo.Insert(writeCtx, row); err != nil {
		l.fail(e, err)
	}
}

func (l *Logger) fail(e Entry, err error) {
	l.metrics.RecordAuditFailure()
	slog.Error("failed to write audit log",
		slog.String("action", e.Action),
		slog.Int64("user_id", e.UserID),
		slog.String("error", err.Error()),
	)
}
