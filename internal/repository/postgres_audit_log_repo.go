package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/mermaidboard/internal/model"
)

// PostgresAuditLogRepo はPostgreSQLを使用した監査ログリポジトリ。
type PostgresAuditLogRepo struct {
	db *sql.DB
}

// NewPostgresAuditLogRepo はPostgresAuditLogRepoを生成する。
func NewPostgresAuditLogRepo(db *sql.DB) *PostgresAuditLogRepo {
	return &PostgresAuditLogRepo{db: db}
}

// Insert は監査ログを1行追加する。
func (r *PostgresAuditLogRepo) Insert(ctx context.Context, entry *model.AuditLog) error {
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = string(entry.Metadata)
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO t_audit_logs (user_id, action, resource_type, resource_id, ip_address, user_agent, metadata)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7::jsonb)
		 RETURNING id, created_at`,
		entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.IPAddress, entry.UserAgent, metadata,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AuditLogRepository = (*PostgresAuditLogRepo)(nil)
