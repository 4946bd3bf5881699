package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/mermaidboard/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。IPアドレスとUser-Agentは空の場合NULLで保存する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO t_sessions (user_id, token_jti, expires_at, ip_address, user_agent)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		 RETURNING id, created_at`,
		session.UserID, session.TokenJTI, session.ExpiresAt, session.IPAddress, session.UserAgent,
	).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByJTI はjtiでセッションを取得する。見つからない場合はnilを返す。
// 有効性の判定は呼び出し側でmodel.Session.Validを使って行う。
func (r *PostgresSessionRepo) FindByJTI(ctx context.Context, jti string) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_jti, expires_at, is_revoked,
		        COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at
		 FROM t_sessions
		 WHERE token_jti = $1`,
		jti,
	).Scan(&session.ID, &session.UserID, &session.TokenJTI, &session.ExpiresAt, &session.IsRevoked,
		&session.IPAddress, &session.UserAgent, &session.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// RevokeByJTI はjtiに対応するセッションを失効させる。
func (r *PostgresSessionRepo) RevokeByJTI(ctx context.Context, jti string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE t_sessions SET is_revoked = TRUE WHERE token_jti = $1`,
		jti,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeByUserID は指定ユーザーの未失効セッションをすべて失効させる。
func (r *PostgresSessionRepo) RevokeByUserID(ctx context.Context, userID int64) (int64, error) {
	return execCount(ctx, r.db, "revoke user sessions",
		`UPDATE t_sessions SET is_revoked = TRUE WHERE user_id = $1 AND is_revoked = FALSE`,
		userID,
	)
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return execCount(ctx, r.db, "delete expired sessions",
		`DELETE FROM t_sessions WHERE expires_at <= $1`,
		before,
	)
}

// execCount は更新系SQLを実行して影響行数を返す。
func execCount(ctx context.Context, db *sql.DB, op string, query string, args ...any) (int64, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
