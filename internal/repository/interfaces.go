// Package repository はデータ永続化のインターフェースとPostgreSQL実装を定義する。
// 見つからない場合はエラーではなくnilを返す。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/mermaidboard/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// UpsertByGoogleID はgoogle_idをキーにユーザーを1文で作成または更新する。
	// 既存ユーザーの場合はemail、display_name、photo_url、last_login、updated_atを更新する。
	// 新規作成された場合はcreatedにtrueを返す。
	UpsertByGoogleID(ctx context.Context, claims model.IdentityClaims, loginAt time.Time) (user *model.User, created bool, err error)
}

// SessionRepository はアクセストークンに対応するセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成し、採番されたIDとcreated_atを設定する。
	Create(ctx context.Context, session *model.Session) error
	// FindByJTI はjtiでセッションを取得する。失効・期限切れでも返す。見つからない場合はnilを返す。
	FindByJTI(ctx context.Context, jti string) (*model.Session, error)
	// RevokeByJTI はjtiに対応するセッションを失効させる。存在しなくてもエラーにしない。
	RevokeByJTI(ctx context.Context, jti string) error
	// RevokeByUserID はユーザーの全セッションを失効させ、件数を返す。
	RevokeByUserID(ctx context.Context, userID int64) (int64, error)
	// DeleteExpired はbefore以前に期限切れとなったセッションを削除し、件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
// トークンはハッシュ値でのみ扱う。
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	// FindByHash はハッシュでトークンを取得する。見つからない場合はnilを返す。
	FindByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeByUserID(ctx context.Context, userID int64) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// AuditLogRepository は監査ログの永続化インターフェース。追記のみ。
type AuditLogRepository interface {
	Insert(ctx context.Context, entry *model.AuditLog) error
}

// DiagramRepository はダイアグラムの永続化インターフェース。
// すべての操作は所有者のuser_idで絞り込まれる。
type DiagramRepository interface {
	// ListActiveByUser は削除されていないダイアグラムをupdated_at降順で返す。
	ListActiveByUser(ctx context.Context, userID int64) ([]*model.Diagram, error)
	// FindActive は削除されていないダイアグラムを取得する。見つからない場合はnilを返す。
	FindActive(ctx context.Context, id, userID int64) (*model.Diagram, error)
	// Create はダイアグラムを作成し、ID・タイムスタンプを設定する。
	Create(ctx context.Context, diagram *model.Diagram) error
	// Update はpatchで指定されたフィールドのみ更新し、updated_atを進める。
	// 対象が存在しない場合はnilを返す。
	Update(ctx context.Context, id, userID int64, patch model.DiagramPatch) (*model.Diagram, error)
	// SoftDelete は削除フラグを立てる。対象がなければfalseを返す。
	SoftDelete(ctx context.Context, id, userID int64) (bool, error)
	// Restore は削除済みのダイアグラムを復元する。対象がなければfalseを返す。
	Restore(ctx context.Context, id, userID int64) (bool, error)
}
