package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/mermaidboard/internal/model"
)

const userColumns = `id, google_id, email, display_name, photo_url, created_at, updated_at, last_login`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM t_users WHERE id = $1`,
		id,
	), nil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// UpsertByGoogleID はgoogle_idをキーにユーザーを作成または更新する。
// 同一google_idで同時にログインしても、INSERT ... ON CONFLICTにより1行に収束する。
// xmax = 0 は今回のINSERTで作られた行であることを示す。
func (r *PostgresUserRepo) UpsertByGoogleID(ctx context.Context, claims model.IdentityClaims, loginAt time.Time) (*model.User, bool, error) {
	var created bool
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO t_users (google_id, email, display_name, photo_url, last_login, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5, $5)
		 ON CONFLICT (google_id) DO UPDATE SET
		     email = EXCLUDED.email,
		     display_name = EXCLUDED.display_name,
		     photo_url = EXCLUDED.photo_url,
		     last_login = EXCLUDED.last_login,
		     updated_at = EXCLUDED.updated_at
		 RETURNING `+userColumns+`, (xmax = 0) AS inserted`,
		claims.Subject, claims.Email, claims.Name, claims.Picture, loginAt,
	), &created)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, created, nil
}

// scanUser は1行をUserに読み込む。insertedが非nilの場合は追加カラムを読む。
func scanUser(row *sql.Row, inserted *bool) (*model.User, error) {
	user := &model.User{}
	var lastLogin sql.NullTime
	dest := []any{
		&user.ID, &user.GoogleID, &user.Email, &user.DisplayName, &user.PhotoURL,
		&user.CreatedAt, &user.UpdatedAt, &lastLogin,
	}
	if inserted != nil {
		dest = append(dest, inserted)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLogin = &t
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
