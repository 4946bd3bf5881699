package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/mermaidboard/internal/model"
)

// pqForeignKeyViolation はPostgreSQLの外部キー制約違反のエラーコード。
const pqForeignKeyViolation = pq.ErrorCode("23503")

const diagramColumns = `id, user_id, title, code, thumbnail, is_deleted, created_at, updated_at`

// PostgresDiagramRepo はPostgreSQLを使用したダイアグラムリポジトリ。
type PostgresDiagramRepo struct {
	db *sql.DB
}

// NewPostgresDiagramRepo はPostgresDiagramRepoを生成する。
func NewPostgresDiagramRepo(db *sql.DB) *PostgresDiagramRepo {
	return &PostgresDiagramRepo{db: db}
}

// ListActiveByUser はユーザーの削除されていないダイアグラムを更新日時の降順で返す。
func (r *PostgresDiagramRepo) ListActiveByUser(ctx context.Context, userID int64) ([]*model.Diagram, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+diagramColumns+`
		 FROM t_diagrams
		 WHERE user_id = $1 AND is_deleted = FALSE
		 ORDER BY updated_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagrams: %w", err)
	}
	defer rows.Close()

	diagrams := make([]*model.Diagram, 0)
	for rows.Next() {
		d, err := scanDiagram(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan diagram: %w", err)
		}
		diagrams = append(diagrams, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate diagrams: %w", err)
	}
	return diagrams, nil
}

// FindActive は所有者が一致し削除されていないダイアグラムを取得する。見つからない場合はnilを返す。
func (r *PostgresDiagramRepo) FindActive(ctx context.Context, id, userID int64) (*model.Diagram, error) {
	d, err := scanDiagram(r.db.QueryRowContext(ctx,
		`SELECT `+diagramColumns+`
		 FROM t_diagrams
		 WHERE id = $1 AND user_id = $2 AND is_deleted = FALSE`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find diagram: %w", err)
	}
	return d, nil
}

// Create はダイアグラムを作成する。
// 所有ユーザーが存在しない（削除済み）場合はUserNotFoundエラーを返す。
func (r *PostgresDiagramRepo) Create(ctx context.Context, diagram *model.Diagram) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO t_diagrams (user_id, title, code, thumbnail)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, is_deleted, created_at, updated_at`,
		diagram.UserID, diagram.Title, diagram.Code, diagram.Thumbnail,
	).Scan(&diagram.ID, &diagram.IsDeleted, &diagram.CreatedAt, &diagram.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
		return model.NewUserNotFoundError()
	}
	if err != nil {
		return fmt.Errorf("failed to create diagram: %w", err)
	}
	return nil
}

// Update はpatchでSetになっているフィールドだけを更新する。
// カラム名は固定値のみを使い、値はすべてプレースホルダで渡す。
// 存在確認と更新を1文で行うため、対象がなければnilを返す。
func (r *PostgresDiagramRepo) Update(ctx context.Context, id, userID int64, patch model.DiagramPatch) (*model.Diagram, error) {
	if patch.Empty() {
		return nil, errors.New("empty diagram patch")
	}

	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Title.Set {
		add("title", patch.Title.Value)
	}
	if patch.Code.Set {
		add("code", patch.Code.Value)
	}
	if patch.Thumbnail.Set {
		add("thumbnail", patch.Thumbnail.Value)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id, userID)

	query := fmt.Sprintf(
		`UPDATE t_diagrams SET %s
		 WHERE id = $%d AND user_id = $%d AND is_deleted = FALSE
		 RETURNING `+diagramColumns,
		strings.Join(sets, ", "), len(args)-1, len(args),
	)

	d, err := scanDiagram(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update diagram: %w", err)
	}
	return d, nil
}

// SoftDelete は削除フラグを立てる。
func (r *PostgresDiagramRepo) SoftDelete(ctx context.Context, id, userID int64) (bool, error) {
	n, err := execCount(ctx, r.db, "soft delete diagram",
		`UPDATE t_diagrams SET is_deleted = TRUE, updated_at = now()
		 WHERE id = $1 AND user_id = $2 AND is_deleted = FALSE`,
		id, userID,
	)
	return n > 0, err
}

// Restore は削除フラグを下ろす。削除済みでないものは対象外。
func (r *PostgresDiagramRepo) Restore(ctx context.Context, id, userID int64) (bool, error) {
	n, err := execCount(ctx, r.db, "restore diagram",
		`UPDATE t_diagrams SET is_deleted = FALSE, updated_at = now()
		 WHERE id = $1 AND user_id = $2 AND is_deleted = TRUE`,
		id, userID,
	)
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiagram(row rowScanner) (*model.Diagram, error) {
	d := &model.Diagram{}
	var thumbnail sql.NullString
	if err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.Code, &thumbnail, &d.IsDeleted, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if thumbnail.Valid {
		s := thumbnail.String
		d.Thumbnail = &s
	}
	return d, nil
}

// compile-time interface check
var _ DiagramRepository = (*PostgresDiagramRepo)(nil)
