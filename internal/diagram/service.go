// Package diagram はユーザー所有のダイアグラム文書の管理を提供する。
package diagram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitoshi/mermaidboard/internal/audit"
	"github.com/hitoshi/mermaidboard/internal/model"
	"github.com/hitoshi/mermaidboard/internal/repository"
)

const resourceType = "diagram"

// AuditRecorder は監査ログ記録のインターフェース。
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// CreateInput はダイアグラム作成の入力。
type CreateInput struct {
	Title     string
	Code      string
	Thumbnail *string
}

// Service はダイアグラムのサービス層。
// すべての操作はリクエストしたユーザーの所有物に限定され、
// 存在しない場合と他ユーザー所有の場合は同じNotFoundエラーになる。
// タイトルとコードは入力どおり保存する。表示時のエスケープはフロントエンドが行う。
type Service struct {
	repo  repository.DiagramRepository
	audit AuditRecorder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.DiagramRepository, auditor AuditRecorder) *Service {
	return &Service{
		repo:  repo,
		audit: auditor,
	}
}

// List は削除されていないダイアグラムを更新日時の新しい順に返す。
func (s *Service) List(ctx context.Context, userID int64) ([]*model.Diagram, error) {
	diagrams, err := s.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ダイアグラム一覧の取得に失敗しました: %w", err)
	}
	return diagrams, nil
}

// Get はダイアグラムを1件取得する。
func (s *Service) Get(ctx context.Context, userID, id int64) (*model.Diagram, error) {
	d, err := s.repo.FindActive(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("ダイアグラムの取得に失敗しました: %w", err)
	}
	if d == nil {
		return nil, model.NewDiagramNotFoundError()
	}
	return d, nil
}

// Create はダイアグラムを作成する。タイトルとコードは前後の空白を除いて保存し、空は不可とする。
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (*model.Diagram, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, model.NewValidationError("Title is required")
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return nil, model.NewValidationError("Code is required")
	}

	d := &model.Diagram{
		UserID:    userID,
		Title:     title,
		Code:      code,
		Thumbnail: in.Thumbnail,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("ダイアグラムの作成に失敗しました: %w", err)
	}

	s.record(ctx, model.AuditActionCreateDiagram, userID, d.ID, map[string]any{"title": d.Title})
	return d, nil
}

// Update は指定されたフィールドのみ更新する。
// 少なくとも1つのフィールドが必要で、タイトルとコードを空にすることはできない。
func (s *Service) Update(ctx context.Context, userID, id int64, patch model.DiagramPatch) (*model.Diagram, error) {
	if patch.Empty() {
		return nil, model.NewValidationError("No fields to update")
	}
	if patch.Title.Set {
		patch.Title.Value = strings.TrimSpace(patch.Title.Value)
		if patch.Title.Value == "" {
			return nil, model.NewValidationError("Title cannot be empty")
		}
	}
	if patch.Code.Set {
		patch.Code.Value = strings.TrimSpace(patch.Code.Value)
		if patch.Code.Value == "" {
			return nil, model.NewValidationError("Code cannot be empty")
		}
	}

	d, err := s.repo.Update(ctx, id, userID, patch)
	if err != nil {
		return nil, fmt.Errorf("ダイアグラムの更新に失敗しました: %w", err)
	}
	if d == nil {
		return nil, model.NewDiagramNotFoundError()
	}

	s.record(ctx, model.AuditActionUpdateDiagram, userID, id, map[string]any{"fields": patchFields(patch)})
	return d, nil
}

// SoftDelete はダイアグラムを削除済みにする。Restoreで復元できる。
func (s *Service) SoftDelete(ctx context.Context, userID, id int64) error {
	ok, err := s.repo.SoftDelete(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("ダイアグラムの削除に失敗しました: %w", err)
	}
	if !ok {
		return model.NewDiagramNotFoundError()
	}

	s.record(ctx, model.AuditActionDeleteDiagram, userID, id, nil)
	return nil
}

// Restore は削除済みのダイアグラムを復元する。
func (s *Service) Restore(ctx context.Context, userID, id int64) error {
	ok, err := s.repo.Restore(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("ダイアグラムの復元に失敗しました: %w", err)
	}
	if !ok {
		return model.NewDeletedDiagramNotFoundError()
	}

	s.record(ctx, model.AuditActionRestoreDiagram, userID, id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, action string, userID, id int64, metadata map[string]any) {
	s.audit.Record(ctx, audit.Entry{
		Action:       action,
		UserID:       userID,
		ResourceType: resourceType,
		ResourceID:   strconv.FormatInt(id, 10),
		Metadata:     metadata,
	})
}

// patchFields は更新されたフィールド名を返す（監査ログ用）。
func patchFields(p model.DiagramPatch) []string {
	var fields []string
	if p.Title.Set {
		fields = append(fields, "title")
	}
	if p.Code.Set {
		fields = append(fields, "code")
	}
	if p.Thumbnail.Set {
		fields = append(fields, "thumbnail")
	}
	return fields
}
