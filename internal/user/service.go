// Package user はユーザーディレクトリ（外部IdPの識別子をキーにしたユーザー管理）を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/mermaidboard/internal/model"
	"github.com/hitoshi/mermaidboard/internal/repository"
)

// Directory はユーザーの検索と自動登録を行うサービス層。
type Directory struct {
	userRepo repository.UserRepository
	now      func() time.Time
}

// NewDirectory はDirectoryの新しいインスタンスを生成する。
func NewDirectory(userRepo repository.UserRepository) *Directory {
	return &Directory{userRepo: userRepo, now: time.Now}
}

// FindOrCreate はIdPの識別子でユーザーを検索し、なければ作成する。
// 既存ユーザーの場合、メールアドレス・表示名・アイコンURLはIdPの値で上書きし、
// 最終ログイン日時を更新する。メールアドレスはIdP側で変わりうるためキーにはしない。
func (d *Directory) FindOrCreate(ctx context.Context, claims model.IdentityClaims) (*model.User, error) {
	claims.Subject = strings.TrimSpace(claims.Subject)
	if claims.Subject == "" {
		return nil, fmt.Errorf("IdPの識別子が空です")
	}

	user, created, err := d.userRepo.UpsertByGoogleID(ctx, claims, d.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("ユーザーの登録・更新に失敗しました: %w", err)
	}

	if created {
		slog.Info("新規ユーザーを登録しました",
			slog.Int64("user_id", user.ID),
		)
	}

	return user, nil
}

// FindByID はIDでユーザーを取得する。見つからない場合はUserNotFoundエラーを返す。
func (d *Directory) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := d.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
