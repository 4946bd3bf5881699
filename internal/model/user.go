// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// GoogleIDは外部IdP側の不変なユーザー識別子で、一意である。
type User struct {
	ID          int64
	GoogleID    string
	Email       string
	DisplayName string
	PhotoURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLogin   *time.Time
}

// IdentityClaims はIdPが保証するユーザー属性を表す。
// IDトークンの検証結果、またはuserinfoエンドポイントの取得結果から生成される。
type IdentityClaims struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// Session はアクセストークン1つに対応するセッションレコードを表す。
// ExpiresAtを過ぎるか、IsRevokedがtrueになった時点で無効になる。
type Session struct {
	ID        int64
	UserID    int64
	TokenJTI  string
	ExpiresAt time.Time
	IsRevoked bool
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// Valid はセッションが時刻nowにおいて有効かどうかを返す。
func (s *Session) Valid(now time.Time) bool {
	return !s.IsRevoked && now.Before(s.ExpiresAt)
}

// RefreshToken はリフレッシュトークンのレコードを表す。
// トークン本体は保存せず、SHA-256ハッシュのみを保持する。
type RefreshToken struct {
	ID        int64
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	IsRevoked bool
	CreatedAt time.Time
}

// TokenPayload は検証済みアクセストークンから取り出した情報。
type TokenPayload struct {
	UserID    int64
	Email     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
