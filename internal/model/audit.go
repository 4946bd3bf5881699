package model

import (
	"encoding/json"
	"time"
)

// 監査ログのアクション名
const (
	AuditActionLogin          = "login"
	AuditActionLogout         = "logout"
	AuditActionCreateDiagram  = "create_diagram"
	AuditActionUpdateDiagram  = "update_diagram"
	AuditActionDeleteDiagram  = "delete_diagram"
	AuditActionRestoreDiagram = "restore_diagram"
)

// AuditLog は監査ログの1レコードを表す。追記のみで更新・削除はしない。
type AuditLog struct {
	ID           int64
	UserID       *int64 // 未認証の操作ではnil
	Action       string
	ResourceType *string
	ResourceID   *string
	IPAddress    string
	UserAgent    string
	Metadata     json.RawMessage // nilの場合はNULLとして保存する
	CreatedAt    time.Time
}
