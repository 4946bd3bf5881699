package model

import "fmt"

// APIError はクライアントに返すエラーを表す。
// HTTPステータスはCodeからハンドラー層で決定する。
type APIError struct {
	Code    string // エラーコード
	Message string // レスポンスの"error"に入るメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation           = "VALIDATION"
	ErrCodeInvalidIdentityToken = "INVALID_IDENTITY_TOKEN"
	ErrCodeInvalidRefreshToken  = "INVALID_REFRESH_TOKEN"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeDiagramNotFound      = "DIAGRAM_NOT_FOUND"
	ErrCodeUpstream             = "UPSTREAM"
)

// NewValidationError は入力不備エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{Code: ErrCodeValidation, Message: message}
}

// NewInvalidIdentityTokenError はIdPのIDトークン検証失敗エラーを生成する。
func NewInvalidIdentityTokenError() *APIError {
	return &APIError{Code: ErrCodeInvalidIdentityToken, Message: "Invalid ID token"}
}

// NewInvalidRefreshTokenError はリフレッシュトークン検証失敗エラーを生成する。
func NewInvalidRefreshTokenError() *APIError {
	return &APIError{Code: ErrCodeInvalidRefreshToken, Message: "Invalid or expired refresh token"}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{Code: ErrCodeUserNotFound, Message: "User not found"}
}

// NewDiagramNotFoundError はダイアグラムが見つからない場合のエラーを生成する。
// 他ユーザー所有のダイアグラムも同じエラーになる。
func NewDiagramNotFoundError() *APIError {
	return &APIError{Code: ErrCodeDiagramNotFound, Message: "Diagram not found"}
}

// NewDeletedDiagramNotFoundError は復元対象の削除済みダイアグラムが見つからない場合のエラーを生成する。
func NewDeletedDiagramNotFoundError() *APIError {
	return &APIError{Code: ErrCodeDiagramNotFound, Message: "Deleted diagram not found"}
}

// NewUpstreamError はIdPとの通信失敗エラーを生成する。
// メッセージには上流のエラー内容をそのまま含める。
func NewUpstreamError(err error) *APIError {
	return &APIError{Code: ErrCodeUpstream, Message: err.Error()}
}
