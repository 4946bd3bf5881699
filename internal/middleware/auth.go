// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/mermaidboard/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// authContextKey は検証済みトークン情報を格納するためのキー。
var authContextKey = contextKey("auth")

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
// auth.SessionManagerが実装する。
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) *model.TokenPayload
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 検証済みのuser_id・email・jtiをリクエストコンテキストに注入する。
// ヘッダーがない、または形式が不正な場合とトークンが無効な場合は401を返す。
func NewBearerAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				WriteError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
				return
			}

			payload := verifier.VerifyAccessToken(r.Context(), token)
			if payload == nil {
				WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			annotateUserID(r.Context(), payload.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), payload)))
		})
	}
}

// BearerToken はAuthorizationヘッダーから"Bearer <token>"のトークン部分を取り出す。
// スキーム名は大文字小文字を区別しない。
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// AuthFromContext はリクエストコンテキストから検証済みトークン情報を取得する。
func AuthFromContext(ctx context.Context) (*model.TokenPayload, bool) {
	payload, ok := ctx.Value(authContextKey).(*model.TokenPayload)
	return payload, ok && payload != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (int64, error) {
	payload, ok := AuthFromContext(ctx)
	if !ok || payload.UserID == 0 {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return payload.UserID, nil
}

// ContextWithAuth はコンテキストに検証済みトークン情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAuth(ctx context.Context, payload *model.TokenPayload) context.Context {
	return context.WithValue(ctx, authContextKey, payload)
}

// ContextWithUserID はユーザーIDのみを持つ認証情報をコンテキストに注入する。
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return ContextWithAuth(ctx, &model.TokenPayload{UserID: userID})
}
