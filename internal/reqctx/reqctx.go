// Package reqctx はリクエストスコープの値をcontext.Contextに出し入れする。
// 下位層（セッション発行、監査ログ）がHTTPに依存せずに接続元情報を読むために使う。
package reqctx

import "context"

type contextKey string

var clientInfoKey = contextKey("client_info")

// ClientInfo はリクエスト元の情報。
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// WithClientInfo はコンテキストに接続元情報を格納する。
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey, info)
}

// ClientInfoFrom はコンテキストから接続元情報を取り出す。未設定の場合はゼロ値を返す。
func ClientInfoFrom(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientInfoKey).(ClientInfo)
	return info
}
