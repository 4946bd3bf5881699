package middleware

import (
	"net"
	"net/http"

	"github.com/hitoshi/mermaidboard/internal/reqctx"
)

// NewClientInfoMiddleware は接続元IPとUser-Agentをコンテキストに格納するミドルウェアを返す。
// IPは接続元のRemoteAddrから取る。プロキシヘッダーを使う場合はchiのRealIPより後に配置する。
func NewClientInfoMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := reqctx.WithClientInfo(r.Context(), reqctx.ClientInfo{
				IPAddress: clientIP(r),
				UserAgent: r.UserAgent(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientIP はRemoteAddrからポートを除いたIPアドレスを返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
