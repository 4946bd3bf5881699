package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mermaidboard/internal/middleware"
	"github.com/hitoshi/mermaidboard/internal/model"
)

// maxBodyBytes はリクエストボディの上限（サムネイルのdata URLを含む）。
const maxBodyBytes = 5 << 20

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == model.ErrCodeUpstream {
			slog.Error("identity provider request failed", slog.String("error", apiErr.Message))
		}
		middleware.WriteError(w, mapAPIErrorToHTTPStatus(apiErr), apiErr.Message)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeInvalidIdentityToken, model.ErrCodeInvalidRefreshToken:
		return http.StatusUnauthorized
	case model.ErrCodeUserNotFound, model.ErrCodeDiagramNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody はリクエストボディをJSONとしてdstに読み込む。
// 空のボディはエラーにせず、dstはゼロ値のままになる。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeMessage は{"message": ...}形式のレスポンスを書き込む。
func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	middleware.WriteJSON(w, statusCode, map[string]string{"message": message})
}
