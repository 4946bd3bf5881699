// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/mermaidboard/internal/auth"
	"github.com/hitoshi/mermaidboard/internal/middleware"
	"github.com/hitoshi/mermaidboard/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStatePath   = "/api/auth/google"
	oauthStateMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	AuthorizationURL(state string) string
	LoginWithCode(ctx context.Context, code string) (*auth.LoginResult, error)
	LoginWithIDToken(ctx context.Context, rawIDToken string) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	CurrentUser(ctx context.Context, userID int64) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL  string // コールバック後のリダイレクト先
	CookieSecure bool
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type userResponse struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	PhotoURL    string     `json:"photo_url"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

type loginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

// GoogleURL はGoogleの同意画面へリダイレクトする。
// GET /api/auth/google/url
func (h *AuthHandler) GoogleURL(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存し、コールバックで照合する
	h.setStateCookie(w, state, oauthStateMaxAge)

	http.Redirect(w, r, h.service.AuthorizationURL(state), http.StatusFound)
}

// GoogleCallback はOAuthコールバックを処理し、トークン付きでフロントエンドへリダイレクトする。
// GET /api/auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// 1. IdPが返したエラー（同意拒否など）
	if providerErr := q.Get("error"); providerErr != "" {
		slog.Warn("oauth error from provider", slog.String("error", providerErr))
		middleware.WriteError(w, http.StatusBadRequest, providerErr)
		return
	}

	// 2. stateの検証
	state := q.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		middleware.WriteError(w, http.StatusBadRequest, "Invalid state parameter")
		return
	}
	h.setStateCookie(w, "", -1)

	// 3. ログイン処理
	result, err := h.service.LoginWithCode(r.Context(), q.Get("code"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 4. フロントエンドへリダイレクト（トークンはクエリ文字列で渡す）
	http.Redirect(w, r, h.frontendRedirectURL(result), http.StatusFound)
}

// VerifyGoogleToken はフロントエンドが取得したIDトークンでログインする。
// POST /api/auth/google/verify
func (h *AuthHandler) VerifyGoogleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"id_token"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.service.LoginWithIDToken(r.Context(), req.IDToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         toUserResponse(result.User, false),
	})
}

// Refresh はリフレッシュトークンから新しいアクセストークンを発行する。
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}

	accessToken, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"access_token": accessToken})
}

// Logout はアクセストークンとリフレッシュトークンを失効させる。どちらも任意。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	accessToken, _ := middleware.BearerToken(r)

	if err := h.service.Logout(r.Context(), accessToken, req.RefreshToken); err != nil {
		handleServiceError(w, err)
		return
	}

	writeMessage(w, http.StatusOK, "Logged out successfully")
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
		return
	}

	user, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]userResponse{
		"user": toUserResponse(user, true),
	})
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     oauthStatePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// frontendRedirectURL は FRONTEND_URL/?access_token=...&refresh_token=... を組み立てる。
func (h *AuthHandler) frontendRedirectURL(result *auth.LoginResult) string {
	q := url.Values{}
	q.Set("access_token", result.AccessToken)
	q.Set("refresh_token", result.RefreshToken)
	return strings.TrimRight(h.config.FrontendURL, "/") + "/?" + q.Encode()
}

func toUserResponse(u *model.User, withCreatedAt bool) userResponse {
	resp := userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
	}
	if withCreatedAt {
		createdAt := u.CreatedAt
		resp.CreatedAt = &createdAt
	}
	return resp
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
