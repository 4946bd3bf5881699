// Package auth はGoogleログイン、アクセストークン・リフレッシュトークンの発行と検証、
// およびそれらを組み合わせた認証ユースケースを提供する。
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/hitoshi/mermaidboard/internal/model"
)

const (
	googleIssuer          = "https://accounts.google.com"
	googleJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultGoogleUserInfo = "https://www.googleapis.com/oauth2/v2/userinfo"

	providerTimeout = 10 * time.Second
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能な項目
	Endpoint    oauth2.Endpoint
	UserInfoURL string
	KeySet      oidc.KeySet
	HTTPClient  *http.Client
}

// TokenBundle は認可コード交換で得られたトークン群。
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// GoogleOAuthProvider はGoogle OAuth 2.0 / OpenID Connectによる本人確認を提供する。
type GoogleOAuthProvider struct {
	oauth       *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	userInfoURL string
	httpClient  *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
// KeySetが未指定の場合はGoogleの公開鍵（JWKS）を取得して検証する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.Endpoint.AuthURL == "" {
		config.Endpoint = google.Endpoint
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfo
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: providerTimeout}
	}
	keySet := config.KeySet
	if keySet == nil {
		keySet = oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), config.HTTPClient), googleJWKSURL)
	}

	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     config.Endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier:    oidc.NewVerifier(googleIssuer, keySet, &oidc.Config{ClientID: config.ClientID}),
		userInfoURL: config.UserInfoURL,
		httpClient:  config.HTTPClient,
	}
}

// AuthorizationURL はGoogleの同意画面URLを生成する。
// リフレッシュトークンを得るためにaccess_type=offlineとprompt=consentを付ける。
func (p *GoogleOAuthProvider) AuthorizationURL(state string) string {
	return p.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// ExchangeCode は認可コードをトークンに交換する。
// Googleが2xx以外を返した場合はそのレスポンス本文を含むエラーを返す。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*TokenBundle, error) {
	tok, err := p.oauth.Exchange(p.clientContext(ctx), code)
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil {
			return nil, fmt.Errorf("token exchange failed with status %d: %s", rErr.Response.StatusCode, string(rErr.Body))
		}
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	bundle := &TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		bundle.IDToken = idToken
	}
	return bundle, nil
}

// VerifyIdentityToken はIDトークンの署名・発行者・audience・有効期限を検証する。
// 検証に失敗した場合はnilを返す。
func (p *GoogleOAuthProvider) VerifyIdentityToken(ctx context.Context, rawIDToken string) *model.IdentityClaims {
	if rawIDToken == "" {
		return nil
	}

	idToken, err := p.verifier.Verify(p.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil
	}

	var claims struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil
	}
	if idToken.Subject == "" || claims.Email == "" {
		return nil
	}

	return &model.IdentityClaims{
		Subject: idToken.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}
}

// googleUserInfo はGoogleのユーザー情報エンドポイント（v2）のレスポンス。
type googleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// FetchProfile はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleOAuthProvider) FetchProfile(ctx context.Context, accessToken string) (*model.IdentityClaims, error) {
	client := p.oauth.Client(p.clientContext(ctx), &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if info.ID == "" || info.Email == "" {
		return nil, fmt.Errorf("user info response is missing id or email")
	}

	return &model.IdentityClaims{
		Subject: info.ID,
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}

// clientContext はoauth2/go-oidcが使うHTTPクライアントをコンテキストに設定する。
func (p *GoogleOAuthProvider) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient), p.httpClient)
}
