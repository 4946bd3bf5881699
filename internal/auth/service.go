package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/mermaidboard/internal/audit"
	"github.com/hitoshi/mermaidboard/internal/metrics"
	"github.com/hitoshi/mermaidboard/internal/model"
)

// ログイン方式（メトリクスのラベル）
const (
	LoginMethodOAuthCallback = "oauth_callback"
	LoginMethodIDToken       = "id_token"
)

// IdentityProvider は外部IdP（Google）とのやり取りのインターフェース。
type IdentityProvider interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*TokenBundle, error)
	VerifyIdentityToken(ctx context.Context, rawIDToken string) *model.IdentityClaims
	FetchProfile(ctx context.Context, accessToken string) (*model.IdentityClaims, error)
}

// UserDirectory はユーザーの検索・自動登録のインターフェース。
type UserDirectory interface {
	FindOrCreate(ctx context.Context, claims model.IdentityClaims) (*model.User, error)
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// TokenIssuer はトークンの発行・検証・失効のインターフェース。SessionManagerが実装する。
type TokenIssuer interface {
	IssueAccessToken(ctx context.Context, userID int64, email string) (string, error)
	IssueRefreshToken(ctx context.Context, userID int64) (string, error)
	VerifyAccessToken(ctx context.Context, token string) *model.TokenPayload
	VerifyRefreshToken(ctx context.Context, token string) (int64, bool)
	RevokeAccessToken(ctx context.Context, jti string) error
	RevokeRefreshToken(ctx context.Context, token string) error
}

// AuditRecorder は監査ログ記録のインターフェース。
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// LoginResult はログイン成功時に返すトークンとユーザー。
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         *model.User
}

// Service は認証に関するユースケースを提供する。
type Service struct {
	idp     IdentityProvider
	users   UserDirectory
	tokens  TokenIssuer
	audit   AuditRecorder
	metrics metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(
	idp IdentityProvider,
	users UserDirectory,
	tokens TokenIssuer,
	auditor AuditRecorder,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		idp:     idp,
		users:   users,
		tokens:  tokens,
		audit:   auditor,
		metrics: collector,
	}
}

// AuthorizationURL はGoogleの同意画面URLを返す。
func (s *Service) AuthorizationURL(state string) string {
	return s.idp.AuthorizationURL(state)
}

// LoginWithCode は認可コードフローのコールバックを処理する。
// コード交換 → IDトークン検証 → プロフィール取得 → ユーザー登録・更新 → トークン発行の順に行う。
func (s *Service) LoginWithCode(ctx context.Context, code string) (*LoginResult, error) {
	if strings.TrimSpace(code) == "" {
		return nil, model.NewValidationError("No authorization code provided")
	}

	result, err := s.loginWithCode(ctx, code)
	s.recordLogin(LoginMethodOAuthCallback, err)
	return result, err
}

func (s *Service) loginWithCode(ctx context.Context, code string) (*LoginResult, error) {
	bundle, err := s.idp.ExchangeCode(ctx, code)
	if err != nil {
		return nil, model.NewUpstreamError(err)
	}

	if s.idp.VerifyIdentityToken(ctx, bundle.IDToken) == nil {
		return nil, model.NewInvalidIdentityTokenError()
	}

	profile, err := s.idp.FetchProfile(ctx, bundle.AccessToken)
	if err != nil {
		return nil, model.NewUpstreamError(err)
	}

	return s.completeLogin(ctx, *profile)
}

// LoginWithIDToken はフロントエンドが取得したIDトークンでログインする。
func (s *Service) LoginWithIDToken(ctx context.Context, rawIDToken string) (*LoginResult, error) {
	if strings.TrimSpace(rawIDToken) == "" {
		return nil, model.NewValidationError("No ID token provided")
	}

	result, err := s.loginWithIDToken(ctx, rawIDToken)
	s.recordLogin(LoginMethodIDToken, err)
	return result, err
}

func (s *Service) loginWithIDToken(ctx context.Context, rawIDToken string) (*LoginResult, error) {
	claims := s.idp.VerifyIdentityToken(ctx, rawIDToken)
	if claims == nil {
		return nil, model.NewInvalidIdentityTokenError()
	}
	return s.completeLogin(ctx, *claims)
}

// completeLogin はユーザーを登録・更新し、トークンを発行して監査ログを残す。
func (s *Service) completeLogin(ctx context.Context, claims model.IdentityClaims) (*LoginResult, error) {
	user, err := s.users.FindOrCreate(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to find or create user: %w", err)
	}

	accessToken, err := s.tokens.IssueAccessToken(ctx, user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refreshToken, err := s.tokens.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		Action:   model.AuditActionLogin,
		UserID:   user.ID,
		Metadata: map[string]any{"method": "google_oauth"},
	})

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
	)

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}, nil
}

// Refresh はリフレッシュトークンから新しいアクセストークンを発行する。
// リフレッシュトークン自体はローテーションしない。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", model.NewValidationError("No refresh token provided")
	}

	userID, ok := s.tokens.VerifyRefreshToken(ctx, refreshToken)
	if !ok {
		return "", model.NewInvalidRefreshTokenError()
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}

	accessToken, err := s.tokens.IssueAccessToken(ctx, user.ID, user.Email)
	if err != nil {
		return "", fmt.Errorf("failed to issue access token: %w", err)
	}
	return accessToken, nil
}

// Logout は渡されたアクセストークンとリフレッシュトークンを失効させる。
// どちらも任意で、無効なトークンは無視する。
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	var userID int64

	if accessToken != "" {
		if payload := s.tokens.VerifyAccessToken(ctx, accessToken); payload != nil {
			userID = payload.UserID
			if err := s.tokens.RevokeAccessToken(ctx, payload.JTI); err != nil {
				return err
			}
		}
	}

	if refreshToken != "" {
		if err := s.tokens.RevokeRefreshToken(ctx, refreshToken); err != nil {
			return err
		}
	}

	s.audit.Record(ctx, audit.Entry{
		Action: model.AuditActionLogout,
		UserID: userID,
	})
	return nil
}

// CurrentUser はログイン中のユーザーを返す。
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.users.FindByID(ctx, userID)
}

func (s *Service) recordLogin(method string, err error) {
	if err != nil {
		s.metrics.RecordLogin(method, metrics.OutcomeFailure)
		return
	}
	s.metrics.RecordLogin(method, metrics.OutcomeSuccess)
}
