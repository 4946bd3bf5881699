package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/mermaidboard/internal/metrics"
	"github.com/hitoshi/mermaidboard/internal/model"
	"github.com/hitoshi/mermaidboard/internal/repository"
	"github.com/hitoshi/mermaidboard/internal/reqctx"
)

const (
	accessTokenType   = "access"
	refreshTokenBytes = 64
)

// SessionManagerConfig はトークン発行の設定。
type SessionManagerConfig struct {
	SecretKey       []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// accessClaims はアクセストークンのクレーム。jtiはRegisteredClaims.IDに入る。
type accessClaims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// PurgeResult は期限切れトークン削除の結果。
type PurgeResult struct {
	Sessions      int64
	RefreshTokens int64
}

// SessionManager はアクセストークン（HS256 JWT + セッション行）と
// リフレッシュトークン（ランダム値、ハッシュのみ保存）の発行・検証・失効を行う。
// アクセストークンは署名が正しくても、対応するセッション行が有効でなければ受け付けない。
type SessionManager struct {
	sessions      repository.SessionRepository
	refreshTokens repository.RefreshTokenRepository
	config        SessionManagerConfig
	metrics       metrics.MetricsCollector
	now           func() time.Time
}

// NewSessionManager はSessionManagerを生成する。
func NewSessionManager(
	sessions repository.SessionRepository,
	refreshTokens repository.RefreshTokenRepository,
	config SessionManagerConfig,
	collector metrics.MetricsCollector,
) *SessionManager {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &SessionManager{
		sessions:      sessions,
		refreshTokens: refreshTokens,
		config:        config,
		metrics:       collector,
		now:           time.Now,
	}
}

// IssueAccessToken はアクセストークンを発行し、対応するセッション行を作成する。
// 接続元IPとUser-Agentはコンテキストから取得する。
func (m *SessionManager) IssueAccessToken(ctx context.Context, userID int64, email string) (string, error) {
	now := m.now()
	jti := uuid.NewString()
	expiresAt := now.Add(m.config.AccessTokenTTL)

	claims := accessClaims{
		UserID: userID,
		Email:  email,
		Type:   accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.SecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	client := reqctx.ClientInfoFrom(ctx)
	session := &model.Session{
		UserID:    userID,
		TokenJTI:  jti,
		ExpiresAt: expiresAt,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return "", fmt.Errorf("failed to persist session: %w", err)
	}

	return signed, nil
}

// IssueRefreshToken はリフレッシュトークンを発行する。DBにはSHA-256ハッシュのみ保存する。
func (m *SessionManager) IssueRefreshToken(ctx context.Context, userID int64) (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	record := &model.RefreshToken{
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: m.now().Add(m.config.RefreshTokenTTL),
	}
	if err := m.refreshTokens.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return token, nil
}

// VerifyAccessToken はアクセストークンを検証する。
// 署名・アルゴリズム・種別・有効期限に加え、セッション行が存在し失効・期限切れでないことを確認する。
// 検証できない場合はnilを返し、エラーは返さない。
func (m *SessionManager) VerifyAccessToken(ctx context.Context, token string) *model.TokenPayload {
	payload := m.verifyAccessToken(ctx, token)
	if payload == nil {
		m.metrics.RecordTokenVerification(metrics.OutcomeRejected)
		return nil
	}
	m.metrics.RecordTokenVerification(metrics.OutcomeValid)
	return payload
}

func (m *SessionManager) verifyAccessToken(ctx context.Context, token string) *model.TokenPayload {
	claims, ok := m.parseAccessToken(token)
	if !ok {
		return nil
	}

	session, err := m.sessions.FindByJTI(ctx, claims.ID)
	if err != nil {
		slog.Error("failed to look up session",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if session == nil || !session.Valid(m.now()) {
		return nil
	}

	return &model.TokenPayload{
		UserID:    claims.UserID,
		Email:     claims.Email,
		JTI:       claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}
}

// parseAccessToken は署名と自己完結のクレームのみを検証する。
func (m *SessionManager) parseAccessToken(token string) (*accessClaims, bool) {
	if token == "" {
		return nil, false
	}

	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return m.config.SecretKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, false
	}
	if claims.Type != accessTokenType || claims.ID == "" || claims.UserID == 0 || claims.IssuedAt == nil {
		return nil, false
	}
	return claims, true
}

// VerifyRefreshToken はリフレッシュトークンを検証し、所有ユーザーIDを返す。
func (m *SessionManager) VerifyRefreshToken(ctx context.Context, token string) (int64, bool) {
	if token == "" {
		return 0, false
	}

	record, err := m.refreshTokens.FindByHash(ctx, hashToken(token))
	if err != nil {
		slog.Error("failed to look up refresh token",
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	if record == nil || record.IsRevoked || !m.now().Before(record.ExpiresAt) {
		return 0, false
	}
	return record.UserID, true
}

// RevokeAccessToken はjtiに対応するセッションを失効させる。冪等。
func (m *SessionManager) RevokeAccessToken(ctx context.Context, jti string) error {
	if err := m.sessions.RevokeByJTI(ctx, jti); err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	return nil
}

// RevokeRefreshToken はリフレッシュトークンを失効させる。冪等。
func (m *SessionManager) RevokeRefreshToken(ctx context.Context, token string) error {
	if err := m.refreshTokens.RevokeByHash(ctx, hashToken(token)); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser はユーザーの全セッションと全リフレッシュトークンを失効させる。
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID int64) error {
	sessions, err := m.sessions.RevokeByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	tokens, err := m.refreshTokens.RevokeByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}

	slog.Info("revoked all credentials for user",
		slog.Int64("user_id", userID),
		slog.Int64("sessions", sessions),
		slog.Int64("refresh_tokens", tokens),
	)
	return nil
}

// PurgeExpired は期限切れのセッションとリフレッシュトークンを削除する。
func (m *SessionManager) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	now := m.now()
	var result PurgeResult
	var errs []error

	n, err := m.sessions.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to purge sessions: %w", err))
	} else {
		result.Sessions = n
		m.metrics.RecordPurged("sessions", n)
	}

	n, err = m.refreshTokens.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to purge refresh tokens: %w", err))
	} else {
		result.RefreshTokens = n
		m.metrics.RecordPurged("refresh_tokens", n)
	}

	return result, errors.Join(errs...)
}

// hashToken はトークンのSHA-256ハッシュを16進文字列で返す。
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
