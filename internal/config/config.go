// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// minJWTSecretLength はHS256署名鍵として許容する最小バイト数。
const minJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	// DatabaseURLが設定されている場合はDB_*より優先する。
	DatabaseURL string `env:"DATABASE_URL"`
	DBHost      string `env:"DB_HOST"     envDefault:"localhost"`
	DBPort      int    `env:"DB_PORT"     envDefault:"5432"`
	DBName      string `env:"DB_NAME"     envDefault:"mermaid_editor"`
	DBUser      string `env:"DB_USER"     envDefault:"postgres"`
	DBPassword  string `env:"DB_PASSWORD"`
	DBSchema    string `env:"DB_SCHEMA"   envDefault:"public"`
	DBSSLMode   string `env:"DB_SSLMODE"  envDefault:"disable"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,notEmpty"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,notEmpty"`
	GoogleRedirectURI  string `env:"GOOGLE_REDIRECT_URI,notEmpty"`

	// Token
	JWTSecretKey           string `env:"JWT_SECRET_KEY,notEmpty"`
	AccessTokenExpiresSec  int    `env:"JWT_ACCESS_TOKEN_EXPIRES"  envDefault:"3600"`
	RefreshTokenExpiresSec int    `env:"JWT_REFRESH_TOKEN_EXPIRES" envDefault:"2592000"`

	// Frontend / CORS
	FrontendURL        string   `env:"FRONTEND_URL"         envDefault:"http://localhost:8000"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Rate Limit (req/min)
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH"    envDefault:"30"`

	// Worker
	PurgeInterval time.Duration `env:"PURGE_INTERVAL" envDefault:"1h"`
	// WorkerMetricsPort はworkerが/metricsを公開するポート。未設定の場合は公開しない。
	WorkerMetricsPort string `env:"WORKER_METRICS_PORT"`

	// Server
	Port     string `env:"PORT"      envDefault:"5050"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// TrustProxyHeaders はX-Forwarded-For / X-Real-IPを接続元IPとして信頼するか。
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数をまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("required environment variables are not set: %w", err)
	}

	if len(cfg.JWTSecretKey) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET_KEY must be at least %d bytes", minJWTSecretLength)
	}
	if cfg.AccessTokenExpiresSec <= 0 {
		return nil, fmt.Errorf("JWT_ACCESS_TOKEN_EXPIRES must be positive: %d", cfg.AccessTokenExpiresSec)
	}
	if cfg.RefreshTokenExpiresSec <= 0 {
		return nil, fmt.Errorf("JWT_REFRESH_TOKEN_EXPIRES must be positive: %d", cfg.RefreshTokenExpiresSec)
	}

	if cfg.RateLimitGeneral <= 0 || cfg.RateLimitAuth <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_GENERAL and RATE_LIMIT_AUTH must be positive")
	}
	if cfg.PurgeInterval <= 0 {
		return nil, fmt.Errorf("PURGE_INTERVAL must be positive: %s", cfg.PurgeInterval)
	}

	return cfg, nil
}

// AccessTokenTTL はアクセストークンの有効期間を返す。
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpiresSec) * time.Second
}

// RefreshTokenTTL はリフレッシュトークンの有効期間を返す。
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpiresSec) * time.Second
}

// DatabaseDSN はPostgreSQLの接続URLを返す。
// DATABASE_URLが未設定の場合はDB_*の各値から組み立てる。
func (c *Config) DatabaseDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	q := url.Values{}
	q.Set("sslmode", c.DBSSLMode)
	if c.DBSchema != "" {
		q.Set("search_path", c.DBSchema)
	}

	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	if c.DBPassword != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	} else {
		u.User = url.User(c.DBUser)
	}
	return u.String()
}

// AllowedOrigins はCORSで許可するオリジンの一覧を返す。
// FRONTEND_URLは常に先頭に含まれる。
func (c *Config) AllowedOrigins() []string {
	origins := []string{c.FrontendURL}
	for _, o := range c.CORSAllowedOrigins {
		if o != "" && o != c.FrontendURL {
			origins = append(origins, o)
		}
	}
	return origins
}
