// Package config はゲートウェイの設定を環境変数と任意のYAMLファイルから読み込む。
//
// 環境変数は github.com/caarlos0/env で構造体に展開し、開発時は .env を
// github.com/joho/godotenv で先に読み込む。ルート分類表は GATE_ROUTES_FILE
// で指定したYAMLで上書きできる。
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

// RateLimitMode はAPIレートリミットの計数方式。
type RateLimitMode string

const (
	// RateLimitModeHeader は上流が付与したヘッダーの値をそのまま信用する。
	RateLimitModeHeader RateLimitMode = "header"
	// RateLimitModeRedis はRedisの共有カウンターで数える。
	RateLimitModeRedis RateLimitMode = "redis"
	// RateLimitModeSQLite はSQLiteのカウンターで数える。
	RateLimitModeSQLite RateLimitMode = "sqlite"
	// RateLimitModeMemory はプロセス内のカウンターで数える。
	RateLimitModeMemory RateLimitMode = "memory"
)

// UnmarshalText は encoding.TextUnmarshaler を実装する。
func (m *RateLimitMode) UnmarshalText(text []byte) error {
	v := RateLimitMode(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case RateLimitModeHeader, RateLimitModeRedis, RateLimitModeSQLite, RateLimitModeMemory:
		*m = v
		return nil
	default:
		return fmt.Errorf("不正なRATE_LIMIT_MODE: %q (header, redis, sqlite, memory のいずれか)", v)
	}
}

// Config はゲートウェイ全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8080"`
	// LogLevel はログレベル（debug, info, warn, error）。
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	// SecureCookies はクッキー削除時にSecure属性を付けるか。
	SecureCookies bool `env:"SECURE_COOKIES" envDefault:"false"`
	// TrustForwardedHeaders はX-Forwarded-Host/X-Forwarded-Protoを信頼するか。
	// 信頼できるリバースプロキシの背後に置く場合だけ有効にする。
	TrustForwardedHeaders bool `env:"TRUST_FORWARDED_HEADERS" envDefault:"false"`
	// RoutesFile はルート分類表を上書きするYAMLファイルのパス。
	RoutesFile string `env:"GATE_ROUTES_FILE"`

	JWT       JWTConfig       `envPrefix:"JWT_"`
	Upstream  UpstreamConfig  `envPrefix:"UPSTREAM_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	SQLite    SQLiteConfig    `envPrefix:"SQLITE_"`

	// Routes はルート分類表。環境変数ではなくYAMLまたは既定値から設定する。
	Routes Routes
}

// JWTConfig はセッショントークン検証の設定。
type JWTConfig struct {
	// Secret はHS系トークンの共有秘密鍵。JWKSURLが無い場合は必須。
	Secret string `env:"SECRET"`
	// JWKSURL はRS256/ES256トークン用の公開鍵セットURL。
	JWKSURL string `env:"JWKS_URL"`
	// Leeway は有効期限判定の許容誤差。
	Leeway time.Duration `env:"LEEWAY" envDefault:"0s"`
}

// UpstreamConfig は転送先アプリケーションの設定。
type UpstreamConfig struct {
	// URL は転送先のベースURL。
	URL string `env:"URL" envDefault:"http://localhost:3000"`
	// HealthPath はレディネス確認で叩くパス。
	HealthPath string `env:"HEALTH_PATH" envDefault:"/api/health"`
	// Timeout は転送リクエストのタイムアウト。
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// RateLimitConfig はAPIレートリミットの設定。
type RateLimitConfig struct {
	// Mode は計数方式。
	Mode RateLimitMode `env:"MODE" envDefault:"header"`
	// Threshold はこの値を超えたら拒否する閾値。
	Threshold int64 `env:"THRESHOLD" envDefault:"100"`
	// Window は固定ウィンドウの長さ。
	Window time.Duration `env:"WINDOW" envDefault:"1m"`
	// Header はheaderモードで読むヘッダー名。
	Header string `env:"HEADER" envDefault:"x-rate-limit-count"`
}

// RedisConfig はRedisカウンターの接続設定。
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// SQLiteConfig はSQLiteカウンターの設定。
type SQLiteConfig struct {
	Path string `env:"PATH" envDefault:"/data/streamgate.db"`
}

// Load は .env（存在すれば）と環境変数から設定を読み込み、検証する。
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf(".envの読み込みに失敗: %w", err)
		}
	}
	return Parse(os.Environ())
}

// Parse は "KEY=VALUE" 形式の環境変数一覧から設定を組み立てる。
func Parse(environ []string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: env.ToMap(environ)}); err != nil {
		return Config{}, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}

	cfg.Routes = DefaultRoutes()
	if cfg.RoutesFile != "" {
		routes, err := LoadRoutes(cfg.RoutesFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Routes = routes
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("設定が不正: %w", err)
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c Config) Validate() error {
	fields := []*validation.FieldRules{
		validation.Field(&c.Port, validation.Required),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.JWT),
		validation.Field(&c.Upstream),
		validation.Field(&c.RateLimit),
		validation.Field(&c.Routes),
	}
	// バックエンド固有の設定は選択されたモードのときだけ検証する
	switch c.RateLimit.Mode {
	case RateLimitModeRedis:
		fields = append(fields, validation.Field(&c.Redis))
	case RateLimitModeSQLite:
		fields = append(fields, validation.Field(&c.SQLite))
	}
	return validation.ValidateStruct(&c, fields...)
}

// Validate はJWT設定を検証する。秘密鍵の既定値は持たない。
func (j JWTConfig) Validate() error {
	return validation.ValidateStruct(&j,
		validation.Field(&j.Secret, validation.When(j.JWKSURL == "",
			validation.Required.Error("JWT_SECRET または JWT_JWKS_URL が必要です"))),
		validation.Field(&j.Leeway, validation.Min(time.Duration(0))),
	)
}

// Validate は転送先設定を検証する。
func (u UpstreamConfig) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.URL, validation.Required),
		validation.Field(&u.HealthPath, validation.Required, validation.By(isAbsolutePath)),
		validation.Field(&u.Timeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

// Validate はレートリミット設定を検証する。
func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Threshold, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.Window, validation.Required, validation.Min(time.Second)),
		validation.Field(&r.Header, validation.When(r.Mode == RateLimitModeHeader, validation.Required)),
	)
}

// Validate はRedis設定を検証する。
func (r RedisConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Addr, validation.Required),
		validation.Field(&r.DB, validation.Min(0)),
	)
}

// Validate はSQLite設定を検証する。
func (s SQLiteConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Path, validation.Required),
	)
}

// SlogLevel はLogLevelをslog.Levelに変換する。
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
