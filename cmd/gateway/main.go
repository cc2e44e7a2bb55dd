// エッジゲートウェイのエントリポイント。
// すべてのリクエストをセッショントークンで判定し、通過したものを
// 識別ヘッダー付きで上流のWebアプリケーションへ転送する。
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/streamgate/internal/accessgate"
	"github.com/nao1215/streamgate/internal/config"
	"github.com/nao1215/streamgate/internal/gateway"
	"github.com/nao1215/streamgate/pkg/httpclient"
	"github.com/nao1215/streamgate/pkg/ratelimit"
	"github.com/nao1215/streamgate/pkg/session"
	"github.com/redis/go-redis/v9"
)

// redisPingTimeout は起動時のRedis疎通確認のタイムアウト。
const redisPingTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("ゲートウェイの実行に失敗", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	if cfg.SlogLevel() > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := newVerifier(ctx, cfg.JWT)
	if err != nil {
		return err
	}

	source, closeSource, err := newRateLimitSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSource(); err != nil {
			logger.Warn("レートリミットのバックエンドの切断に失敗", slog.String("error", err.Error()))
		}
	}()

	gate, err := accessgate.New(accessgate.Options{
		Routes:                cfg.Routes,
		Verifier:              verifier,
		RateLimit:             source,
		Threshold:             cfg.RateLimit.Threshold,
		SecureCookies:         cfg.SecureCookies,
		TrustForwardedHeaders: cfg.TrustForwardedHeaders,
		Logger:                logger,
	})
	if err != nil {
		return fmt.Errorf("アクセスゲートの初期化に失敗: %w", err)
	}

	server, err := gateway.NewServer(cfg, gateway.Deps{
		Gate:     gate,
		Upstream: httpclient.New(cfg.Upstream.URL, cfg.Upstream.Timeout),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("ゲートウェイの初期化に失敗: %w", err)
	}

	logger.Info("設定を読み込みました",
		slog.String("port", cfg.Port),
		slog.String("upstream", cfg.Upstream.URL),
		slog.String("rate_limit_mode", string(cfg.RateLimit.Mode)),
		slog.Bool("jwks", cfg.JWT.JWKSURL != ""),
	)
	return server.Run(ctx)
}

// newVerifier はJWKS URLがあれば公開鍵方式、無ければ共有秘密鍵方式の検証器を返す。
func newVerifier(ctx context.Context, cfg config.JWTConfig) (session.Verifier, error) {
	if cfg.JWKSURL != "" {
		v, err := session.NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.Leeway)
		if err != nil {
			return nil, fmt.Errorf("JWKS検証器の初期化に失敗: %w", err)
		}
		return v, nil
	}
	v, err := session.NewHMACVerifier(cfg.Secret, cfg.Leeway)
	if err != nil {
		return nil, fmt.Errorf("HMAC検証器の初期化に失敗: %w", err)
	}
	return v, nil
}

// newRateLimitSource は設定された方式のレートリミット取得元と、その後始末の関数を返す。
func newRateLimitSource(ctx context.Context, cfg config.Config) (accessgate.RateLimitSource, func() error, error) {
	noop := func() error { return nil }

	switch cfg.RateLimit.Mode {
	case config.RateLimitModeHeader:
		return accessgate.HeaderSource{Header: cfg.RateLimit.Header}, noop, nil

	case config.RateLimitModeMemory:
		return accessgate.CounterSource{Counter: ratelimit.NewMemoryCounter(cfg.RateLimit.Window)}, noop, nil

	case config.RateLimitModeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
		}
		counter := ratelimit.NewRedisCounter(client, cfg.RateLimit.Window)
		return accessgate.CounterSource{Counter: counter}, client.Close, nil

	case config.RateLimitModeSQLite:
		db, err := ratelimit.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		counter, err := ratelimit.NewSQLiteCounter(ctx, db, cfg.RateLimit.Window)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return accessgate.CounterSource{Counter: counter}, db.Close, nil

	default:
		return nil, nil, errors.New("不正なレートリミット方式: " + string(cfg.RateLimit.Mode))
	}
}
