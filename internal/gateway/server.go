package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/streamgate/internal/accessgate"
	"github.com/nao1215/streamgate/internal/config"
	"github.com/nao1215/streamgate/pkg/httpclient"
	"github.com/nao1215/streamgate/pkg/middleware"
	"golang.org/x/sync/errgroup"
)

const (
	// readyTimeout はレディネス確認で上流を待つ時間。
	readyTimeout = 5 * time.Second
	// shutdownTimeout はグレースフルシャットダウンで処理中のリクエストを待つ時間。
	shutdownTimeout = 15 * time.Second
	// readHeaderTimeout はリクエストヘッダーの読み取りを待つ時間。
	readHeaderTimeout = 10 * time.Second
)

// Deps はServerが利用する外部コンポーネント。
type Deps struct {
	// Gate はアクセス判定を行うゲート。
	Gate *accessgate.Gate
	// Upstream は転送先アプリケーションのクライアント。
	Upstream *httpclient.Client
	// Logger はログの出力先。nilならslog.Default()を使う。
	Logger *slog.Logger
}

// Server はゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はリッスンに使うHTTPサーバー。
	httpServer *http.Server
	// gate はアクセス判定を行うゲート。
	gate *accessgate.Gate
	// upstream は転送先アプリケーションのクライアント。
	upstream *httpclient.Client
	// healthPath は上流のヘルスチェックパス。
	healthPath string
	// logger はログの出力先。
	logger *slog.Logger
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Gate == nil {
		return nil, errors.New("アクセスゲートが指定されていません")
	}
	if deps.Upstream == nil {
		return nil, errors.New("上流クライアントが指定されていません")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router:     router,
		gate:       deps.Gate,
		upstream:   deps.Upstream,
		healthPath: cfg.Upstream.HealthPath,
		logger:     logger,
	}
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はルーティング済みのHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルにシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("ゲートウェイを起動します", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("ゲートウェイを停止します")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// setupRoutes はルーティングを設定する。
// ヘルスチェック以外のすべてのパスはゲートを通してから上流へ転送する。
func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealthz())
	s.router.GET("/readyz", s.handleReadyz())

	s.router.NoRoute(s.gate.Middleware(), s.handleProxy())
}

// handleHealthz はプロセスの生存を返すハンドラを返す。
func (s *Server) handleHealthz() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "streamgate"})
	}
}

// handleReadyz は上流へ到達できるかを返すハンドラを返す。
func (s *Server) handleReadyz() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		if err := s.upstream.GetJSON(ctx, s.healthPath, nil); err != nil {
			s.logger.WarnContext(ctx, "上流のヘルスチェックに失敗", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "上流に到達できません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
