// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/account-gateway/internal/auth"
	"github.com/yourusername/account-gateway/internal/config"
	"github.com/yourusername/account-gateway/internal/storage"
	"github.com/yourusername/account-gateway/internal/users"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	_ = logger.Sync()
	if err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

// run は依存関係を組み立ててサーバーを起動し、ctx がキャンセルされるまでブロックします。
// 戻る前に HTTP サーバー、ジョブワーカー、データベースの順に停止します。
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	store, err := storage.OpenSQLite(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}()

	service, err := users.NewService(store, cfg.BcryptCost, logger)
	if err != nil {
		return fmt.Errorf("build user service: %w", err)
	}

	authManager, err := auth.NewManager(cfg, service, logger)
	if err != nil {
		return fmt.Errorf("build auth manager: %w", err)
	}

	limiter, err := setupLimiter(cfg)
	if err != nil {
		return fmt.Errorf("set up login limiter: %w", err)
	}

	opts := users.HandlerOptions{
		Limiter:            limiter,
		Logger:             logger,
		LegacyConflictHint: cfg.SignupLegacyConflictHint,
	}

	// キューが未設定の場合はアクティビティ記録を行わない
	if cfg.QueueRedisURL != "" {
		jobManager, err := setupJobs(cfg, store, logger)
		if err != nil {
			return fmt.Errorf("set up job manager: %w", err)
		}
		jobManager.StartWorkers()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := jobManager.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to shut down job manager", zap.Error(err))
			}
		}()
		opts.Scheduler = jobManager
	}

	sessionStore, err := newSessionStore(cfg, authManager, logger)
	if err != nil {
		return err
	}

	router := gin.Default()
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))
	router.Use(cors.New(newCORSConfig(cfg)))

	// ルーティングの設定
	setupRoutes(router, service, authManager, opts)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting API server", zap.String("addr", srv.Addr), zap.String("mode", cfg.GinMode))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

// newSessionStore はクッキーセッションストアを作成します。
func newSessionStore(cfg *config.Config, authManager *auth.Manager, logger *zap.Logger) (cookie.Store, error) {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		// 開発環境向け。再起動するとセッションは無効になる
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		logger.Warn("SESSION_SECRET is empty; using an ephemeral secret")
	}

	store := cookie.NewStore(secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   authManager.MaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	return store, nil
}

func newCORSConfig(cfg *config.Config) cors.Config {
	corsConfig := cors.DefaultConfig()
	// カンマ区切りの文字列を配列に変換
	var origins []string
	for _, origin := range strings.Split(cfg.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "Retry-After"}
	return corsConfig
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "account-gateway",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, accounts users.Accounts, authManager *auth.Manager, opts users.HandlerOptions) {
	router.GET("/health", handleHealth)

	api := router.Group("/api")
	{
		// サインアップ・ログインはセッション未生成なので CSRF 検証は不要
		users.RegisterRoutes(api.Group("/users"), accounts, authManager, opts)
		authManager.RegisterSessionRoutes(api.Group("/session"))
	}
}
