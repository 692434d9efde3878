// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/groundtruth/internal/activity"
	"github.com/yourusername/groundtruth/internal/auth"
	"github.com/yourusername/groundtruth/internal/channel"
	"github.com/yourusername/groundtruth/internal/config"
	"github.com/yourusername/groundtruth/internal/directory"
	"github.com/yourusername/groundtruth/internal/session"
)

const (
	serviceName    = "groundtruth-api"
	serviceVersion = "0.1.0"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(cfg.GinMode)
	if cfg.GinMode != gin.ReleaseMode {
		displayAppname(serviceName)
	}

	var rdb *redis.Client
	if cfg.SessionStore == config.SessionStoreRedis || cfg.ActivityEnabled {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	store, err := newSessionStore(cfg, rdb)
	if err != nil {
		return err
	}

	verifier, closeVerifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}
	defer closeVerifier()

	hub := channel.NewHub(logger.With().Str("component", "channel").Logger())

	var activityManager *activity.Manager
	if cfg.ActivityEnabled {
		activityManager, err = setupActivity(cfg, rdb, hub, logger.With().Str("component", "activity").Logger())
		if err != nil {
			return fmt.Errorf("setting up activity: %w", err)
		}
		defer activityManager.Close()
	}

	router := newRouter(cfg, logger, routerDeps{
		verifier: verifier,
		store:    store,
		hub:      hub,
		activity: activityManager,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("mode", cfg.GinMode).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	if activityManager != nil {
		g.Go(func() error {
			return activityManager.Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

type routerDeps struct {
	verifier auth.Verifier
	store    session.Store
	hub      *channel.Hub
	activity *activity.Manager
}

// newRouter はミドルウェアとルーティングを組み立てます。
func newRouter(cfg *config.Config, logger zerolog.Logger, deps routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	opts := auth.Options{
		TTL:    cfg.SessionTTL(),
		Secure: cfg.GinMode == gin.ReleaseMode,
		Logger: logger.With().Str("component", "auth").Logger(),
	}
	if deps.activity != nil {
		opts.Recorder = deps.activity
	}
	authManager := auth.NewManager(deps.verifier, deps.store, opts)

	// セッションストアの設定（Cookie にはセッションIDだけを載せる）
	cookieStore := cookie.NewStore([]byte(cfg.SessionSecret))
	cookieStore.Options(auth.CookieOptions(cfg.SessionTTL(), cfg.GinMode == gin.ReleaseMode))
	router.Use(sessions.Sessions(auth.SessionCookieName, cookieStore))

	// 別オリジンからの POST と WebSocket 接続を CORS より先に弾く
	allowedOrigins := cfg.AllowedOrigins()
	router.Use(authManager.VerifyOrigin(allowedOrigins))
	if deps.hub != nil {
		deps.hub.SetOriginCheck(func(r *http.Request) bool {
			return auth.OriginAllowed(r, allowedOrigins)
		})
	}

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, cfg, authManager, deps)
	return router
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, authManager *auth.Manager, deps routerDeps) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	// テナントチャンネルはログイン済みセッションが必要
	if deps.hub != nil {
		router.GET("/socket", authManager.RequireLogin(), gin.WrapH(deps.hub.Handler()))
	}

	api := router.Group("/api")
	authRoutes := authManager.RegisterRoutes(api)
	if deps.activity != nil {
		authRoutes.GET("/history", authManager.RequireLogin(), activityHistoryHandler(deps.activity, cfg.ActivityHistoryLimit))
	}
}

func newSessionStore(cfg *config.Config, rdb *redis.Client) (session.Store, error) {
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		if rdb == nil {
			return nil, errors.New("redis client is required for SESSION_STORE=redis")
		}
		return session.NewRedisStore(rdb), nil
	case config.SessionStoreMemory:
		return session.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

// newVerifier は DIRECTORY_PATH があれば SQLite、無ければ単一アカウントで検証します。
func newVerifier(cfg *config.Config) (auth.Verifier, func(), error) {
	if cfg.DirectoryPath != "" {
		dir, err := directory.OpenSQLite(cfg.DirectoryPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening directory: %w", err)
		}
		return dir, func() { _ = dir.Close() }, nil
	}
	return directory.NewStatic(cfg.AppUsername, cfg.AppPasswordHash, cfg.Tenants()), func() {}, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.GinMode == gin.ReleaseMode {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return logger.Level(level).With().Timestamp().Str("service", serviceName).Logger()
}

// requestLogger は gin のアクセスログを zerolog で出力します。
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest:
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
