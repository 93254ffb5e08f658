// Package main runs the conference polling HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/learnsphere/backend/config"
	"github.com/learnsphere/backend/internal/auth"
	"github.com/learnsphere/backend/internal/cache"
	"github.com/learnsphere/backend/internal/conferences"
	"github.com/learnsphere/backend/internal/middleware"
	"github.com/learnsphere/backend/internal/polling"
	"github.com/learnsphere/backend/internal/questions"
	"github.com/learnsphere/backend/internal/realtime"
	"github.com/learnsphere/backend/internal/worker"
	"github.com/learnsphere/backend/pkg/database"
	"github.com/learnsphere/backend/pkg/queue"
	"github.com/learnsphere/backend/pkg/redis"
	"github.com/learnsphere/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis is the authoritative shared store. Without it the server still
	// runs on an in-process store, which is only correct single-instance.
	var (
		store    cache.Store
		jobQueue *queue.Queue
		cleanup  polling.CleanupScheduler
		redisPub *realtime.RedisPubSub
	)
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-process store (single instance only)", zap.Error(err))
		mem := cache.NewMemoryStore()
		defer mem.Close()
		store = mem
		cleanup = polling.NewLocalCleanup(mem, logger)
	} else {
		defer rdb.Close()
		store = cache.NewRedisStore(rdb.Client)
		jobQueue = queue.NewQueue(rdb.Client, logger)
		cleanup = jobQueue
		redisPub = realtime.NewRedisPubSub(rdb.Client, logger)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	var hub *realtime.Hub
	if redisPub != nil {
		hub = realtime.NewHub(logger, redisPub, redisPub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}

	// Repositories
	authRepo := auth.NewRepository(pool)
	confRepo := conferences.NewRepository(pool)
	questionRepo := questions.NewRepository(pool)

	// Polling core
	pollCfg := polling.Config{
		DefaultDuration: time.Duration(cfg.Polling.DefaultDurationSec) * time.Second,
		PushLockTTL:     time.Duration(cfg.Polling.PushLockTTLSec) * time.Second,
		VoteLockTTL:     time.Duration(cfg.Polling.VoteLockTTLSec) * time.Second,
		LiveGrace:       time.Duration(cfg.Polling.LiveGraceSec) * time.Second,
		LedgerRetention: time.Duration(cfg.Polling.LedgerRetentionMin) * time.Minute,
	}
	svc := polling.NewService(pollCfg, store, confRepo, questionRepo, cleanup, hub, logger)
	defer svc.Shutdown()

	// Handlers
	authHandler := auth.NewHandler(authRepo, jwtService, logger)
	confHandler := conferences.NewHandler(confRepo, svc.Conferences(), logger)
	questionHandler := questions.NewHandler(questionRepo, confRepo, logger)

	jwtValidate := func(token string) (string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", err
		}
		return claims.UserID.String(), nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/conferences", confHandler.List)
		api.POST("/conferences", middleware.RequireRole("admin", "educator"), confHandler.Create)
		api.GET("/conferences/:id", confHandler.GetByID)
		api.PATCH("/conferences/:id/status", confHandler.UpdateStatus)

		api.POST("/conferences/:id/questions", questionHandler.Create)
		api.GET("/conferences/:id/questions", questionHandler.ListByConference)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, svc, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (vote-ledger cleanup); only the Redis queue needs one.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if jobQueue != nil {
		processor := worker.NewCleanupProcessor(store, jobQueue, logger)
		go processor.Run(workerCtx)
		logger.Info("cleanup worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
