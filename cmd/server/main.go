// Package main runs the session-coordination HTTP server: meeting lifecycle
// REST API plus the WebSocket signaling relay, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devjunction/backend/config"
	"github.com/devjunction/backend/internal/auth"
	"github.com/devjunction/backend/internal/meetings"
	"github.com/devjunction/backend/internal/middleware"
	"github.com/devjunction/backend/internal/signaling"
	"github.com/devjunction/backend/internal/users"
	"github.com/devjunction/backend/pkg/database"
	"github.com/devjunction/backend/pkg/queue"
	"github.com/devjunction/backend/pkg/redis"
	"github.com/devjunction/backend/pkg/response"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Meetings
	meetingRepo := meetings.NewRepository(pool)
	userRepo := users.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	meetingService := meetings.NewService(meetingRepo, userRepo, jobQueue, logger)
	meetingHandler := meetings.NewHandler(meetingService, logger)

	// Signaling
	registry := signaling.NewRegistry()
	roomPubSub := signaling.NewRedisPubSub(rdb.Client, logger)
	wsValidate := func(token string) (string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", err
		}
		return claims.UserID.String(), nil
	}
	gateway := signaling.NewGateway(registry, meetingService, roomPubSub, roomPubSub, wsValidate, logger, signaling.Options{
		SendBuffer:   cfg.Signaling.SendBuffer,
		MaxFrameSize: cfg.Signaling.MaxFrameSize,
	})

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEUrls))
	for _, u := range cfg.WebRTC.ICEUrls {
		if u != "" {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/config/webrtc", func(c *gin.Context) { response.OK(c, gin.H{"ice_servers": iceServers}) })

	// Meeting lifecycle API (JWT required; tokens come from the auth collaborator)
	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/meetings", meetingHandler.Create)
		api.PATCH("/meetings/:meetingId/status", meetingHandler.UpdateStatus)
		api.POST("/meetings/:meetingId/join", meetingHandler.Join)
		api.POST("/meetings/:meetingId/leave", meetingHandler.Leave)
		api.GET("/meetings/booking/:bookingId", meetingHandler.GetByBookingID)
		api.GET("/meetings/:meetingId", meetingHandler.GetDetails)
		api.GET("/meetings/user/:userId/upcoming", meetingHandler.ListUpcoming)
	}

	// Signaling WebSocket (token in query; no Authorization header on upgrades)
	router.GET("/ws/meeting/:roomId", gateway.ServeWs())

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
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
