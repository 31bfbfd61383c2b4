// Package main runs the telemedicine consultation coordinator: REST API,
// WebSocket signaling and graceful shutdown.
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

	"github.com/telemedic/backend/config"
	"github.com/telemedic/backend/internal/appointments"
	"github.com/telemedic/backend/internal/auth"
	"github.com/telemedic/backend/internal/middleware"
	"github.com/telemedic/backend/internal/notifications"
	"github.com/telemedic/backend/internal/realtime"
	"github.com/telemedic/backend/internal/video"
	"github.com/telemedic/backend/pkg/database"
	"github.com/telemedic/backend/pkg/queue"
	"github.com/telemedic/backend/pkg/redis"
	"github.com/telemedic/backend/pkg/response"
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

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEUrls))
	for _, u := range cfg.WebRTC.ICEUrls {
		if u != "" {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
		}
	}

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Appointments
	appointmentRepo := appointments.NewRepository(pool)
	appointmentHandler := appointments.NewHandler(appointmentRepo)

	// Notifications (fire-and-forget hook via Redis queue, worker delivers)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	notifier := notifications.NewQueueNotifier(jobQueue, logger)
	notificationRepo := notifications.NewRepository(pool)
	notificationHandler := notifications.NewHandler(notificationRepo)

	// Video rooms (lifecycle, registry, signaling relay)
	roomRepo := video.NewRepository(pool)
	registry := video.NewRegistry()
	videoService := video.NewService(registry, roomRepo, appointmentRepo, notifier, logger)
	if err := videoService.Hydrate(ctx); err != nil {
		logger.Fatal("hydrate rooms", zap.Error(err))
	}
	videoHandler := video.NewHandler(videoService, iceServers)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
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
		api.GET("/doctors", authHandler.ListDoctors)

		// Appointments
		api.GET("/appointments", appointmentHandler.List)
		api.POST("/appointments", middleware.RequireRole("patient"), appointmentHandler.Book)
		api.GET("/appointments/:id", appointmentHandler.GetByID)
		api.PATCH("/appointments/:id/approve", middleware.RequireRole("doctor"), appointmentHandler.Approve)
		api.PATCH("/appointments/:id/reject", middleware.RequireRole("doctor"), appointmentHandler.Reject)

		// Video rooms
		api.GET("/video/ice-servers", videoHandler.ICEServers)
		api.POST("/video/room", videoHandler.CreateRoom)
		api.GET("/video/room/:roomId", videoHandler.GetRoom)
		api.GET("/video/appointment/:appointmentId/room", videoHandler.RoomForAppointment)
		api.POST("/video/room/:roomId/validate", videoHandler.Validate)
		api.POST("/video/room/:roomId/end", videoHandler.EndRoom)

		// Notifications
		api.GET("/notifications", notificationHandler.List)
		api.PATCH("/notifications/:id/read", notificationHandler.MarkRead)
	}

	// WebSocket signaling (token in query; no Authorization header on WS handshake)
	router.GET("/ws", realtime.ServeWs(videoService, logger, jwtValidate))

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
