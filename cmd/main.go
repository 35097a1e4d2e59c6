package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	redisclient "github.com/yungbote/socratica-backend/internal/clients/redis"
	"github.com/yungbote/socratica-backend/internal/db"
	"github.com/yungbote/socratica-backend/internal/handlers"
	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/middleware"
	"github.com/yungbote/socratica-backend/internal/observability"
	"github.com/yungbote/socratica-backend/internal/repos"
	"github.com/yungbote/socratica-backend/internal/server"
	"github.com/yungbote/socratica-backend/internal/services"
	"github.com/yungbote/socratica-backend/internal/sse"
	"github.com/yungbote/socratica-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Tracing
	shutdownTracing := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "socratica-backend",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	})
	if shutdownTracing != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(shutdownCtx)
		}()
	}

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	accessTokenTTL := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
	refreshTokenTTL := utils.GetEnvAsInt("REFRESH_TOKEN_TTL", 86400, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	userTokenRepo := repos.NewUserTokenRepo(thePG, log)
	sessionRepo := repos.NewSessionRepo(thePG, log)
	phaseRepo := repos.NewPhaseRepo(thePG, log)
	termRepo := repos.NewTermRepo(thePG, log)
	messageRepo := repos.NewMessageRepo(thePG, log)
	followUpRepo := repos.NewFollowUpRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewSSEHub(log)

	// Redis fan-out is optional; single-instance deployments run without it.
	var sseBus redisclient.SSEBus
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		sseBus, err = redisclient.NewSSEBus(log)
		if err != nil {
			log.Warn("Redis SSE bus init failed; continuing without cross-instance fan-out", "error", err)
			sseBus = nil
		}
	}
	if sseBus != nil {
		defer sseBus.Close()
		if err := sseBus.StartForwarder(ctx, func(m sse.SSEMessage) {
			sseHub.Broadcast(m)
		}); err != nil {
			log.Warn("Redis SSE forwarder failed to start", "error", err)
		}
	}

	// Services
	log.Info("Setting up Services from main...")
	mistralClient, err := services.NewMistralClient(log)
	if err != nil {
		log.Error("Could not init MistralClient", "error", err)
		os.Exit(1)
	}
	var busPublisher services.SSEPublisher
	if sseBus != nil {
		busPublisher = sseBus
	}
	notifier := services.NewSessionNotifier(log, sseHub, busPublisher)
	authService := services.NewAuthService(thePG, log, userRepo, userTokenRepo, jwtSecretKey, time.Duration(accessTokenTTL)*time.Second, time.Duration(refreshTokenTTL)*time.Second)
	userService := services.NewUserService(thePG, log, userRepo)
	sessionService := services.NewSessionService(thePG, log, sessionRepo, phaseRepo, termRepo, messageRepo, followUpRepo, notifier)
	followUpService := services.NewFollowUpService(thePG, log, sessionRepo, phaseRepo, termRepo, messageRepo, followUpRepo, mistralClient, notifier)
	followUpService.StartWorker(ctx)
	turnService := services.NewTurnService(thePG, log, userRepo, sessionRepo, phaseRepo, termRepo, messageRepo, followUpRepo, mistralClient, followUpService, notifier)

	// Handlers
	log.Info("Setting up handlers from main...")
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(userService)
	sessionHandler := handlers.NewSessionHandler(sessionService, turnService)
	turnHandler := handlers.NewTurnHandler(log, turnService, mistralClient)
	sseHandler := handlers.NewSSEHandler(log, sseHub, sessionService)
	healthcheckHandler := handlers.NewHealthcheckHandler()

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		ServiceName:        "socratica-backend",
		AllowOrigins:       splitOrigins(utils.GetEnv("CORS_ALLOW_ORIGINS", "", log)),
		AuthHandler:        authHandler,
		AuthMiddleware:     authMiddleware,
		UserHandler:        userHandler,
		SessionHandler:     sessionHandler,
		TurnHandler:        turnHandler,
		SSEHandler:         sseHandler,
		HealthcheckHandler: healthcheckHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}

func splitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
