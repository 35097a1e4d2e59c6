package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/socratica-backend/internal/handlers"
	"github.com/yungbote/socratica-backend/internal/middleware"
)

type RouterConfig struct {
	ServiceName        string
	AllowOrigins       []string
	AuthHandler        *handlers.AuthHandler
	AuthMiddleware     *middleware.AuthMiddleware
	UserHandler        *handlers.UserHandler
	SessionHandler     *handlers.SessionHandler
	TurnHandler        *handlers.TurnHandler
	SSEHandler         *handlers.SSEHandler
	HealthcheckHandler *handlers.HealthcheckHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "socratica-backend"
	}
	router.Use(otelgin.Middleware(serviceName))

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", cfg.HealthcheckHandler.Healthcheck)
	router.POST("/register", cfg.AuthHandler.Register)
	router.POST("/login", cfg.AuthHandler.Login)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	// Auth
	protected.POST("/refresh", cfg.AuthHandler.Refresh)
	protected.POST("/logout", cfg.AuthHandler.Logout)
	// User
	protected.GET("/user", cfg.UserHandler.GetMe)
	// Sessions
	protected.POST("/sessions", cfg.SessionHandler.AcceptPlan)
	protected.GET("/sessions", cfg.SessionHandler.ListSessions)
	protected.GET("/sessions/:id", cfg.SessionHandler.GetSession)
	protected.GET("/sessions/:id/messages", cfg.SessionHandler.ListMessages)
	protected.GET("/sessions/:id/followups", cfg.SessionHandler.ListFollowUps)
	protected.POST("/sessions/:id/introduce", cfg.SessionHandler.Introduce)
	// Turns
	protected.POST("/sessions/:id/turns", cfg.TurnHandler.SendTurn)
	protected.POST("/sessions/:id/turns/stream", cfg.TurnHandler.StreamTurn)
	// SSE
	protected.GET("/sse/stream", cfg.SSEHandler.Stream)
	protected.POST("/sse/subscribe", cfg.SSEHandler.Subscribe)
	protected.POST("/sse/unsubscribe", cfg.SSEHandler.Unsubscribe)

	return router
}
