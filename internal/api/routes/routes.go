package routes

import (
	"time"

	"charity-service/internal/api/handlers"
	"charity-service/internal/api/middleware"
	"charity-service/internal/config"

	"github.com/gin-gonic/gin"
)

type Router struct {
	engine         *gin.Engine
	cfg            *config.Config
	wsHandler      *handlers.WSHandler
	messageHandler *handlers.MessageHandler
	healthHandler  *handlers.HealthHandler
	rateLimitMW    *middleware.RateLimitMiddleware
	authMW         *middleware.AuthMiddleware
}

func NewRouter(
	cfg *config.Config,
	wsHandler *handlers.WSHandler,
	messageHandler *handlers.MessageHandler,
	healthHandler *handlers.HealthHandler,
	rateLimitMW *middleware.RateLimitMiddleware,
	authMW *middleware.AuthMiddleware,
) *Router {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	// Add middlewares
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.CORS.Origins, cfg.IsProduction()))
	engine.Use(middleware.LogApi())

	return &Router{
		engine:         engine,
		cfg:            cfg,
		wsHandler:      wsHandler,
		messageHandler: messageHandler,
		healthHandler:  healthHandler,
		rateLimitMW:    rateLimitMW,
		authMW:         authMW,
	}
}

func (r *Router) SetupRoutes() {
	limits := r.cfg.RateLimit
	window := limits.Window
	if window <= 0 {
		window = time.Minute
	}

	r.engine.GET("/health", r.healthHandler.Health)

	// WebSocket endpoints authenticate during the handshake
	handshake := r.rateLimitMW.RateLimitIP(limits.Connections, window)
	r.engine.GET("/socket", handshake, r.wsHandler.HandleWebSocket)

	api := r.engine.Group("/api/v1")
	api.GET("/ws", handshake, r.wsHandler.HandleWebSocket)
	api.GET("/websocket/stats", r.healthHandler.WebSocketStats)

	// Authenticated routes
	auth := api.Group("/")
	auth.Use(r.authMW.RequireAuth())
	{
		communities := auth.Group("/communities")
		{
			send := r.rateLimitMW.RateLimit(limits.Messages, window)
			communities.POST("/:communityId/messages", send, r.messageHandler.SendMessage)
			communities.GET("/:communityId/messages", r.messageHandler.GetCommunityMessages)
			communities.POST("/:communityId/messages/read", r.messageHandler.MarkMessagesAsRead)
			communities.GET("/recent-messages", r.messageHandler.GetRecentMessages)
			communities.GET("/unread-counts", r.messageHandler.GetUnreadMessageCounts)

			// Individual message routes with :messageId parameter
			const messageRoute = "/messages/:messageId"
			communities.PUT(messageRoute, r.messageHandler.EditMessage)
			communities.DELETE(messageRoute, r.messageHandler.DeleteMessage)
			communities.POST(messageRoute+"/react", r.messageHandler.AddReaction)
			communities.DELETE(messageRoute+"/react", r.messageHandler.RemoveReaction)
		}
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
