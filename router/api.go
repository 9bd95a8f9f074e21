package router

import (
	"database/sql"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/hardian-n/otomatisin/authz"
	"github.com/hardian-n/otomatisin/handlers"
	"github.com/hardian-n/otomatisin/internal/config"
	"github.com/hardian-n/otomatisin/services"
)

func NewGinRouter(pg *sql.DB, redis *redis.Client, cfg config.Config, container *services.Container) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(pg, redis)
	autoreplyHandler := handlers.NewAutoreplyHandler(container.Autoreply)
	inboxHandler := handlers.NewInboxHandler(container.ThreadsInbox, container.TelegramInbox)

	authMiddleware := authz.NewMiddleware(cfg.Auth.JWTSecret, cfg.Auth.InternalToken)

	// PUBLIC ROUTES
	r.GET("/health", healthHandler.Health)

	// Dry-run route: authenticated by the shared internal token, org id in the body
	internal := r.Group("/api")
	internal.Use(authMiddleware.RequireInternalToken())
	{
		internal.POST("/autoreply/test", autoreplyHandler.Test)
	}

	// TENANT ROUTES
	v1 := r.Group("/v1")
	v1.Use(authMiddleware.RequireTenant())
	{
		autoreplyRoutes := v1.Group("/autoreply")
		{
			autoreplyRoutes.POST("/evaluate", autoreplyHandler.Evaluate)
			autoreplyRoutes.GET("/rules", autoreplyHandler.ListRules)
			autoreplyRoutes.GET("/rules/:id", autoreplyHandler.GetRule)
			autoreplyRoutes.POST("/rules", autoreplyHandler.CreateRule)
			autoreplyRoutes.PUT("/rules/:id", autoreplyHandler.UpdateRule)
			autoreplyRoutes.DELETE("/rules/:id", autoreplyHandler.DeleteRule)
		}

		inboxRoutes := v1.Group("/inbox")
		{
			inboxRoutes.GET("/threads/channels", inboxHandler.ListThreadsChannels)
			inboxRoutes.GET("/threads/replies", inboxHandler.ThreadsReplies)
			inboxRoutes.GET("/telegram/channels", inboxHandler.ListTelegramChannels)
			inboxRoutes.GET("/telegram/messages", inboxHandler.TelegramMessages)
		}
	}

	return r
}
