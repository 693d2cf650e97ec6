package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/omnidesk/backend/internal/config"
	"github.com/omnidesk/backend/internal/http/handlers"
	"github.com/omnidesk/backend/internal/http/middleware"

	_ "github.com/omnidesk/backend/docs"
)

func Router(cfg config.Config, h *handlers.Handler, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id", "X-Tenant-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", h.Healthz)

	hooks := r.Group("/webhooks")
	hooks.Use(middleware.RateLimit(cfg.WebhookRatePerSecond, cfg.WebhookBurst, middleware.ByParam("channelId")))
	{
		hooks.POST("/whatsapp/:channelId", h.WebhookWhatsApp)
		hooks.GET("/meta/:channelId", h.WebhookMetaVerify)
		hooks.POST("/instagram/:channelId", h.WebhookInstagram)
		hooks.POST("/facebook/:channelId", h.WebhookFacebook)
		hooks.POST("/marketplace/:channelId", h.WebhookMarketplace)
		hooks.POST("/webchat/:channelId", h.WebhookWebchat)
		hooks.POST("/email/:channelId", h.WebhookEmail)
	}

	api := r.Group("/api")
	api.Use(middleware.Tenant())
	{
		api.GET("/conversations", h.ConversationsList)
		api.GET("/conversations/:id", h.ConversationGet)
		api.GET("/conversations/:id/messages", h.ConversationMessages)
		api.POST("/conversations/:id/messages", h.ConversationReply)
		api.POST("/conversations/:id/messages/:messageId/dispatch", h.ConversationDispatch)
		api.POST("/conversations/:id/assign", h.ConversationAssign)
		api.POST("/conversations/:id/close", h.ConversationClose)
		api.POST("/conversations/:id/archive", h.ConversationArchive)
		api.POST("/conversations/:id/route", h.ConversationRoute)
		api.POST("/conversations/:id/transfer", h.ConversationTransfer)
		api.GET("/conversations/:id/transfers", h.ConversationTransfers)

		api.GET("/departments", h.DepartmentsList)
		api.GET("/departments/:id", h.DepartmentGet)
		api.GET("/departments/:id/members", h.DepartmentMembers)

		api.GET("/agents", h.AgentsList)
		api.GET("/agents/online", h.AgentsOnline)
		api.POST("/agents/:id/presence", h.AgentPresence)

		api.GET("/queue/stats", h.QueueStats)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/departments", h.DepartmentCreate)
		admin.PUT("/departments/:id", h.DepartmentUpdate)
		admin.DELETE("/departments/:id", h.DepartmentDelete)
		admin.POST("/departments/:id/members", h.DepartmentAddMember)
		admin.DELETE("/departments/:id/members/:agentId", h.DepartmentRemoveMember)

		admin.POST("/agents", h.AgentCreate)
		admin.PUT("/agents/:id", h.AgentUpdate)

		admin.GET("/channels", h.ChannelsList)
		admin.POST("/channels", h.ChannelCreate)
		admin.PUT("/channels/:id", h.ChannelUpdate)

		admin.POST("/queue/process", h.QueueProcess)
		admin.GET("/debug/routing", h.DebugRouting)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
