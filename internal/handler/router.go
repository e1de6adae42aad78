package handler

import (
	"net/http"
	"time"

	"github.com/Baaaki/teamchat/internal/metrics"
	"github.com/Baaaki/teamchat/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups every HTTP handler mounted by NewRouter.
type Handlers struct {
	Auth          *AuthHandler
	Channels      *ChannelHandler
	Messages      *MessageHandler
	Directs       *DirectMessageHandler
	Presence      *PresenceHandler
	Notifications *NotificationHandler
	Files         *FileHandler
	Users         *UserHandler
	Admin         *AdminHandler
	WebSocket     *WebSocketHandler
}

type RouterConfig struct {
	JWTSecret      string
	IsProduction   bool
	AllowedOrigins []string

	// Limiter applies to every /api route; AuthLimiter additionally to login
	// and register. Both are optional.
	Limiter     *middleware.RateLimiter
	AuthLimiter *middleware.RateLimiter

	// FilesDir is served under FilesURL when uploads are kept on local disk.
	FilesDir string
	FilesURL string
}

func NewRouter(h Handlers, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HSTS(cfg.IsProduction))
	router.Use(metrics.Middleware())

	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/metrics", metrics.Handler())
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.FilesDir != "" && cfg.FilesURL != "" {
		router.Static(cfg.FilesURL, cfg.FilesDir)
	}

	// Public routes
	public := router.Group("/api")
	if cfg.Limiter != nil {
		public.Use(cfg.Limiter.Middleware())
	}
	{
		auth := public.Group("/auth")
		if cfg.AuthLimiter != nil {
			auth.Use(cfg.AuthLimiter.Middleware())
		}
		auth.POST("/register", h.Auth.Register)
		auth.POST("/login", h.Auth.Login)
		auth.POST("/logout", h.Auth.Logout)

		public.POST("/presence/offline", middleware.OptionalAuth(cfg.JWTSecret), h.Presence.Offline)
	}

	// Protected routes (require JWT)
	api := router.Group("/api")
	api.Use(middleware.Auth(cfg.JWTSecret))
	if cfg.Limiter != nil {
		api.Use(cfg.Limiter.Middleware())
	}
	{
		api.GET("/ws", h.WebSocket.HandleWebSocket)

		api.GET("/users", h.Users.Directory)
		api.GET("/users/me", h.Users.Me)
		api.PATCH("/users/me", h.Users.UpdateMe)
		api.PUT("/users/me/push-token", h.Users.SetPushToken)
		api.POST("/users/me/avatar", h.Files.UploadAvatar)
		api.GET("/users/:id", h.Users.Get)

		api.GET("/channels", h.Channels.List)
		api.POST("/channels", h.Channels.Create)
		api.GET("/channels/:id", h.Channels.Get)
		api.PATCH("/channels/:id", h.Channels.Update)
		api.POST("/channels/:id/archive", h.Channels.Archive)
		api.POST("/channels/:id/join", h.Channels.Join)
		api.POST("/channels/:id/leave", h.Channels.Leave)
		api.POST("/channels/:id/read", h.Channels.MarkRead)
		api.PUT("/channels/:id/notifications", h.Channels.SetNotifications)
		api.GET("/channels/:id/members", h.Channels.Members)
		api.POST("/channels/:id/members", h.Channels.AddMember)
		api.DELETE("/channels/:id/members/:userId", h.Channels.RemoveMember)
		api.PUT("/channels/:id/members/:userId/role", h.Channels.UpdateRole)
		api.GET("/channels/:id/messages", h.Messages.List)
		api.POST("/channels/:id/messages", h.Messages.Send)
		api.GET("/channels/:id/messages/search", h.Messages.Search)

		api.GET("/messages/:id", h.Messages.Get)
		api.PATCH("/messages/:id", h.Messages.Edit)
		api.DELETE("/messages/:id", h.Messages.Delete)

		api.GET("/dm/conversations", h.Directs.Conversations)
		api.GET("/dm/unread", h.Directs.Unread)
		api.GET("/dm/users/:userId/messages", h.Directs.List)
		api.POST("/dm/users/:userId/messages", h.Directs.Send)
		api.PATCH("/dm/messages/:id", h.Directs.Edit)
		api.DELETE("/dm/messages/:id", h.Directs.Delete)
		api.POST("/dm/messages/:id/read", h.Directs.MarkRead)

		api.GET("/presence", h.Presence.List)
		api.GET("/presence/online-count", h.Presence.OnlineCount)
		api.GET("/presence/users/:userId", h.Presence.Get)
		api.PUT("/presence", h.Presence.SetStatus)
		api.POST("/presence/heartbeat", h.Presence.Heartbeat)

		api.GET("/notifications", h.Notifications.List)
		api.GET("/notifications/unread-count", h.Notifications.UnreadCount)
		api.POST("/notifications/read-all", h.Notifications.MarkAllRead)
		api.POST("/notifications/:id/read", h.Notifications.MarkRead)
		api.DELETE("/notifications/:id", h.Notifications.Delete)

		api.POST("/files", h.Files.Upload)
		api.GET("/files/:id", h.Files.Get)
		api.DELETE("/files/:id", h.Files.Delete)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	{
		admin.GET("/users", h.Admin.ListUsers)
		admin.PUT("/users/:id/active", h.Admin.SetActive)
		admin.POST("/users/deactivate", h.Admin.DeactivateBulk)
		admin.POST("/notifications", h.Notifications.Create)
		admin.POST("/broadcast", h.Notifications.Broadcast)
		if h.Admin.limiter != nil {
			admin.GET("/bans", h.Admin.BannedIPs)
			admin.POST("/bans", h.Admin.BanIP)
			admin.DELETE("/bans/:ip", h.Admin.UnbanIP)
		}
	}

	return router
}
