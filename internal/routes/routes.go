package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telecare-server/internal/chat"
	"telecare-server/internal/config"
	"telecare-server/internal/handlers"
	"telecare-server/internal/logging"
	"telecare-server/internal/middleware"
	"telecare-server/internal/models"
	"telecare-server/internal/scheduling"
	"telecare-server/internal/store"
)

// Dependencies are the wired components the routes hand to handlers.
type Dependencies struct {
	Cfg           *config.Config
	Scheduling    *scheduling.Service
	Chat          *chat.Manager
	Users         *store.UserRepository
	RefreshTokens *store.RefreshTokenRepository
	Gatherer      prometheus.Gatherer // nil means the default registry
	Logger        *logging.Logger
}

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	cfg := deps.Cfg

	authHandler := handlers.NewAuthHandler(deps.Users, deps.RefreshTokens, cfg)
	userHandler := handlers.NewUserHandler(deps.Users)
	appointmentHandler := handlers.NewAppointmentHandler(deps.Scheduling)
	messageHandler := handlers.NewMessageHandler(deps.Scheduling)
	socketHandler := handlers.NewChatSocketHandler(deps.Chat, cfg.Origin, deps.Logger)

	// Public routes (no authentication required)
	public := router.Group("/api/v1")
	{
		authRoutes := public.Group("/auth")
		{
			authRoutes.POST("/register", authHandler.Register)
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/refresh-token", authHandler.RefreshToken)
		}

		// Browsers cannot set headers on a WebSocket handshake, so the token may ride in the query.
		public.GET("/ws", middleware.QueryTokenAuthMiddleware(cfg), socketHandler.HandleConnect)
	}

	// Authenticated routes
	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(cfg))
	{
		authRoutesPrivate := private.Group("/auth")
		{
			authRoutesPrivate.POST("/logout", authHandler.Logout)
			authRoutesPrivate.GET("/profile", authHandler.GetProfile)
		}

		userRoutes := private.Group("/users")
		{
			// Accessible by all authenticated users
			userRoutes.GET("/doctors", userHandler.GetDoctors)
			userRoutes.POST("", middleware.RoleAuthMiddleware(models.RoleAdmin), userHandler.CreateUser)
		}

		// Participation and role rules are enforced by the scheduling service.
		appointmentRoutes := private.Group("/appointments")
		{
			appointmentRoutes.POST("", middleware.RoleAuthMiddleware(models.RolePatient, models.RoleAdmin), appointmentHandler.CreateAppointment)
			appointmentRoutes.GET("", appointmentHandler.GetAppointmentsForUser)
			appointmentRoutes.GET("/:id", appointmentHandler.GetAppointmentByID)
			appointmentRoutes.GET("/:id/join-status", appointmentHandler.GetJoinStatus)

			appointmentRoutes.POST("/:id/payment", appointmentHandler.ConfirmPayment)
			appointmentRoutes.POST("/:id/cancel", appointmentHandler.CancelAppointment)
			appointmentRoutes.POST("/:id/complete", middleware.RoleAuthMiddleware(models.RoleDoctor, models.RoleAdmin), appointmentHandler.CompleteConsultation)

			appointmentRoutes.POST("/:id/reschedule", appointmentHandler.ProposeReschedule)
			appointmentRoutes.POST("/:id/reschedule/accept", appointmentHandler.AcceptReschedule)
			appointmentRoutes.POST("/:id/reschedule/reject", appointmentHandler.RejectReschedule)

			appointmentRoutes.POST("/:id/messages", messageHandler.SendMessage)
			appointmentRoutes.GET("/:id/messages", messageHandler.GetMessages)
			appointmentRoutes.GET("/:id/messages/unread", messageHandler.GetUnreadCount)
		}
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Simple health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "UP"})
	})
}
