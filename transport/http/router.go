package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/pairlink/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(handlers *Handlers, auth *service.Authenticator) *gin.Engine {
	router := gin.Default()

	router.GET("/healthz", handlers.Health)

	// Client flow routes
	flows := router.Group("/flows")
	{
		flows.POST("", handlers.CreateFlow)
		flows.GET("/:id", handlers.GetFlow)
		flows.DELETE("/:id", handlers.DeleteFlow)
		flows.POST("/:id/connect", handlers.Connect)
		flows.GET("/:id/qr.png", handlers.PairingQR)
		flows.GET("/:id/qr.txt", handlers.PairingText)
		flows.POST("/:id/code", handlers.SubmitCode)
		flows.POST("/:id/back", handlers.Back)
		flows.POST("/:id/logout", handlers.Logout)
	}

	// Peer wallet routes
	router.POST("/relay/:topic/approve", handlers.Approve)

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(auth))
	{
		api.GET("/me", handlers.Me)
		api.GET("/balance", handlers.Balance)
		api.GET("/tokens", handlers.Tokens)
		api.GET("/dashboard", handlers.Dashboard)
	}

	return router
}
