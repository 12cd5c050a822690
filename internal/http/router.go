package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter configura el router de Gin con middlewares y rutas base.
func NewRouter(
	logger *zap.Logger,
	userH *AuthHandler,
	adminH *AuthHandler,
	protectedH *ProtectedHandler,
	healthH *HealthHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	if healthH != nil {
		r.GET("/healthz", healthH.Healthz)
	}

	requireUser := Authenticate(logger, userH.Resolver())

	auth := r.Group("/auth")
	auth.POST("/register", userH.Register)
	auth.POST("/login", userH.Login)
	auth.POST("/verifyOtp", userH.VerifyOTP)
	auth.POST("/forgot-password", userH.ForgotPassword)
	auth.POST("/reset-password", userH.ResetPassword)
	auth.PUT("/updateUser", requireUser, userH.UpdateUser)
	auth.GET("/me", requireUser, userH.Me)
	auth.GET("/profile", requireUser, RequireVerified(), userH.Me)
	auth.POST("/logout", OptionalAuthenticate(logger, userH.Resolver()), userH.Logout)

	if adminH != nil {
		admin := auth.Group("/admin")
		admin.POST("/register", adminH.Register)
		admin.POST("/login", adminH.Login)
		admin.POST("/verifyOtp", adminH.VerifyOTP)
		admin.GET("/me", Authenticate(logger, adminH.Resolver()), adminH.Me)
	}

	if protectedH != nil {
		protected := r.Group("/protected")
		protected.GET("/dashboard", requireUser, protectedH.Dashboard)
		protected.GET("/premium-content", requireUser, RequireVerified(), protectedH.PremiumContent)
		protected.GET("/public-content", OptionalAuthenticate(logger, userH.Resolver()), protectedH.PublicContent)
		protected.PUT("/settings", requireUser, protectedH.Settings)
	}

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
