package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProtectedHandler sirve recursos de ejemplo detras del middleware de acceso.
type ProtectedHandler struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewProtectedHandler(logger *zap.Logger) *ProtectedHandler {
	return &ProtectedHandler{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Dashboard maneja GET /protected/dashboard.
func (h *ProtectedHandler) Dashboard(c *gin.Context) {
	identity, _ := GetIdentity(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Welcome to your dashboard!",
		"user":    identity,
		"data": gin.H{
			"lastLogin": h.now(),
			"features":  []string{"feature1", "feature2", "feature3"},
		},
	})
}

// PremiumContent maneja GET /protected/premium-content; requiere identidad verificada.
func (h *ProtectedHandler) PremiumContent(c *gin.Context) {
	identity, _ := GetIdentity(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Welcome to premium content!",
		"user":    identity,
		"premiumData": gin.H{
			"content":     "This is premium content only for verified users",
			"accessLevel": "premium",
		},
	})
}

// PublicContent maneja GET /protected/public-content. Personaliza si hay sesion.
func (h *ProtectedHandler) PublicContent(c *gin.Context) {
	resp := gin.H{
		"success": true,
		"message": "Public content accessible to everyone",
		"publicData": gin.H{
			"content":   "This content is available to all users",
			"timestamp": h.now(),
		},
	}
	if identity, ok := GetIdentity(c); ok {
		resp["userSpecificData"] = gin.H{
			"personalizedMessage": "Hello " + identity.Username + "!",
			"recommendations":     []string{"item1", "item2", "item3"},
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Settings maneja PUT /protected/settings. Devuelve lo recibido sin persistirlo.
func (h *ProtectedHandler) Settings(c *gin.Context) {
	var req struct {
		Theme         string `json:"theme"`
		Notifications *bool  `json:"notifications"`
		Privacy       string `json:"privacy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, h.logger, "settings", err)
		return
	}
	identity, _ := GetIdentity(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Settings updated successfully",
		"user":    identity,
		"updatedSettings": gin.H{
			"theme":         req.Theme,
			"notifications": req.Notifications,
			"privacy":       req.Privacy,
			"updatedAt":     h.now(),
		},
	})
}
