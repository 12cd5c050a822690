package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"otp-auth/internal/domain"
	"otp-auth/internal/service"
)

// AuthHandler expone el flujo de autenticacion de un Kind de identidad.
type AuthHandler struct {
	logger  *zap.Logger
	auth    *service.AuthService
	cookies CookieConfig
	label   string
}

// NewAuthHandler crea un handler para el Kind que sirve auth.
func NewAuthHandler(logger *zap.Logger, auth *service.AuthService, cookies CookieConfig) *AuthHandler {
	label := "User"
	if auth.Kind() == domain.KindAdmin {
		label = "Admin"
	}
	return &AuthHandler{
		logger:  logger.With(zap.String("kind", string(auth.Kind()))),
		auth:    auth,
		cookies: cookies,
		label:   label,
	}
}

// Resolver devuelve el resolvedor de sesiones para los middlewares de este Kind.
func (h *AuthHandler) Resolver() SessionResolver {
	return h.auth
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, h.logger, "register", err)
		return
	}

	session, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondError(c, h.logger, "register", err)
		return
	}

	setSessionCookie(c, h.cookies, session.Token)
	c.JSON(http.StatusCreated, gin.H{
		"message": h.label + " created successfully",
		"newUser": session.Identity.View(),
	})
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, h.logger, "login", err)
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.logger, "login", err)
		return
	}

	setSessionCookie(c, h.cookies, result.Token)
	c.JSON(http.StatusOK, gin.H{
		"message":      "OTP sent to your email",
		"user":         result.Identity.View(),
		"otpExpiresAt": result.OTPExpiresAt,
	})
}

// VerifyOTP maneja POST /auth/verifyOtp.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		OTP   string `json:"otp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, h.logger, "verify otp", err)
		return
	}

	identity, err := h.auth.VerifyOTP(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		// En verificacion una cuenta inexistente se reporta como 400.
		if errors.Is(err, service.ErrIdentityNotFound) {
			e := classify(err)
			e.status = http.StatusBadRequest
			abortWithError(c, e)
			return
		}
		respondError(c, h.logger, "verify otp", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "OTP verified successfully",
		"user":    identity.View(),
	})
}

// ForgotPassword maneja POST /auth/forgot-password.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, h.logger, "forgot password", err)
		return
	}

	expiresAt, err := h.auth.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		respondError(c, h.logger, "forgot password", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Password reset OTP sent to your email",
		"otpExpiresAt": expiresAt,
	})
}

// ResetPassword maneja POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required"`
		NewPassword string `json:"newPassword" binding:"required"`
		OTP         string `json:"otp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, h.logger, "reset password", err)
		return
	}

	err := h.auth.ResetPassword(c.Request.Context(), service.ResetPasswordInput{
		Email:       req.Email,
		NewPassword: req.NewPassword,
		OTP:         req.OTP,
	})
	if err != nil {
		respondError(c, h.logger, "reset password", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Password reset successfully",
	})
}

// Me maneja GET /auth/me y GET /auth/profile.
func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := GetIdentity(c)
	if !ok {
		abortWithError(c, classify(service.ErrUnauthorized))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": identity})
}

// UpdateUser maneja PUT /auth/updateUser.
func (h *AuthHandler) UpdateUser(c *gin.Context) {
	identity, ok := GetIdentity(c)
	if !ok {
		abortWithError(c, classify(service.ErrUnauthorized))
		return
	}

	var req domain.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidRequest(c, h.logger, "update user", err)
		return
	}

	updated, err := h.auth.UpdateProfile(c.Request.Context(), identity.ID, req)
	if err != nil {
		respondError(c, h.logger, "update user", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"user":       updated.View(),
		"updateData": req,
	})
}

// Logout maneja POST /auth/logout. Limpia la cookie aunque no haya sesion.
func (h *AuthHandler) Logout(c *gin.Context) {
	if identity, ok := GetIdentity(c); ok {
		h.logger.Info("logout", zap.String("id", identity.ID))
	}
	clearSessionCookie(c, h.cookies)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logged out successfully",
	})
}
