package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"otp-auth/internal/domain"
	"otp-auth/internal/service"
)

const authIdentityKey = "auth_identity"

// SessionResolver convierte un token de sesion en la identidad saneada.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (domain.IdentityView, error)
}

// tokenSource es lo unico que el middleware necesita del request.
type tokenSource interface {
	Cookie(name string) (string, error)
	GetHeader(key string) string
}

// sessionToken lee la cookie de sesion; el header Authorization Bearer queda como alternativa.
func sessionToken(req tokenSource) string {
	if token, err := req.Cookie(sessionCookieName); err == nil && strings.TrimSpace(token) != "" {
		return strings.TrimSpace(token)
	}
	header := strings.TrimSpace(req.GetHeader("Authorization"))
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

func authenticate(ctx context.Context, resolver SessionResolver, req tokenSource) (domain.IdentityView, error) {
	token := sessionToken(req)
	if token == "" {
		return domain.IdentityView{}, service.ErrUnauthorized
	}
	return resolver.Resolve(ctx, token)
}

// Authenticate exige una sesion valida y guarda la identidad en el contexto.
func Authenticate(logger *zap.Logger, resolver SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if resolver == nil {
			abortWithError(c, apiError{http.StatusInternalServerError, CodeUpstreamFailure, "auth not configured"})
			return
		}
		identity, err := authenticate(c.Request.Context(), resolver, c)
		if err != nil {
			respondError(c, logger, "authenticate", err)
			return
		}
		c.Set(authIdentityKey, identity)
		c.Next()
	}
}

// RequireVerified va despues de Authenticate y rechaza identidades sin verificar.
func RequireVerified() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			abortWithError(c, classify(service.ErrUnauthorized))
			return
		}
		if !identity.Verified {
			abortWithError(c, classify(service.ErrForbidden))
			return
		}
		c.Next()
	}
}

// OptionalAuthenticate adjunta la identidad si hay una sesion valida y nunca rechaza.
func OptionalAuthenticate(logger *zap.Logger, resolver SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if resolver != nil {
			identity, err := authenticate(c.Request.Context(), resolver, c)
			if err == nil {
				c.Set(authIdentityKey, identity)
			} else if !isUnauthorized(err) {
				logger.Warn("optional authenticate failed", zap.Error(err))
			}
		}
		c.Next()
	}
}

// GetIdentity obtiene la identidad autenticada desde el contexto.
func GetIdentity(c *gin.Context) (domain.IdentityView, bool) {
	val, ok := c.Get(authIdentityKey)
	if !ok {
		return domain.IdentityView{}, false
	}
	identity, ok := val.(domain.IdentityView)
	return identity, ok
}

func isUnauthorized(err error) bool {
	return classify(err).code == CodeUnauthorized
}
