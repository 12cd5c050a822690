package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"otp-auth/internal/service"
)

// Codigos de error legibles por maquina que acompañan a message.
const (
	CodeIdentityExists  = "IDENTITY_EXISTS"
	CodeNotFound        = "NOT_FOUND"
	CodeBadCredentials  = "BAD_CREDENTIALS"
	CodeInvalidOTP      = "INVALID_OTP"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeUpstreamFailure = "UPSTREAM_FAILURE"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeRateLimited     = "RATE_LIMITED"
)

type apiError struct {
	status  int
	code    string
	message string
}

var errorTable = []struct {
	target error
	apiError
}{
	{service.ErrIdentityExists, apiError{http.StatusBadRequest, CodeIdentityExists, "An account with this email already exists"}},
	{service.ErrIdentityNotFound, apiError{http.StatusNotFound, CodeNotFound, "Account not found"}},
	{service.ErrBadCredentials, apiError{http.StatusUnauthorized, CodeBadCredentials, "Invalid email or password"}},
	{service.ErrInvalidOTP, apiError{http.StatusBadRequest, CodeInvalidOTP, "Invalid or expired OTP"}},
	{service.ErrInvalidInput, apiError{http.StatusBadRequest, CodeInvalidRequest, "Invalid request"}},
	{service.ErrRateLimited, apiError{http.StatusTooManyRequests, CodeRateLimited, "Too many requests, try again later"}},
	{service.ErrUnauthorized, apiError{http.StatusUnauthorized, CodeUnauthorized, "Access denied. Please login again."}},
	{service.ErrForbidden, apiError{http.StatusForbidden, CodeForbidden, "Email verification required"}},
	{service.ErrEmailSendFailure, apiError{http.StatusServiceUnavailable, CodeUpstreamFailure, "Email delivery unavailable"}},
}

var internalError = apiError{http.StatusInternalServerError, CodeUpstreamFailure, "Something went wrong, please try again"}

// classify traduce un error de servicio a status, codigo y mensaje.
func classify(err error) apiError {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.apiError
		}
	}
	return internalError
}

func abortWithError(c *gin.Context, e apiError) {
	c.AbortWithStatusJSON(e.status, gin.H{
		"success": false,
		"message": e.message,
		"code":    e.code,
	})
}

// respondError escribe el error y loguea con detalle los fallos 5xx.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		logger.Error(op+" failed", zap.Error(err))
	}
	abortWithError(c, e)
}

func respondInvalidRequest(c *gin.Context, logger *zap.Logger, op string, err error) {
	logger.Warn("invalid "+op+" request", zap.Error(err))
	abortWithError(c, apiError{http.StatusBadRequest, CodeInvalidRequest, "Invalid request"})
}
