package service

import (
	"errors"
	"fmt"
)

// Errores de dominio: se traducen a 4xx en el borde HTTP y nunca se reintentan.
var (
	ErrIdentityExists   = errors.New("identity already exists")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrBadCredentials   = errors.New("invalid credentials")
	ErrInvalidOTP       = errors.New("invalid or expired otp")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("rate limited")
)

// Errores del middleware de acceso.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("verification required")
)

// ErrUpstream cubre fallos de Postgres, Redis o SMTP.
var (
	ErrUpstream         = errors.New("upstream failure")
	ErrEmailSendFailure = fmt.Errorf("%w: email send failed", ErrUpstream)
)

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
}
