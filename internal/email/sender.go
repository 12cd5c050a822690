package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Message es un correo saliente en texto plano.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender define la interfaz para envio de correos.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// VerificationOTPMessage arma el correo con el codigo de verificacion de login.
func VerificationOTPMessage(to, code string, expiresAt time.Time, admin bool) Message {
	subject := "Email Verification - OTP Inside"
	greeting := "Thanks for signing in! Please use the code below to verify your email:"
	if admin {
		subject = "Admin Login Verification - OTP Inside"
		greeting = "An admin login was requested for this address. Use the code below to continue:"
	}
	return Message{
		To:      to,
		Subject: subject,
		Body:    codeBody(greeting, code, expiresAt),
	}
}

// PasswordResetMessage arma el correo con el codigo de restablecimiento.
func PasswordResetMessage(to, code string, expiresAt time.Time) Message {
	return Message{
		To:      to,
		Subject: "Password Reset - OTP Inside",
		Body:    codeBody("A password reset was requested for your account. Use the code below:", code, expiresAt),
	}
}

func codeBody(intro, code string, expiresAt time.Time) string {
	return fmt.Sprintf(
		"Hello,\n\n%s\n\n    %s\n\nThis code expires at %s UTC.\n\nIf you did not request this, please ignore this email.\n",
		intro,
		code,
		expiresAt.UTC().Format(time.RFC3339),
	)
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) Send(_ context.Context, _ Message) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}

// LogSender escribe los correos en el log. Solo para desarrollo: el codigo queda en texto plano.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("email (log sender)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
