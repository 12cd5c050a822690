package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const EnvProduction = "production"

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort   string        `env:"PORT" envDefault:"8080"`
	AppEnv     string        `env:"APP_ENV" envDefault:"production"`
	JWTSecret  string        `env:"JWT_SECRET,required"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"1h"`

	DatabaseURL string `env:"DATABASE_URL,required"`

	RedisURL      string `env:"REDIS_URL"`
	RedisUsername string `env:"REDIS_USERNAME"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	EmailUser     string `env:"EMAIL"`
	EmailPass     string `env:"EMAIL_PASS"`
	EmailFromName string `env:"EMAIL_FROM_NAME" envDefault:"MyApp"`
	SMTPHost      string `env:"SMTP_HOST" envDefault:"smtp.gmail.com"`
	SMTPPort      int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUseTLS    bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	OTPLength        int           `env:"OTP_LENGTH" envDefault:"6"`
	LoginOTPTTL      time.Duration `env:"LOGIN_OTP_TTL" envDefault:"5m"`
	ResetOTPTTL      time.Duration `env:"RESET_OTP_TTL" envDefault:"10m"`
	OTPRateWindow    time.Duration `env:"OTP_RATE_WINDOW" envDefault:"10m"`
	OTPRateMax       int           `env:"OTP_RATE_MAX" envDefault:"3"`
	ResetRequiresOTP bool          `env:"RESET_REQUIRES_OTP" envDefault:"false"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET must not be blank")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.OTPLength < 4 || c.OTPLength > 10 {
		return errors.New("OTP_LENGTH must be between 4 and 10")
	}
	if c.LoginOTPTTL <= 0 || c.ResetOTPTTL <= 0 {
		return errors.New("OTP TTLs must be positive")
	}
	return nil
}

// IsProduction habilita cookies secure y el logger de produccion.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), EnvProduction)
}

// EmailConfigured indica si hay credenciales SMTP.
func (c *Config) EmailConfigured() bool {
	return strings.TrimSpace(c.EmailUser) != ""
}

// AdminSeedConfigured indica si se debe sembrar un administrador al arrancar.
func (c *Config) AdminSeedConfigured() bool {
	return strings.TrimSpace(c.AdminEmail) != "" &&
		strings.TrimSpace(c.AdminUsername) != "" &&
		c.AdminPassword != ""
}
