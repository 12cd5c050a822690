package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"otp-auth/internal/config"
	"otp-auth/internal/db"
	"otp-auth/internal/domain"
	"otp-auth/internal/email"
	apihttp "otp-auth/internal/http"
	"otp-auth/internal/repository"
	"otp-auth/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	var (
		otpStore    = service.NewMemoryOTPStore()
		otpLimiter  = service.NewOTPRateLimiter(cfg.OTPRateWindow, cfg.OTPRateMax)
		redisClient *redis.Client
	)
	if client := newRedisClient(ctx, cfg, logger); client != nil {
		redisClient = client
		defer redisClient.Close()
		otpStore = service.NewRedisOTPStore(redisClient)
		otpLimiter = service.NewRedisOTPRateLimiter(redisClient, cfg.OTPRateWindow, cfg.OTPRateMax)
	} else {
		logger.Warn("redis not available, using in-memory otp store")
	}

	emailSender := newEmailSender(cfg, logger)
	otpIssuer := service.NewOTPIssuer(otpStore)
	tokens := service.NewTokenCodec(cfg.JWTSecret, cfg.SessionTTL)
	hasher := service.NewBcryptHasher(0)
	authCfg := service.AuthConfig{
		OTPLength:        cfg.OTPLength,
		LoginOTPTTL:      cfg.LoginOTPTTL,
		ResetOTPTTL:      cfg.ResetOTPTTL,
		ResetRequiresOTP: cfg.ResetRequiresOTP,
	}

	userRepo := repository.NewPgIdentityRepository(pool, domain.KindUser)
	adminRepo := repository.NewPgIdentityRepository(pool, domain.KindAdmin)
	userSvc := service.NewAuthService(logger, userRepo, hasher, otpIssuer, tokens, emailSender, otpLimiter, authCfg)
	adminSvc := service.NewAuthService(logger, adminRepo, hasher, otpIssuer, tokens, emailSender, otpLimiter, authCfg)

	if cfg.AdminSeedConfigured() {
		created, err := adminSvc.EnsureIdentity(ctx, service.RegisterInput{
			Username: cfg.AdminUsername,
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
		})
		if err != nil {
			logger.Fatal("seed admin", zap.Error(err))
		}
		logger.Info("admin seed", zap.String("email", cfg.AdminEmail), zap.Bool("created", created))
	}

	checks := map[string]apihttp.HealthCheck{
		"postgres": func(ctx context.Context) error { return db.Ping(ctx, pool) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	cookies := apihttp.CookieConfig{Secure: cfg.IsProduction(), MaxAge: tokens.TTL()}
	router := apihttp.NewRouter(logger,
		apihttp.NewAuthHandler(logger, userSvc, cookies),
		apihttp.NewAuthHandler(logger, adminSvc, cookies),
		apihttp.NewProtectedHandler(logger),
		apihttp.NewHealthHandler(logger, checks),
	)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

// newRedisClient devuelve nil si REDIS_URL no esta configurado o Redis no responde.
func newRedisClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL", zap.Error(err))
		return nil
	}
	if cfg.RedisUsername != "" {
		opts.Username = cfg.RedisUsername
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}

	client := redis.NewClient(opts)
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		logger.Warn("redis ping failed", zap.Error(err))
		_ = client.Close()
		return nil
	}
	return client
}

func newEmailSender(cfg *config.Config, logger *zap.Logger) email.Sender {
	if cfg.EmailConfigured() {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.EmailUser, cfg.EmailPass, cfg.EmailUser, cfg.EmailFromName, cfg.SMTPUseTLS)
		if err == nil {
			return sender
		}
		logger.Warn("smtp sender init failed", zap.Error(err))
	}
	if !cfg.IsProduction() {
		logger.Warn("email not configured, otp codes will be logged")
		return email.NewLogSender(logger)
	}
	return email.NewDisabledSender("email sender not configured")
}
