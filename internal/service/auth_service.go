package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"otp-auth/internal/domain"
	"otp-auth/internal/email"
	"otp-auth/internal/repository"
)

const maxPasswordBytes = 72

// AuthConfig agrupa la politica de OTP de un AuthService.
type AuthConfig struct {
	OTPLength        int
	LoginOTPTTL      time.Duration
	ResetOTPTTL      time.Duration
	ResetRequiresOTP bool
}

func (c AuthConfig) withDefaults() AuthConfig {
	if c.OTPLength <= 0 {
		c.OTPLength = DefaultOTPLength
	}
	if c.LoginOTPTTL <= 0 {
		c.LoginOTPTTL = DefaultLoginTTL
	}
	if c.ResetOTPTTL <= 0 {
		c.ResetOTPTTL = DefaultResetTTL
	}
	return c
}

// AuthService orquesta registro, login, verificacion OTP y reset de password
// para un Kind de identidad. No guarda estado entre requests.
type AuthService struct {
	logger     *zap.Logger
	identities repository.IdentityRepository
	hasher     PasswordHasher
	otp        *OTPIssuer
	tokens     *TokenCodec
	sender     email.Sender
	limiter    OTPRateLimiter
	cfg        AuthConfig
	now        func() time.Time
}

func NewAuthService(
	logger *zap.Logger,
	identities repository.IdentityRepository,
	hasher PasswordHasher,
	otp *OTPIssuer,
	tokens *TokenCodec,
	sender email.Sender,
	limiter OTPRateLimiter,
	cfg AuthConfig,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = allowAll{}
	}
	return &AuthService{
		logger:     logger,
		identities: identities,
		hasher:     hasher,
		otp:        otp,
		tokens:     tokens,
		sender:     sender,
		limiter:    limiter,
		cfg:        cfg.withDefaults(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuthService) Kind() domain.Kind {
	return s.identities.Kind()
}

// Session es un token recien emitido junto con su identidad.
type Session struct {
	Identity  domain.Identity
	Token     string
	ExpiresAt time.Time
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register crea la identidad sin verificar y emite un token. Un email existente no escribe nada.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (Session, error) {
	emailAddr := normalizeEmail(input.Email)
	username := strings.TrimSpace(input.Username)
	if !isValidEmail(emailAddr) || username == "" || !isValidPassword(input.Password) {
		return Session{}, ErrInvalidInput
	}

	_, err := s.identities.GetByEmail(ctx, emailAddr)
	switch {
	case err == nil:
		return Session{}, ErrIdentityExists
	case !errors.Is(err, pgx.ErrNoRows):
		return Session{}, upstream("find identity", err)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return Session{}, upstream("hash password", err)
	}

	now := s.now()
	identity := domain.Identity{
		ID:           uuid.NewString(),
		Kind:         s.Kind(),
		Email:        emailAddr,
		Username:     username,
		PasswordHash: hash,
		Role:         domain.RoleFor(s.Kind()),
		Verified:     false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return Session{}, ErrIdentityExists
		}
		return Session{}, upstream("create identity", err)
	}

	token, expiresAt, err := s.tokens.Mint(identity.Kind, identity.Email)
	if err != nil {
		return Session{}, upstream("mint token", err)
	}

	s.logger.Info("identity registered", zap.String("kind", string(identity.Kind)), zap.String("id", identity.ID))
	return Session{Identity: identity, Token: token, ExpiresAt: expiresAt}, nil
}

// LoginResult incluye el vencimiento del OTP enviado; la sesion no esta completa hasta VerifyOTP.
type LoginResult struct {
	Session
	OTPExpiresAt time.Time
}

// Login valida credenciales, emite token y envia un OTP nuevo. Cada login exige su propio OTP,
// aunque la identidad ya este verificada.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (LoginResult, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		return LoginResult{}, ErrInvalidInput
	}

	identity, err := s.findByEmail(ctx, emailAddr)
	if err != nil {
		return LoginResult{}, err
	}
	if !s.hasher.Compare(password, identity.PasswordHash) {
		return LoginResult{}, ErrBadCredentials
	}
	if !s.limiter.Allow(ctx, string(PurposeLogin)+":"+string(s.Kind())+":"+emailAddr) {
		return LoginResult{}, ErrRateLimited
	}

	token, expiresAt, err := s.tokens.Mint(identity.Kind, identity.Email)
	if err != nil {
		return LoginResult{}, upstream("mint token", err)
	}

	otpExpiresAt, err := s.issueOTP(ctx, PurposeLogin, identity, s.cfg.LoginOTPTTL)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		Session:      Session{Identity: identity, Token: token, ExpiresAt: expiresAt},
		OTPExpiresAt: otpExpiresAt,
	}, nil
}

// VerifyOTP consume el OTP de login y marca la identidad como verificada.
func (s *AuthService) VerifyOTP(ctx context.Context, emailAddr, code string) (domain.Identity, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return domain.Identity{}, ErrInvalidInput
	}

	identity, err := s.findByEmail(ctx, emailAddr)
	if err != nil {
		return domain.Identity{}, err
	}

	ok, err := s.otp.Verify(ctx, OTPKey(PurposeLogin, identity.Kind, identity.Email), code)
	if err != nil {
		return domain.Identity{}, upstream("verify otp", err)
	}
	if !ok {
		return domain.Identity{}, ErrInvalidOTP
	}

	now := s.now()
	if err := s.identities.MarkVerified(ctx, identity.ID, now); err != nil {
		return domain.Identity{}, upstream("mark verified", err)
	}
	identity.Verified = true
	identity.UpdatedAt = now
	return identity, nil
}

// ForgotPassword envia un OTP de reset con su propio TTL y espacio de claves.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string) (time.Time, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return time.Time{}, ErrInvalidInput
	}

	identity, err := s.findByEmail(ctx, emailAddr)
	if err != nil {
		return time.Time{}, err
	}
	if !s.limiter.Allow(ctx, string(PurposeReset)+":"+string(s.Kind())+":"+emailAddr) {
		return time.Time{}, ErrRateLimited
	}
	return s.issueOTP(ctx, PurposeReset, identity, s.cfg.ResetOTPTTL)
}

type ResetPasswordInput struct {
	Email       string
	NewPassword string
	OTP         string
}

// ResetPassword reemplaza el hash. El OTP de reset solo se exige con ResetRequiresOTP.
func (s *AuthService) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	emailAddr := normalizeEmail(input.Email)
	if emailAddr == "" || !isValidPassword(input.NewPassword) {
		return ErrInvalidInput
	}

	identity, err := s.findByEmail(ctx, emailAddr)
	if err != nil {
		return err
	}

	if s.cfg.ResetRequiresOTP {
		ok, err := s.otp.Verify(ctx, OTPKey(PurposeReset, identity.Kind, identity.Email), input.OTP)
		if err != nil {
			return upstream("verify reset otp", err)
		}
		if !ok {
			return ErrInvalidOTP
		}
	}

	hash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return upstream("hash password", err)
	}
	if err := s.identities.UpdatePassword(ctx, identity.ID, hash, s.now()); err != nil {
		return upstream("update password", err)
	}

	s.logger.Info("password reset", zap.String("kind", string(identity.Kind)), zap.String("id", identity.ID))
	return nil
}

// Resolve convierte un token de sesion en la vista saneada de la identidad.
// Token ausente, vencido, invalido o de otro Kind, o identidad inexistente: ErrUnauthorized.
func (s *AuthService) Resolve(ctx context.Context, token string) (domain.IdentityView, error) {
	if strings.TrimSpace(token) == "" {
		return domain.IdentityView{}, ErrUnauthorized
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			s.logger.Debug("session token expired")
		} else {
			s.logger.Debug("session token invalid", zap.Error(err))
		}
		return domain.IdentityView{}, ErrUnauthorized
	}
	if claims.Kind != s.Kind() {
		s.logger.Debug("session token kind mismatch", zap.String("kind", string(claims.Kind)))
		return domain.IdentityView{}, ErrUnauthorized
	}

	identity, err := s.identities.GetByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IdentityView{}, ErrUnauthorized
		}
		return domain.IdentityView{}, upstream("find identity", err)
	}
	return identity.View(), nil
}

// UpdateProfile aplica cambios de username y bio.
func (s *AuthService) UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate) (domain.Identity, error) {
	if update.Empty() {
		return domain.Identity{}, ErrInvalidInput
	}
	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		if username == "" {
			return domain.Identity{}, ErrInvalidInput
		}
		update.Username = &username
	}

	identity, err := s.identities.UpdateProfile(ctx, id, update, s.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Identity{}, ErrIdentityNotFound
		}
		return domain.Identity{}, upstream("update profile", err)
	}
	return identity, nil
}

// EnsureIdentity crea una identidad verificada si el email no existe. Se usa para sembrar administradores.
func (s *AuthService) EnsureIdentity(ctx context.Context, input RegisterInput) (bool, error) {
	emailAddr := normalizeEmail(input.Email)
	if _, err := s.identities.GetByEmail(ctx, emailAddr); err == nil {
		return false, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return false, upstream("find identity", err)
	}

	session, err := s.Register(ctx, input)
	if err != nil {
		if errors.Is(err, ErrIdentityExists) {
			return false, nil
		}
		return false, err
	}
	if err := s.identities.MarkVerified(ctx, session.Identity.ID, s.now()); err != nil {
		return false, upstream("mark verified", err)
	}
	return true, nil
}

func (s *AuthService) findByEmail(ctx context.Context, emailAddr string) (domain.Identity, error) {
	identity, err := s.identities.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Identity{}, ErrIdentityNotFound
		}
		return domain.Identity{}, upstream("find identity", err)
	}
	return identity, nil
}

// issueOTP genera, guarda y envia un OTP. Si el envio falla, el OTP guardado se descarta.
func (s *AuthService) issueOTP(ctx context.Context, purpose OTPPurpose, identity domain.Identity, ttl time.Duration) (time.Time, error) {
	code, err := s.otp.Generate(s.cfg.OTPLength)
	if err != nil {
		return time.Time{}, upstream("generate otp", err)
	}
	key := OTPKey(purpose, identity.Kind, identity.Email)
	expiresAt := s.now().Add(ttl)
	if err := s.otp.Store(ctx, key, code, ttl); err != nil {
		return time.Time{}, upstream("store otp", err)
	}

	var msg email.Message
	if purpose == PurposeReset {
		msg = email.PasswordResetMessage(identity.Email, code, expiresAt)
	} else {
		msg = email.VerificationOTPMessage(identity.Email, code, expiresAt, identity.Kind == domain.KindAdmin)
	}
	if s.sender == nil {
		_ = s.otp.Discard(ctx, key)
		return time.Time{}, ErrEmailSendFailure
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		s.logger.Warn("send otp failed",
			zap.Error(err),
			zap.String("purpose", string(purpose)),
			zap.String("email", identity.Email),
		)
		if delErr := s.otp.Discard(ctx, key); delErr != nil {
			s.logger.Warn("discard otp failed", zap.Error(delErr))
		}
		return time.Time{}, ErrEmailSendFailure
	}
	return expiresAt, nil
}

// normalizeEmail solo recorta espacios: el email se guarda y compara tal cual.
func normalizeEmail(emailAddr string) string {
	return strings.TrimSpace(emailAddr)
}

func isValidEmail(emailAddr string) bool {
	if emailAddr == "" {
		return false
	}
	addr, err := mail.ParseAddress(emailAddr)
	return err == nil && addr.Address == emailAddr
}

func isValidPassword(password string) bool {
	return strings.TrimSpace(password) != "" && len(password) <= maxPasswordBytes
}
