package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"time"

	"otp-auth/internal/domain"
)

// OTPPurpose separa el espacio de claves entre el flujo de login y el de reset.
type OTPPurpose string

const (
	PurposeLogin OTPPurpose = "login"
	PurposeReset OTPPurpose = "reset"
)

const (
	DefaultOTPLength = 6
	DefaultLoginTTL  = 5 * time.Minute
	DefaultResetTTL  = 10 * time.Minute
)

var ErrOTPLength = errors.New("otp length must be positive")

// OTPKey arma la clave otp:{purpose}:{kind}:{email}.
func OTPKey(purpose OTPPurpose, kind domain.Kind, email string) string {
	return "otp:" + string(purpose) + ":" + string(kind) + ":" + email
}

// OTPIssuer genera codigos numericos y guarda solo su hash SHA-256.
type OTPIssuer struct {
	store    OTPStore
	generate func(length int) (string, error)
}

func NewOTPIssuer(store OTPStore) *OTPIssuer {
	return &OTPIssuer{
		store:    store,
		generate: generateNumericCode,
	}
}

// Generate devuelve un codigo de digitos 0-9 uniformes con crypto/rand.
func (i *OTPIssuer) Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultOTPLength
	}
	return i.generate(length)
}

// Store sobrescribe cualquier OTP previo para la misma clave.
func (i *OTPIssuer) Store(ctx context.Context, key, code string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultLoginTTL
	}
	return i.store.Set(ctx, key, HashOTP(code), ttl)
}

// Verify es de un solo uso: borra la clave tras un acierto y la deja intacta ante un fallo.
func (i *OTPIssuer) Verify(ctx context.Context, key, candidate string) (bool, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false, nil
	}
	return i.store.CompareAndDelete(ctx, key, HashOTP(candidate))
}

// Discard elimina un OTP emitido, por ejemplo si el correo no pudo enviarse.
func (i *OTPIssuer) Discard(ctx context.Context, key string) error {
	return i.store.Delete(ctx, key)
}

func HashOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func generateNumericCode(length int) (string, error) {
	if length <= 0 {
		return "", ErrOTPLength
	}
	digits := make([]byte, length)
	ten := big.NewInt(10)
	for idx := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		digits[idx] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
