package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"otp-auth/internal/domain"
)

const DefaultSessionTTL = time.Hour

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// TokenCodec firma y valida el token de sesion que viaja en la cookie.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Claims identifica al sujeto por email; Kind indica en que almacen buscarlo.
type Claims struct {
	Email string      `json:"email"`
	Kind  domain.Kind `json:"kind"`
	jwt.RegisteredClaims
}

func NewTokenCodec(secret string, ttl time.Duration) *TokenCodec {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenCodec{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "otp-auth",
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Mint emite un token con vencimiento fijo desde ahora.
func (c *TokenCodec) Mint(kind domain.Kind, email string) (string, time.Time, error) {
	if len(c.secret) == 0 || strings.TrimSpace(email) == "" || !kind.Valid() {
		return "", time.Time{}, ErrTokenInvalid
	}
	now := c.now()
	expiresAt := now.Add(c.ttl)
	claims := Claims{
		Email: email,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse distingue ErrTokenExpired de ErrTokenInvalid; los llamadores tratan ambos como ausencia de sesion.
func (c *TokenCodec) Parse(tokenString string) (Claims, error) {
	if len(c.secret) == 0 || strings.TrimSpace(tokenString) == "" {
		return Claims{}, ErrTokenInvalid
	}
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Email) == "" || claims.Subject != claims.Email || !claims.Kind.Valid() {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}
