package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const sessionCookieName = "token"

// CookieConfig controla los atributos de la cookie de sesion.
type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
	Path   string
}

func (cfg CookieConfig) path() string {
	if cfg.Path == "" {
		return "/"
	}
	return cfg.Path
}

// setSessionCookie emite la cookie httpOnly, SameSite=Lax, con la vida del token.
func setSessionCookie(c *gin.Context, cfg CookieConfig, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, token, int(cfg.MaxAge.Seconds()), cfg.path(), "", cfg.Secure, true)
}

func clearSessionCookie(c *gin.Context, cfg CookieConfig) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, "", -1, cfg.path(), "", cfg.Secure, true)
}
