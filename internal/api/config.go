package api

import (
	"net/http"
	"strings"
	"time"
)

// Config binds the HTTP surface from the environment.
type Config struct {
	Port       string `envconfig:"PORT" default:"4000"`
	CORSOrigin string `envconfig:"CORS_ORIGIN" default:"http://localhost:5173"`
	// AccessCode gates /api/login. Logins are refused while it is empty.
	AccessCode string `envconfig:"ACCESS_CODE"`

	CookieSecure   bool          `envconfig:"SESSION_COOKIE_SECURE" default:"false"`
	CookieSameSite string        `envconfig:"SESSION_COOKIE_SAMESITE" default:"Lax"`
	CookieMaxAge   time.Duration `envconfig:"SESSION_COOKIE_MAX_AGE" default:"12h"`

	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"120s"`
}

func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

func (c Config) sameSite() http.SameSite {
	switch strings.ToLower(c.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (c Config) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.CookieSecure,
		SameSite: c.sameSite(),
		MaxAge:   int(c.CookieMaxAge.Seconds()),
	}
}

func (c Config) expired(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.CookieSecure,
		SameSite: c.sameSite(),
		MaxAge:   -1,
	}
}
