package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// DefaultCookieName is the cookie that carries the token in cookie mode.
const DefaultCookieName = "jwtToken"

// TokenCarrier moves tokens between the server and the client. A deployment
// uses exactly one carrier; tokens presented any other way are ignored.
type TokenCarrier interface {
	// Name identifies the transport in logs and config.
	Name() string
	// Extract returns the raw token from the request, or "" when absent.
	Extract(c *fiber.Ctx) string
	// Attach hands a freshly issued token to the client. It reports whether the
	// token must also be returned in the response body.
	Attach(c *fiber.Ctx, token string, expiresAt time.Time) bool
	// Clear drops any client-held token.
	Clear(c *fiber.Ctx)
}

// NewTokenCarrier returns the carrier for a transport name ("cookie" or "bearer").
func NewTokenCarrier(transport, cookieName string, secure bool) (TokenCarrier, error) {
	switch strings.ToLower(transport) {
	case "cookie", "":
		return NewCookieCarrier(cookieName, secure), nil
	case "bearer":
		return BearerCarrier{}, nil
	default:
		return nil, fmt.Errorf("unknown token transport %q", transport)
	}
}

// CookieCarrier stores the token in an HttpOnly cookie scoped to "/".
type CookieCarrier struct {
	name   string
	secure bool
}

// NewCookieCarrier constructs a cookie carrier.
func NewCookieCarrier(name string, secure bool) CookieCarrier {
	if name == "" {
		name = DefaultCookieName
	}
	return CookieCarrier{name: name, secure: secure}
}

func (CookieCarrier) Name() string { return "cookie" }

func (cc CookieCarrier) Extract(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Cookies(cc.name))
}

func (cc CookieCarrier) Attach(c *fiber.Ctx, token string, expiresAt time.Time) bool {
	c.Cookie(&fiber.Cookie{
		Name:     cc.name,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HTTPOnly: true,
		Secure:   cc.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return false
}

func (cc CookieCarrier) Clear(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     cc.name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   cc.secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// BearerCarrier reads "Authorization: Bearer <token>" and returns tokens in the body.
type BearerCarrier struct{}

func (BearerCarrier) Name() string { return "bearer" }

func (BearerCarrier) Extract(c *fiber.Ctx) string {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (BearerCarrier) Attach(*fiber.Ctx, string, time.Time) bool { return true }

// Clear is a no-op: the client owns bearer tokens and discards them itself.
func (BearerCarrier) Clear(*fiber.Ctx) {}
