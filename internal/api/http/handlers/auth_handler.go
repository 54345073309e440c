package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/todo-service/internal/api/dto"
	"github.com/spec-kit/todo-service/internal/auth"
	"github.com/spec-kit/todo-service/internal/service"
	apperrors "github.com/spec-kit/todo-service/pkg/util/errorutil"
)

// AuthHandler exposes registration, login and session endpoints.
type AuthHandler struct {
	auth    *service.AuthService
	carrier auth.TokenCarrier
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, carrier auth.TokenCarrier) *AuthHandler {
	return &AuthHandler{auth: authService, carrier: carrier}
}

// Register handles POST /register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	identity, err := h.auth.Register(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{
			"message":  "user registered",
			"username": identity.Username,
		},
	})
}

// Authenticate handles POST /auth/authenticate.
func (h *AuthHandler) Authenticate(c *fiber.Ctx) error {
	var req dto.CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewAuthenticationFailed(err)
	}

	result, err := h.auth.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}

	resp := dto.AuthResponse{ExpiresAt: result.ExpiresAt}
	if h.carrier.Attach(c, result.Token, result.ExpiresAt) {
		resp.Token = result.Token
	} else {
		resp.Message = "authenticated"
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	h.carrier.Clear(c)
	return c.JSON(fiber.Map{"data": fiber.Map{"message": "logged out"}})
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	return c.JSON(fiber.Map{"data": dto.NewIdentityResponse(identity)})
}
