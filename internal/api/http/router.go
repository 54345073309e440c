package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/todo-service/internal/api/http/handlers"
	"github.com/spec-kit/todo-service/internal/auth"
	"github.com/spec-kit/todo-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health *handlers.HealthHandler
	Auth   *handlers.AuthHandler
	Tasks  *handlers.TasksHandler
	Admin  *handlers.AdminHandler
	Binder *auth.IdentityBinder
}

// RegisterRoutes wires HTTP routes. The identity binder runs for every request
// after the global middlewares; guards on each group decide access.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Use(cfg.Binder.Handle)

	app.Post("/register", cfg.Auth.Register)

	authGroup := app.Group("/auth")
	authGroup.Post("/authenticate", cfg.Auth.Authenticate)
	authGroup.Post("/logout", cfg.Auth.Logout)
	authGroup.Get("/me", auth.RequireAuthenticated(), cfg.Auth.Me)

	tasks := app.Group("/tasks", auth.RequireAuthenticated())
	tasks.Get("/", cfg.Tasks.List)
	tasks.Post("/", cfg.Tasks.Create)
	tasks.Get("/:id", cfg.Tasks.Get)
	tasks.Put("/:id", cfg.Tasks.Update)
	tasks.Delete("/:id", cfg.Tasks.Delete)

	admin := app.Group("/admin", auth.RequireRole(domain.RoleAdmin))
	admin.Get("/metrics", cfg.Admin.Metrics)
	admin.Get("/users/:username", cfg.Admin.GetUser)
	admin.Put("/users/:username/roles", cfg.Admin.SetRoles)
}
