package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/repair-service/internal/api/http/handlers"
	"github.com/spec-kit/repair-service/internal/auth"
	"github.com/spec-kit/repair-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	Workflow       *handlers.WorkflowHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/login", cfg.Users.Login)
	authGroup.Post("/register", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleAdmin), cfg.Users.Register)
	authGroup.Post("/password/change", cfg.AuthMiddleware.Handle, cfg.Users.ChangePassword)
	authGroup.Get("/me", cfg.AuthMiddleware.Handle, cfg.Users.Me)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("", auth.RequireRole(domain.RoleAdmin, domain.RoleReceptionist), cfg.Tickets.CreateTicket)
	tickets.Get("", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/history", cfg.Tickets.GetHistory)
	tickets.Get("/:id/timer", cfg.Tickets.GetTimer)
	tickets.Get("/:id/parts", cfg.Tickets.ListAllocations)

	repair := tickets.Group("", auth.RequireRole(domain.RoleAdmin, domain.RoleTechnician))
	repair.Post("/:id/take", cfg.Workflow.Take)
	repair.Post("/:id/assign-time", cfg.Workflow.AssignTime)
	repair.Post("/:id/start", cfg.Workflow.Start)
	repair.Post("/:id/pause", cfg.Workflow.Pause)
	repair.Post("/:id/finish", cfg.Workflow.Finish)
	repair.Post("/:id/transfer", cfg.Workflow.Transfer)
	repair.Post("/:id/parts", cfg.Workflow.AllocatePart)
	repair.Post("/:id/parts/return", cfg.Workflow.ReturnAll)
	tickets.Post("/:id/deliver", auth.RequireRole(domain.RoleAdmin, domain.RoleReceptionist), cfg.Workflow.Deliver)

	allocations := app.Group("/allocations", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleAdmin, domain.RoleTechnician))
	allocations.Post("/:id/return", cfg.Workflow.ReturnPart)
}
