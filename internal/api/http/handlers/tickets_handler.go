package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/repair-service/internal/api/dto"
	"github.com/spec-kit/repair-service/internal/auth"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/repository"
	"github.com/spec-kit/repair-service/internal/service"
	apperrors "github.com/spec-kit/repair-service/pkg/util/errorutil"
)

// TicketsHandler serves intake and read endpoints.
type TicketsHandler struct {
	intake *service.IntakeService
	parts  *service.PartsService
	now    func() time.Time
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(intake *service.IntakeService, parts *service.PartsService) *TicketsHandler {
	return &TicketsHandler{intake: intake, parts: parts, now: time.Now}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	input := service.TicketCreateInput{
		BranchID:       req.BranchID,
		CustomerID:     req.CustomerID,
		DeviceBrand:    req.DeviceBrand,
		DeviceModel:    req.DeviceModel,
		Problem:        req.Problem,
		IsWarranty:     req.IsWarranty,
		IsWet:          req.IsWet,
		EstimatedPrice: req.EstimatedPrice,
		Images:         req.Images,
		PromiseMinutes: req.PromiseMinutes,
	}
	ticket, err := h.intake.CreateTicket(c.UserContext(), principal.ID, input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}
	filter, err := h.parseTicketQuery(c)
	if err != nil {
		return err
	}
	tickets, err := h.intake.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.FromTicket(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}
	ticket, err := h.intake.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// GetHistory GET /tickets/:id/history.
func (h *TicketsHandler) GetHistory(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}
	entries, err := h.intake.ListHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.HistoryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, dto.FromHistory(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTimer GET /tickets/:id/timer. Derived countdown; UIs poll this.
func (h *TicketsHandler) GetTimer(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}
	ticket, err := h.intake.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": service.ComputeRemaining(ticket, h.now())})
}

// ListAllocations GET /tickets/:id/parts.
func (h *TicketsHandler) ListAllocations(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}
	allocations, err := h.parts.ListByTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.AllocationResponse, 0, len(allocations))
	for i := range allocations {
		items = append(items, dto.FromAllocation(&allocations[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

func (h *TicketsHandler) parseTicketQuery(c *fiber.Ctx) (repository.TicketFilter, error) {
	filter := repository.TicketFilter{
		Limit:  50,
		Offset: 0,
	}
	if branch := c.Query("branch_id"); branch != "" {
		filter.BranchID = &branch
	}
	if assignee := c.Query("assigned_user_id"); assignee != "" {
		filter.AssignedUserID = &assignee
	}
	if raw := c.Query("statuses"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || !domain.TicketStatus(id).Valid() {
				return filter, apperrors.NewValidationError("invalid status filter", map[string]any{"statuses": raw})
			}
			filter.Statuses = append(filter.Statuses, domain.TicketStatus(id))
		}
	}
	if raw := c.Query("warranty"); raw != "" {
		warranty, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperrors.NewValidationError("invalid warranty filter", nil)
		}
		filter.Warranty = &warranty
	}
	if raw := c.Query("overdue"); raw != "" {
		overdue, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperrors.NewValidationError("invalid overdue filter", nil)
		}
		if overdue {
			now := h.now()
			filter.OverdueAt = &now
		}
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		filter.SearchTerm = &search
	}
	if raw := c.Query("created_from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apperrors.NewValidationError("invalid created_from", nil)
		}
		filter.CreatedFrom = &from
	}
	if raw := c.Query("created_to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apperrors.NewValidationError("invalid created_to", nil)
		}
		filter.CreatedTo = &to
	}
	if limit := c.QueryInt("limit", 50); limit > 0 && limit <= 200 {
		filter.Limit = limit
	}
	if offset := c.QueryInt("offset", 0); offset > 0 {
		filter.Offset = offset
	}
	return filter, nil
}
