package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/repair-service/internal/api/dto"
	"github.com/spec-kit/repair-service/internal/auth"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/service"
	apperrors "github.com/spec-kit/repair-service/pkg/util/errorutil"
)

// WorkflowHandler exposes the technician state-machine endpoints.
type WorkflowHandler struct {
	workflow *service.WorkflowService
	parts    *service.PartsService
}

// NewWorkflowHandler constructs handler.
func NewWorkflowHandler(workflow *service.WorkflowService, parts *service.PartsService) *WorkflowHandler {
	return &WorkflowHandler{workflow: workflow, parts: parts}
}

// Take POST /tickets/:id/take.
func (h *WorkflowHandler) Take(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.TakeRepairRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	ticket, err := h.workflow.TakeRepair(c.UserContext(), c.Params("id"), principal.ID, service.TakeRepairInput{
		Parts:            partRequests(req.Parts),
		ExtensionMinutes: req.ExtensionMinutes,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// AssignTime POST /tickets/:id/assign-time.
func (h *WorkflowHandler) AssignTime(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.AssignTimeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.workflow.AssignTime(c.UserContext(), c.Params("id"), principal.ID, req.EstimatedMinutes, req.UpdateDate, partRequests(req.Parts))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// Start POST /tickets/:id/start.
func (h *WorkflowHandler) Start(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.StartRepairRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.workflow.StartRepair(c.UserContext(), c.Params("id"), principal.ID, req.EstimatedMinutes)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// Pause POST /tickets/:id/pause.
func (h *WorkflowHandler) Pause(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	ticket, err := h.workflow.PauseRepair(c.UserContext(), c.Params("id"), principal.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// Finish POST /tickets/:id/finish.
func (h *WorkflowHandler) Finish(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.FinishRepairRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.workflow.FinishRepair(c.UserContext(), c.Params("id"), principal.ID, service.FinishRepairInput{
		Target:              domain.TicketStatus(req.TargetStatusID),
		Diagnosis:           req.Diagnosis,
		IsWet:               req.IsWet,
		Images:              req.Images,
		CreateReturnRequest: req.CreateReturnRequest,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// Transfer POST /tickets/:id/transfer.
func (h *WorkflowHandler) Transfer(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.TransferRepairRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.ToUserID == "" {
		return apperrors.NewValidationError("to_user_id required", nil)
	}
	ticket, err := h.workflow.TransferRepair(c.UserContext(), c.Params("id"), principal.ID, req.ToUserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// Deliver POST /tickets/:id/deliver.
func (h *WorkflowHandler) Deliver(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	ticket, err := h.workflow.DeliverTicket(c.UserContext(), c.Params("id"), principal.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// AllocatePart POST /tickets/:id/parts.
func (h *WorkflowHandler) AllocatePart(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.PartRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	allocation, err := h.parts.Allocate(c.UserContext(), c.Params("id"), req.SparePartID, req.Quantity, principal.ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.FromAllocation(allocation)})
}

// ReturnAll POST /tickets/:id/parts/return.
func (h *WorkflowHandler) ReturnAll(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	count, err := h.parts.ReturnAll(c.UserContext(), c.Params("id"), principal.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"returned": count}})
}

// ReturnPart POST /allocations/:id/return.
func (h *WorkflowHandler) ReturnPart(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	allocation, err := h.workflow.ReturnSinglePart(c.UserContext(), c.Params("id"), principal.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromAllocation(allocation)})
}

func partRequests(reqs []dto.PartRequest) []service.PartRequest {
	out := make([]service.PartRequest, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, service.PartRequest{SparePartID: req.SparePartID, Quantity: req.Quantity})
	}
	return out
}
