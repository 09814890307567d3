package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/repository"
	apperrors "github.com/spec-kit/repair-service/pkg/util/errorutil"
)

// PartsService is the ledger of spare-part units reserved against tickets.
// Every operation pairs its allocation row with the matching stock mutation
// inside one transaction.
type PartsService struct {
	tx          repository.TxManager
	tickets     repository.TicketRepository
	allocations repository.AllocationRepository
	parts       repository.SparePartRepository
	history     repository.TicketHistoryRepository
	dispatcher  events.Dispatcher
}

// PartsDependencies bundles collaborators for the parts ledger.
type PartsDependencies struct {
	TxManager      repository.TxManager
	TicketRepo     repository.TicketRepository
	AllocationRepo repository.AllocationRepository
	SparePartRepo  repository.SparePartRepository
	HistoryRepo    repository.TicketHistoryRepository
	Dispatcher     events.Dispatcher
}

// PartRequest asks for quantity units of one spare part.
type PartRequest struct {
	SparePartID string
	Quantity    int
}

// NewPartsService constructs the service.
func NewPartsService(deps PartsDependencies) *PartsService {
	return &PartsService{
		tx:          deps.TxManager,
		tickets:     deps.TicketRepo,
		allocations: deps.AllocationRepo,
		parts:       deps.SparePartRepo,
		history:     deps.HistoryRepo,
		dispatcher:  deps.Dispatcher,
	}
}

// Allocate reserves quantity units of a spare part for a ticket. The stock
// decrement and the allocation row commit together or not at all.
func (s *PartsService) Allocate(ctx context.Context, ticketID, sparePartID string, quantity int, actorID string) (*domain.PartAllocation, error) {
	if quantity <= 0 {
		return nil, apperrors.NewValidationError("quantity must be positive", nil)
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketLookup(err, ticketID)
	}
	if ticket.Status.Terminal() {
		return nil, apperrors.NewTicketTerminal(ticket.ID, int(ticket.Status))
	}

	var allocation *domain.PartAllocation
	err = s.tx.WithinTransaction(ctx, func(db repository.DB) error {
		var txErr error
		allocation, txErr = s.allocateInTx(ctx, db, ticket, sparePartID, quantity, actorID)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:     events.EventPartsAllocated,
		TicketID: ticket.ID,
		ActorID:  actorID,
		Payload: events.PartsAllocatedPayload{
			SparePartID: sparePartID,
			Quantity:    quantity,
		},
	})
	return allocation, nil
}

// allocateInTx performs one reservation inside an already-open transaction.
// Shared with the workflow operations that accept part requests.
func (s *PartsService) allocateInTx(ctx context.Context, db repository.DB, ticket *domain.Ticket, sparePartID string, quantity int, actorID string) (*domain.PartAllocation, error) {
	parts := s.parts.WithTx(db)
	part, err := parts.GetByID(ctx, sparePartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("spare part", map[string]any{"spare_part_id": sparePartID})
		}
		return nil, apperrors.MapError(err)
	}
	if err := parts.DecrementStock(ctx, sparePartID, quantity); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewInsufficientStock(sparePartID, quantity, part.Stock)
		}
		return nil, apperrors.MapError(err)
	}

	allocation := &domain.PartAllocation{
		TicketID:    ticket.ID,
		SparePartID: sparePartID,
		Quantity:    quantity,
	}
	if err := s.allocations.WithTx(db).Create(ctx, allocation); err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := s.recordPartsChange(ctx, db, actorID, ticket.ID, map[string]any{
		"action":        "allocated",
		"spare_part_id": sparePartID,
		"quantity":      quantity,
	}); err != nil {
		return nil, apperrors.MapError(err)
	}
	return allocation, nil
}

// ReturnOne restores one allocation's quantity to stock. Rejected when the
// caller does not own the ticket, when the allocation was already returned,
// and when the ticket's outcome already consumed the parts (repaired or
// delivered; an irreparable device still gives its parts back).
func (s *PartsService) ReturnOne(ctx context.Context, allocationID, actorID string) (*domain.PartAllocation, error) {
	allocation, err := s.allocations.GetByID(ctx, allocationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("allocation", map[string]any{"allocation_id": allocationID})
		}
		return nil, apperrors.MapError(err)
	}
	ticket, err := s.tickets.GetByID(ctx, allocation.TicketID)
	if err != nil {
		return nil, mapTicketLookup(err, allocation.TicketID)
	}
	if ticket.Status == domain.StatusRepaired || ticket.Status == domain.StatusDelivered {
		return nil, apperrors.NewTicketTerminal(ticket.ID, int(ticket.Status))
	}
	if !ticket.AssignedTo(actorID) {
		return nil, apperrors.NewNotAssignedToCaller(ticket.ID)
	}
	if allocation.Returned {
		return nil, apperrors.NewAlreadyReturned(allocation.ID)
	}

	err = s.tx.WithinTransaction(ctx, func(db repository.DB) error {
		return s.returnOneInTx(ctx, db, allocation, actorID)
	})
	if err != nil {
		return nil, err
	}

	allocation.Returned = true
	now := time.Now()
	allocation.ReturnedAt = &now
	s.publish(ctx, events.Event{
		Type:     events.EventPartReturned,
		TicketID: ticket.ID,
		ActorID:  actorID,
		Payload: events.PartReturnedPayload{
			AllocationID: allocation.ID,
			SparePartID:  allocation.SparePartID,
			Quantity:     allocation.Quantity,
		},
	})
	return allocation, nil
}

// returnOneInTx flips the returned flag and restores stock. The guarded flip
// makes a concurrent double return lose with AlreadyReturned.
func (s *PartsService) returnOneInTx(ctx context.Context, db repository.DB, allocation *domain.PartAllocation, actorID string) error {
	if err := s.allocations.WithTx(db).MarkReturned(ctx, allocation.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.NewAlreadyReturned(allocation.ID)
		}
		return apperrors.MapError(err)
	}
	if err := s.parts.WithTx(db).IncrementStock(ctx, allocation.SparePartID, allocation.Quantity); err != nil {
		return apperrors.MapError(err)
	}
	return s.recordPartsChange(ctx, db, actorID, allocation.TicketID, map[string]any{
		"action":        "returned",
		"allocation_id": allocation.ID,
		"spare_part_id": allocation.SparePartID,
		"quantity":      allocation.Quantity,
	})
}

// ReturnAll releases every unreturned allocation of the ticket in one batch.
func (s *PartsService) ReturnAll(ctx context.Context, ticketID, actorID string) (int, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return 0, mapTicketLookup(err, ticketID)
	}
	if ticket.Status == domain.StatusRepaired || ticket.Status == domain.StatusDelivered {
		return 0, apperrors.NewTicketTerminal(ticket.ID, int(ticket.Status))
	}
	if !ticket.AssignedTo(actorID) {
		return 0, apperrors.NewNotAssignedToCaller(ticket.ID)
	}

	count := 0
	err = s.tx.WithinTransaction(ctx, func(db repository.DB) error {
		var txErr error
		count, txErr = s.returnAllInTx(ctx, db, ticketID, actorID)
		return txErr
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PartsService) returnAllInTx(ctx context.Context, db repository.DB, ticketID, actorID string) (int, error) {
	unreturned, err := s.allocations.WithTx(db).ListUnreturnedByTicket(ctx, ticketID)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	for i := range unreturned {
		if err := s.returnOneInTx(ctx, db, &unreturned[i], actorID); err != nil {
			return 0, err
		}
	}
	return len(unreturned), nil
}

// ListByTicket returns the ticket's allocation rows.
func (s *PartsService) ListByTicket(ctx context.Context, ticketID string) ([]domain.PartAllocation, error) {
	allocations, err := s.allocations.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return allocations, nil
}

func (s *PartsService) recordPartsChange(ctx context.Context, db repository.DB, actorID, ticketID string, change map[string]any) error {
	if s.history == nil {
		return nil
	}
	return s.history.WithTx(db).Create(ctx, &domain.TicketHistory{
		TicketID:    ticketID,
		ChangedByID: &actorID,
		ChangeType:  domain.ChangeTypeParts,
		NewValue:    change,
	})
}

func (s *PartsService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func mapTicketLookup(err error, ticketID string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return apperrors.MapError(err)
}
