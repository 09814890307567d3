package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/repair-service/internal/cache"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/repository"
	"github.com/spec-kit/repair-service/internal/schedule"
	apperrors "github.com/spec-kit/repair-service/pkg/util/errorutil"
)

// IntakeService registers devices at the counter and serves ticket reads.
type IntakeService struct {
	tickets        repository.TicketRepository
	allocations    repository.AllocationRepository
	history        repository.TicketHistoryRepository
	snapshots      *cache.TicketCache
	hours          *schedule.Weekly
	dispatcher     events.Dispatcher
	defaultPromise int
	now            func() time.Time
}

// IntakeDependencies bundles collaborators for intake.
type IntakeDependencies struct {
	TicketRepo            repository.TicketRepository
	AllocationRepo        repository.AllocationRepository
	HistoryRepo           repository.TicketHistoryRepository
	Snapshots             *cache.TicketCache
	Hours                 *schedule.Weekly
	Dispatcher            events.Dispatcher
	DefaultPromiseMinutes int
}

// TicketCreateInput describes the intake payload.
type TicketCreateInput struct {
	BranchID       string
	CustomerID     string
	DeviceBrand    string
	DeviceModel    string
	Problem        string
	IsWarranty     bool
	IsWet          bool
	EstimatedPrice *float64
	Images         []string
	PromiseMinutes *int // business minutes until the promised deadline
}

// NewIntakeService constructs the service.
func NewIntakeService(deps IntakeDependencies) *IntakeService {
	defaultPromise := deps.DefaultPromiseMinutes
	if defaultPromise <= 0 {
		defaultPromise = 2 * 24 * 60
	}
	return &IntakeService{
		tickets:        deps.TicketRepo,
		allocations:    deps.AllocationRepo,
		history:        deps.HistoryRepo,
		snapshots:      deps.Snapshots,
		hours:          deps.Hours,
		dispatcher:     deps.Dispatcher,
		defaultPromise: defaultPromise,
		now:            time.Now,
	}
}

// CreateTicket registers a new repair order in Ingresado. The promised
// deadline is computed in business minutes from now, never in wall-clock time.
func (s *IntakeService) CreateTicket(ctx context.Context, actorID string, input TicketCreateInput) (*domain.Ticket, error) {
	if strings.TrimSpace(input.BranchID) == "" || strings.TrimSpace(input.CustomerID) == "" {
		return nil, apperrors.NewValidationError("branch_id and customer_id are required", nil)
	}
	if strings.TrimSpace(input.Problem) == "" {
		return nil, apperrors.NewValidationError("problem description is required", nil)
	}
	minutes := s.defaultPromise
	if input.PromiseMinutes != nil {
		if *input.PromiseMinutes <= 0 {
			return nil, apperrors.NewValidationError("promise minutes must be positive", nil)
		}
		minutes = *input.PromiseMinutes
	}

	now := s.now()
	ticket := &domain.Ticket{
		TicketNumber: generateTicketNumber(input.BranchID),
		BranchID:     input.BranchID,
		CustomerID:   input.CustomerID,
		DeviceBrand:  strings.TrimSpace(input.DeviceBrand),
		DeviceModel:  strings.TrimSpace(input.DeviceModel),
		Problem:      strings.TrimSpace(input.Problem),
		Status:       domain.StatusReceived,
		IsWarranty:   input.IsWarranty,
		IsWet:        input.IsWet,
		EstimatedPrice: input.EstimatedPrice,
		Images:         input.Images,
		PromisedAt:     s.hours.AddBusinessMinutes(now, minutes),
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		ActorID:  actorID,
		Payload: events.TicketCreatedPayload{
			TicketNumber: ticket.TicketNumber,
			BranchID:     ticket.BranchID,
			PromisedAt:   ticket.PromisedAt,
		},
	})
	return ticket, nil
}

// GetTicket fetches a ticket snapshot with its allocations, reading through
// the Redis cache.
func (s *IntakeService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	if ticket, ok := s.snapshots.Get(ctx, ticketID); ok {
		return ticket, nil
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketLookup(err, ticketID)
	}
	allocations, err := s.allocations.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	ticket.Allocations = allocations
	s.snapshots.Set(ctx, ticket)
	return ticket, nil
}

// ListTickets returns the filtered board view ordered by deadline pressure.
func (s *IntakeService) ListTickets(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// ListHistory returns the ticket's audit trail.
func (s *IntakeService) ListHistory(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, mapTicketLookup(err, ticketID)
	}
	entries, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

func generateTicketNumber(branchID string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return strings.ToUpper(branchID) + "-" + suffix
}

func (s *IntakeService) publish(ctx context.Context, event events.Event) {
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
