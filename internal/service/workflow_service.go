package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/repair-service/internal/cache"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/observability"
	"github.com/spec-kit/repair-service/internal/repository"
	"github.com/spec-kit/repair-service/internal/schedule"
	apperrors "github.com/spec-kit/repair-service/pkg/util/errorutil"
)

// WorkflowService drives the repair ticket state machine: claim, plan, work,
// pause, finish, transfer, deliver. Every transition is a single guarded write
// against the expected pre-state; transitions that move parts share one
// transaction with the stock mutations.
type WorkflowService struct {
	tx         repository.TxManager
	tickets    repository.TicketRepository
	users      repository.UserRepository
	history    repository.TicketHistoryRepository
	parts      *PartsService
	hours      *schedule.Weekly
	snapshots  *cache.TicketCache
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	now        func() time.Time
}

// WorkflowDependencies bundles collaborators for the workflow service.
type WorkflowDependencies struct {
	TxManager   repository.TxManager
	TicketRepo  repository.TicketRepository
	UserRepo    repository.UserRepository
	HistoryRepo repository.TicketHistoryRepository
	Parts       *PartsService
	Hours       *schedule.Weekly
	Snapshots   *cache.TicketCache
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
}

// NewWorkflowService constructs the service.
func NewWorkflowService(deps WorkflowDependencies) *WorkflowService {
	return &WorkflowService{
		tx:         deps.TxManager,
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		history:    deps.HistoryRepo,
		parts:      deps.Parts,
		hours:      deps.Hours,
		snapshots:  deps.Snapshots,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		now:        time.Now,
	}
}

// TakeRepairInput carries the optional extras of a claim.
type TakeRepairInput struct {
	Parts            []PartRequest
	ExtensionMinutes *int
}

// TakeRepair claims an unassigned ticket for a technician. The claim is a
// conditional write on (status=Ingresado, assignee=NULL): when two technicians
// race, exactly one write matches and the loser observes AlreadyAssigned.
func (s *WorkflowService) TakeRepair(ctx context.Context, ticketID, technicianID string, input TakeRepairInput) (*domain.Ticket, error) {
	if err := s.requireRepairer(ctx, technicianID); err != nil {
		return nil, err
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketLookup(err, ticketID)
	}
	if ticket.Status != domain.StatusReceived {
		return nil, apperrors.NewInvalidTransition(int(ticket.Status), int(domain.StatusTaken))
	}

	guard := repository.TicketGuard{Status: domain.StatusReceived, AssignedUserID: nil}
	oldStatus := ticket.Status
	now := s.now()

	ticket.Status = domain.StatusTaken
	ticket.AssignedUserID = &technicianID
	deadlineMoved := false
	if input.ExtensionMinutes != nil && now.After(ticket.PromisedAt) {
		ticket.PromisedAt = s.hours.AddBusinessMinutes(now, *input.ExtensionMinutes)
		deadlineMoved = true
	}

	err = s.tx.WithinTransaction(ctx, func(db repository.DB) error {
		if err := s.tickets.WithTx(db).UpdateGuarded(ctx, ticket, guard); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return apperrors.NewAlreadyAssigned(ticket.ID)
			}
			return apperrors.MapError(err)
		}
		for _, req := range input.Parts {
			if _, err := s.parts.allocateInTx(ctx, db, ticket, req.SparePartID, req.Quantity, technicianID); err != nil {
				return err
			}
		}
		if err := s.recordStatusChange(ctx, db, technicianID, ticket.ID, oldStatus, ticket.Status); err != nil {
			return err
		}
		if err := s.recordAssigneeChange(ctx, db, technicianID, ticket.ID, nil, ticket.AssignedUserID); err != nil {
			return err
		}
		if deadlineMoved {
			return s.recordDeadlineChange(ctx, db, technicianID, ticket.ID, ticket.PromisedAt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.finishTransition(ctx, ticket, oldStatus, events.Event{
		Type:     events.EventTicketTaken,
		TicketID: ticket.ID,
		ActorID:  technicianID,
		Payload: events.TicketTakenPayload{
			TechnicianID: technicianID,
			PartsCount:   len(input.Parts),
		},
	})
	return ticket, nil
}

// AssignTime plans the work: it moves a claimed or waiting ticket into
// En Proceso with a fresh countdown. An overdue ticket requires the caller to
// acknowledge deadline slippage with updateDate.
func (s *WorkflowService) AssignTime(ctx context.Context, ticketID, technicianID string, estimatedMinutes int, updateDate bool, parts []PartRequest) (*domain.Ticket, error) {
	if estimatedMinutes <= 0 {
		return nil, apperrors.NewValidationError("estimated minutes must be positive", nil)
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketLookup(err, ticketID)
	}
	switch ticket.Status {
	case domain.StatusTaken, domain.StatusAwaitingApproval, domain.StatusAwaitingParts:
	default:
		return nil, apperrors.NewInvalidTransition(int(ticket.Status), int(domain.StatusInProgress))
	}
	if !ticket.AssignedTo(technicianID) {
		return nil, apperrors.NewNotAssignedToCaller(ticket.ID)
	}
	now := s.now()
	if now.After(ticket.PromisedAt) && !updateDate {
		return nil, apperrors.NewRequiresDateUpdate(ticket.ID)
	}

	guard := repository.TicketGuard{Status: ticket.Status, AssignedUserID: ticket.AssignedUserID}
	oldStatus := ticket.Status

	ticket.Status = domain.StatusInProgress
	ticket.StartedAt = &now
	ticket.EstimatedTime = &estimatedMinutes
	if updateDate {
		ticket.PromisedAt = s.hours.AddBusinessMinutes(now, estimatedMinutes)
	}

	err = s.tx.WithinTransaction(ctx, func(db repository.DB) error {
		if err := s.tickets.WithTx(db).UpdateGuarded(ctx, ticket, guard); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return apperrors.NewConflict("ticket changed concurrently", map[string]any{"ticket_id": ticket.ID})
			}
			return apperrors.MapError(err)
		}
		for _, req := range parts {
			if _, err := s.parts.allocateInTx(ctx, db, ticket, req.SparePartID, req.Quantity, technicianID); err != nil {
				return err
			}
		}
		if err := s.recordStatusChange(ctx, db, technicianID, ticket.ID, oldStatus, ticket.Status); err != nil {
			return err
		}
		if updateDate {
			return s.recordDeadlineChange(ctx, db, technicianID, ticket.ID, ticket.PromisedAt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.finishTransition(ctx, ticket, oldStatus, events.Event{
		Type:     events.EventRepairStarted,
		TicketID: ticket.ID,
		ActorID:  technicianID,
		Payload: events.RepairStartedPayload{
			EstimatedMinutes: estimatedMinutes,
			PromisedAt:       ticket.PromisedAt,
		},
	})
	return ticket, nil
}

// StartRepair resumes a paused ticket with a fresh countdown. No credit is
// given for time elapsed before the pause.
func (s *WorkflowService) StartRepair(ctx context.Context, ticketID, technicianID string, estimatedMinutes int) (*domain.Ticket, error) {
	if estimatedMinutes <= 0 {
		return nil, apperrors.NewValidationError("estimated minutes must be positive", nil)
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketLookup(err, ticketID)
	}
	if ticket.Status != domain.StatusPaused {
		return nil, apperrors.NewInvalidTransition(int(ticket.Status), int(domain.StatusInProgress))
	}
	if !ticket.AssignedTo(technicianID) {
		return nil, apperrors.NewNotAssignedToCaller(ticket.ID)
	}

	guard := repository.TicketGuard{Status: ticket.Status, AssignedUserID: ticket.AssignedUserID}
	oldStatus := ticket.Status
	now := s.now()

	ticket.Status = domain.StatusInProgress
	ticket.StartedAt = &now
	ticket.EstimatedTime = &estimatedMinutes

	if err := s.applyGuarded(ctx, ticket, guard, technicianID, oldStatus); err != nil {
		return nil, err
	}

	s.finishTransition(ctx, ticket, oldStatus, events.Event{
		Type:     events.EventRepairStarted,
		TicketID: ticket.ID,
		ActorID:  technicianID,
		Payload: events.RepairStartedPayload{
			EstimatedMinutes: estimatedMinutes,
			PromisedAt:       ticket.PromisedAt,
		},
	})
	return ticket, nil
}

// PauseRepair halts active work. The started timestamp is cleared so the next
// StartRepair establishes a fresh countdown.
func (s *WorkflowService) PauseRepair(ctx context.Context, ticketID, technicianID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketLookup(err, ticketID)
	}
	if ticket.Status != domain.StatusInProgress {
		return nil, apperrors.NewInvalidTransition(int(ticket.Status), int(domain.StatusPaused))
	}
	if !ticket.AssignedTo(technicianID) {
		return nil, apperrors.NewNotAssignedToCaller(ticket.ID)
	}

	guard := repository.TicketGuard{Status: ticket.Status, AssignedUserID: ticket.AssignedUserID}
	oldStatus := ticket.Status

	ticket.Status = domain.StatusPaused
	ticket.StartedAt = nil

	if err := s.applyGuarded(ctx, ticket, guard, technicianID, oldStatus); err != nil {
		return nil, err
	}

	s.finishTransition(ctx, ticket, oldStatus, events.Event{
		Type:     events.EventRepairPaused,
		TicketID: ticket.ID,
		ActorID:  technicianID,
		Payload: events.StatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: ticket.Status,
		},
	})
	return ticket, nil
}

// FinishRepairInput carries the technician's report on leaving En Proceso.
type FinishRepairInput struct {
	Target              domain.TicketStatus
	Diagnosis           string
	IsWet               bool
	Images              []string
	CreateReturnRequest bool
}

var finishTargets = map[domain.TicketStatus]bool{
	domain.StatusPaused:           true,
	domain.StatusRepaired:         true,
	domain.StatusUnrepairable:     true,
	domain.StatusDiagnosed:        true,
	domain.StatusAwaitingApproval: true,
	domain.StatusAwaitingParts:    true,
}

// FinishRepair records the outcome of active work. Terminal outcomes
// (Finalizado OK, Irreparable) stamp finishedAt; non-completing outcomes may
// release every reserved part back to stock in the same transaction.
func (s *WorkflowService) FinishRepair(ctx context.Context, ticketID, technicianID string, input FinishRepairInput) (*domain.Ticket, error) {
	if !finishTargets[input.Target] {
		return nil, apperrors.NewValidationError("target status not permitted for finish", map[string]any{
			"target_status": int(input.Target),
		})
	}
	diagnosis := strings.TrimSpace(input.Diagnosis)
	if diagnosis == "" {
		return nil, apperrors.NewDiagnosisRequired()
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketLookup(err, ticketID)
	}
	if ticket.Status != domain.StatusInProgress {
		return nil, apperrors.NewInvalidTransition(int(ticket.Status), int(input.Target))
	}
	if !ticket.AssignedTo(technicianID) {
		return nil, apperrors.NewNotAssignedToCaller(ticket.ID)
	}

	guard := repository.TicketGuard{Status: ticket.Status, AssignedUserID: ticket.AssignedUserID}
	oldStatus := ticket.Status
	now := s.now()

	ticket.Status = input.Target
	ticket.Diagnosis = &diagnosis
	ticket.IsWet = input.IsWet
	if len(input.Images) > 0 {
		ticket.Images = append(ticket.Images, input.Images...)
	}
	switch input.Target {
	case domain.StatusRepaired, domain.StatusUnrepairable:
		ticket.FinishedAt = &now
	case domain.StatusPaused:
		ticket.StartedAt = nil
	}

	returned := 0
	err = s.tx.WithinTransaction(ctx, func(db repository.DB) error {
		if err := s.tickets.WithTx(db).UpdateGuarded(ctx, ticket, guard); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return apperrors.NewConflict("ticket changed concurrently", map[string]any{"ticket_id": ticket.ID})
			}
			return apperrors.MapError(err)
		}
		if input.CreateReturnRequest && input.Target != domain.StatusRepaired {
			var txErr error
			returned, txErr = s.parts.returnAllInTx(ctx, db, ticket.ID, technicianID)
			if txErr != nil {
				return txErr
			}
		}
		return s.recordStatusChange(ctx, db, technicianID, ticket.ID, oldStatus, ticket.Status)
	})
	if err != nil {
		return nil, err
	}

	s.finishTransition(ctx, ticket, oldStatus, events.Event{
		Type:     events.EventRepairFinished,
		TicketID: ticket.ID,
		ActorID:  technicianID,
		Payload: events.RepairFinishedPayload{
			Outcome:        ticket.Status,
			PartsReturned:  returned,
			DiagnosisShort: diagnosisPreview(diagnosis, 120),
		},
	})
	return ticket, nil
}

// TransferRepair hands ownership to another technician without changing the
// status. The guard on the current assignee makes stale transfers lose.
func (s *WorkflowService) TransferRepair(ctx context.Context, ticketID, fromTechnicianID, toTechnicianID string) (*domain.Ticket, error) {
	if fromTechnicianID == toTechnicianID {
		return nil, apperrors.NewValidationError("cannot transfer a ticket to its current owner", nil)
	}
	if err := s.requireRepairer(ctx, toTechnicianID); err != nil {
		return nil, err
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketLookup(err, ticketID)
	}
	if ticket.Status.Terminal() {
		return nil, apperrors.NewTicketTerminal(ticket.ID, int(ticket.Status))
	}
	if !ticket.AssignedTo(fromTechnicianID) {
		return nil, apperrors.NewNotAssignedToCaller(ticket.ID)
	}

	guard := repository.TicketGuard{Status: ticket.Status, AssignedUserID: &fromTechnicianID}
	ticket.AssignedUserID = &toTechnicianID

	err = s.tx.WithinTransaction(ctx, func(db repository.DB) error {
		if err := s.tickets.WithTx(db).UpdateGuarded(ctx, ticket, guard); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return apperrors.NewNotAssignedToCaller(ticket.ID)
			}
			return apperrors.MapError(err)
		}
		return s.recordAssigneeChange(ctx, db, fromTechnicianID, ticket.ID, &fromTechnicianID, ticket.AssignedUserID)
	})
	if err != nil {
		return nil, err
	}

	s.snapshots.Invalidate(ctx, ticket.ID)
	s.publish(ctx, events.Event{
		Type:     events.EventTicketTransferred,
		TicketID: ticket.ID,
		ActorID:  fromTechnicianID,
		Payload: events.TicketTransferredPayload{
			FromTechnicianID: fromTechnicianID,
			ToTechnicianID:   toTechnicianID,
		},
	})
	return ticket, nil
}

// DeliverTicket hands the device back to the customer. Valid only from the
// two concrete outcomes; finishedAt is untouched, delivery is not "finished".
func (s *WorkflowService) DeliverTicket(ctx context.Context, ticketID, actorID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketLookup(err, ticketID)
	}
	if ticket.Status != domain.StatusRepaired && ticket.Status != domain.StatusUnrepairable {
		return nil, apperrors.NewInvalidTransition(int(ticket.Status), int(domain.StatusDelivered))
	}

	guard := repository.TicketGuard{Status: ticket.Status, AssignedUserID: ticket.AssignedUserID}
	oldStatus := ticket.Status
	ticket.Status = domain.StatusDelivered

	if err := s.applyGuarded(ctx, ticket, guard, actorID, oldStatus); err != nil {
		return nil, err
	}

	s.finishTransition(ctx, ticket, oldStatus, events.Event{
		Type:     events.EventTicketDelivered,
		TicketID: ticket.ID,
		ActorID:  actorID,
		Payload: events.StatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: ticket.Status,
		},
	})
	return ticket, nil
}

// ReturnSinglePart releases one reserved part without finishing the ticket.
func (s *WorkflowService) ReturnSinglePart(ctx context.Context, allocationID, technicianID string) (*domain.PartAllocation, error) {
	allocation, err := s.parts.ReturnOne(ctx, allocationID, technicianID)
	if err != nil {
		return nil, err
	}
	s.snapshots.Invalidate(ctx, allocation.TicketID)
	return allocation, nil
}

// applyGuarded runs a parts-free guarded transition plus its audit row.
func (s *WorkflowService) applyGuarded(ctx context.Context, ticket *domain.Ticket, guard repository.TicketGuard, actorID string, oldStatus domain.TicketStatus) error {
	return s.tx.WithinTransaction(ctx, func(db repository.DB) error {
		if err := s.tickets.WithTx(db).UpdateGuarded(ctx, ticket, guard); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return apperrors.NewConflict("ticket changed concurrently", map[string]any{"ticket_id": ticket.ID})
			}
			return apperrors.MapError(err)
		}
		return s.recordStatusChange(ctx, db, actorID, ticket.ID, oldStatus, ticket.Status)
	})
}

func (s *WorkflowService) requireRepairer(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("user", map[string]any{"user_id": userID})
		}
		return apperrors.MapError(err)
	}
	if !user.CanRepair() {
		return apperrors.NewForbidden("user cannot work repair tickets")
	}
	return nil
}

func (s *WorkflowService) finishTransition(ctx context.Context, ticket *domain.Ticket, oldStatus domain.TicketStatus, event events.Event) {
	s.snapshots.Invalidate(ctx, ticket.ID)
	if s.metrics != nil {
		s.metrics.RecordTransition(oldStatus.Name(), ticket.Status.Name())
	}
	s.publish(ctx, event)
}

func (s *WorkflowService) publish(ctx context.Context, event events.Event) {
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

func (s *WorkflowService) recordStatusChange(ctx context.Context, db repository.DB, actorID, ticketID string, oldStatus, newStatus domain.TicketStatus) error {
	if s.history == nil {
		return nil
	}
	return s.history.WithTx(db).Create(ctx, &domain.TicketHistory{
		TicketID:    ticketID,
		ChangedByID: &actorID,
		ChangeType:  domain.ChangeTypeStatus,
		OldValue:    map[string]any{"status": int(oldStatus)},
		NewValue:    map[string]any{"status": int(newStatus)},
	})
}

func (s *WorkflowService) recordAssigneeChange(ctx context.Context, db repository.DB, actorID, ticketID string, oldAssignee, newAssignee *string) error {
	if s.history == nil {
		return nil
	}
	return s.history.WithTx(db).Create(ctx, &domain.TicketHistory{
		TicketID:    ticketID,
		ChangedByID: &actorID,
		ChangeType:  domain.ChangeTypeAssignee,
		OldValue:    map[string]any{"assigned_user_id": oldAssignee},
		NewValue:    map[string]any{"assigned_user_id": newAssignee},
	})
}

func (s *WorkflowService) recordDeadlineChange(ctx context.Context, db repository.DB, actorID, ticketID string, newDeadline time.Time) error {
	if s.history == nil {
		return nil
	}
	return s.history.WithTx(db).Create(ctx, &domain.TicketHistory{
		TicketID:    ticketID,
		ChangedByID: &actorID,
		ChangeType:  domain.ChangeTypeDeadline,
		NewValue:    map[string]any{"promised_at": newDeadline},
	})
}

// diagnosisPreview truncates on rune boundaries; diagnoses are routinely
// written in Spanish and byte slicing would split multibyte characters.
func diagnosisPreview(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
