package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/observability"
	"github.com/spec-kit/repair-service/internal/schedule"
	apperrors "github.com/spec-kit/repair-service/pkg/util/errorutil"
)

const weeklyHours = "mon=09:00-19:00;tue=09:00-19:00;wed=09:00-19:00;thu=09:00-19:00;fri=09:00-19:00;sat=09:00-19:00"

// 2026-08-31 is a Monday.
var mondayAfternoon = time.Date(2026, time.August, 31, 14, 0, 0, 0, time.UTC)

type workflowFixture struct {
	tickets  *fakeTicketRepo
	users    *fakeUserRepo
	parts    *fakeSparePartRepo
	allocs   *fakeAllocationRepo
	history  *fakeHistoryRepo
	partsSvc *PartsService
	svc      *WorkflowService
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	hours, err := schedule.Parse(weeklyHours)
	require.NoError(t, err)

	f := &workflowFixture{
		tickets: newFakeTicketRepo(),
		users:   newFakeUserRepo(),
		parts:   newFakeSparePartRepo(),
		allocs:  newFakeAllocationRepo(),
		history: newFakeHistoryRepo(),
	}
	tx := newFakeTxManager(f.tickets, f.allocs, f.parts, f.history)
	f.partsSvc = NewPartsService(PartsDependencies{
		TxManager:      tx,
		TicketRepo:     f.tickets,
		AllocationRepo: f.allocs,
		SparePartRepo:  f.parts,
		HistoryRepo:    f.history,
	})
	f.svc = NewWorkflowService(WorkflowDependencies{
		TxManager:   tx,
		TicketRepo:  f.tickets,
		UserRepo:    f.users,
		HistoryRepo: f.history,
		Parts:       f.partsSvc,
		Hours:       hours,
		Metrics:     observability.NewMetrics(),
	})
	f.svc.now = func() time.Time { return mondayAfternoon }

	for _, user := range []*domain.User{
		{ID: "tech-1", BranchID: "centro", Name: "Marta", Email: "marta@taller.test", Role: domain.RoleTechnician, Active: true},
		{ID: "tech-2", BranchID: "centro", Name: "Diego", Email: "diego@taller.test", Role: domain.RoleTechnician, Active: true},
		{ID: "desk-1", BranchID: "centro", Name: "Lucía", Email: "lucia@taller.test", Role: domain.RoleReceptionist, Active: true},
	} {
		require.NoError(t, f.users.Create(context.Background(), user))
	}
	return f
}

func (f *workflowFixture) seedTicket(t *testing.T, status domain.TicketStatus, assignee *string, promisedAt time.Time) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		TicketNumber:   "CENTRO-0001",
		BranchID:       "centro",
		CustomerID:     "cust-1",
		DeviceBrand:    "Samsung",
		DeviceModel:    "A52",
		Problem:        "no enciende",
		Status:         status,
		AssignedUserID: assignee,
		PromisedAt:     promisedAt,
	}
	require.NoError(t, f.tickets.Create(context.Background(), ticket))
	return ticket
}

func (f *workflowFixture) storedTicket(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := f.tickets.GetByID(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func strPtr(s string) *string { return &s }

func TestTakeRepairClaimsTicket(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusReceived, nil, mondayAfternoon.Add(48*time.Hour))

	ticket, err := f.svc.TakeRepair(context.Background(), seeded.ID, "tech-1", TakeRepairInput{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTaken, ticket.Status)
	require.NotNil(t, ticket.AssignedUserID)
	assert.Equal(t, "tech-1", *ticket.AssignedUserID)

	stored := f.storedTicket(t, seeded.ID)
	assert.Equal(t, domain.StatusTaken, stored.Status)
	assert.Equal(t, 1, f.history.countByType(seeded.ID, domain.ChangeTypeStatus))
	assert.Equal(t, 1, f.history.countByType(seeded.ID, domain.ChangeTypeAssignee))
}

func TestTakeRepairRejectsWrongStatus(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusInProgress, strPtr("tech-2"), mondayAfternoon.Add(48*time.Hour))

	_, err := f.svc.TakeRepair(context.Background(), seeded.ID, "tech-1", TakeRepairInput{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "INVALID_TRANSITION"))

	stored := f.storedTicket(t, seeded.ID)
	assert.Equal(t, domain.StatusInProgress, stored.Status)
	assert.Equal(t, "tech-2", *stored.AssignedUserID)
}

func TestTakeRepairRejectsReceptionist(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusReceived, nil, mondayAfternoon.Add(48*time.Hour))

	_, err := f.svc.TakeRepair(context.Background(), seeded.ID, "desk-1", TakeRepairInput{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "FORBIDDEN"))
}

func TestTakeRepairConcurrentClaimSingleWinner(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusReceived, nil, mondayAfternoon.Add(48*time.Hour))

	techs := []string{"tech-1", "tech-2"}
	errs := make([]error, len(techs))
	var wg sync.WaitGroup
	for i, tech := range techs {
		wg.Add(1)
		go func(i int, tech string) {
			defer wg.Done()
			_, errs[i] = f.svc.TakeRepair(context.Background(), seeded.ID, tech, TakeRepairInput{})
		}(i, tech)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		// The loser fails on the guard or on the pre-check re-read, depending
		// on interleaving. Either way the claim is refused.
		ok := apperrors.HasCode(err, "ALREADY_ASSIGNED") || apperrors.HasCode(err, "INVALID_TRANSITION")
		assert.True(t, ok, "unexpected claim error: %v", err)
	}
	assert.Equal(t, 1, winners)

	stored := f.storedTicket(t, seeded.ID)
	assert.Equal(t, domain.StatusTaken, stored.Status)
	require.NotNil(t, stored.AssignedUserID)
	assert.Contains(t, techs, *stored.AssignedUserID)
}

func TestTakeRepairAllocatesRequestedParts(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusReceived, nil, mondayAfternoon.Add(48*time.Hour))
	part := &domain.SparePart{ID: "part-1", BranchID: "centro", Name: "pantalla A52", Code: "PAN-A52", Stock: 4}
	require.NoError(t, f.parts.Create(context.Background(), part))

	_, err := f.svc.TakeRepair(context.Background(), seeded.ID, "tech-1", TakeRepairInput{
		Parts: []PartRequest{{SparePartID: "part-1", Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.parts.stockOf("part-1"))

	allocations, err := f.allocs.ListByTicket(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	assert.Equal(t, 3, allocations[0].Quantity)
}

func TestTakeRepairWithInsufficientPartsFailsWholesale(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusReceived, nil, mondayAfternoon.Add(48*time.Hour))
	part := &domain.SparePart{ID: "part-1", BranchID: "centro", Name: "placa", Code: "PLA-1", Stock: 1}
	require.NoError(t, f.parts.Create(context.Background(), part))

	_, err := f.svc.TakeRepair(context.Background(), seeded.ID, "tech-1", TakeRepairInput{
		Parts: []PartRequest{{SparePartID: "part-1", Quantity: 3}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "INSUFFICIENT_STOCK"))

	// The claim and the reservation commit together or not at all.
	stored := f.storedTicket(t, seeded.ID)
	assert.Equal(t, domain.StatusReceived, stored.Status)
	assert.Nil(t, stored.AssignedUserID)
	assert.Equal(t, 1, f.parts.stockOf("part-1"))

	allocations, listErr := f.allocs.ListByTicket(context.Background(), seeded.ID)
	require.NoError(t, listErr)
	assert.Empty(t, allocations)
	assert.Equal(t, 0, f.history.countByType(seeded.ID, domain.ChangeTypeStatus))
}

func TestTakeRepairExtendsOverdueDeadline(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusReceived, nil, mondayAfternoon.Add(-3*time.Hour))
	extension := 120

	ticket, err := f.svc.TakeRepair(context.Background(), seeded.ID, "tech-1", TakeRepairInput{
		ExtensionMinutes: &extension,
	})
	require.NoError(t, err)
	// Monday 14:00 + 120 business minutes stays within Monday's hours.
	assert.Equal(t, time.Date(2026, time.August, 31, 16, 0, 0, 0, time.UTC), ticket.PromisedAt)
	assert.Equal(t, ticket.PromisedAt, f.storedTicket(t, seeded.ID).PromisedAt)
	assert.Equal(t, 1, f.history.countByType(seeded.ID, domain.ChangeTypeDeadline))
}

func TestTakeRepairIgnoresExtensionWhenNotOverdue(t *testing.T) {
	f := newWorkflowFixture(t)
	promised := mondayAfternoon.Add(48 * time.Hour)
	seeded := f.seedTicket(t, domain.StatusReceived, nil, promised)
	extension := 120

	ticket, err := f.svc.TakeRepair(context.Background(), seeded.ID, "tech-1", TakeRepairInput{
		ExtensionMinutes: &extension,
	})
	require.NoError(t, err)
	assert.Equal(t, promised, ticket.PromisedAt)
	assert.Equal(t, 0, f.history.countByType(seeded.ID, domain.ChangeTypeDeadline))
}

func TestAssignTimeRecomputesDeadlineInBusinessMinutes(t *testing.T) {
	f := newWorkflowFixture(t)
	f.svc.now = func() time.Time {
		return time.Date(2026, time.August, 31, 18, 30, 0, 0, time.UTC) // Monday 18:30
	}
	seeded := f.seedTicket(t, domain.StatusTaken, strPtr("tech-1"), time.Date(2026, time.September, 2, 12, 0, 0, 0, time.UTC))

	ticket, err := f.svc.AssignTime(context.Background(), seeded.ID, "tech-1", 60, true, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, ticket.Status)
	require.NotNil(t, ticket.StartedAt)
	require.NotNil(t, ticket.EstimatedTime)
	assert.Equal(t, 60, *ticket.EstimatedTime)
	// 30 business minutes remain on Monday; the other 30 land on Tuesday.
	assert.Equal(t, time.Date(2026, time.September, 1, 9, 30, 0, 0, time.UTC), ticket.PromisedAt)
}

func TestAssignTimeOverdueNeedsAcknowledgement(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusTaken, strPtr("tech-1"), mondayAfternoon.Add(-2*time.Hour))

	_, err := f.svc.AssignTime(context.Background(), seeded.ID, "tech-1", 90, false, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "REQUIRES_DATE_UPDATE"))
	assert.Equal(t, domain.StatusTaken, f.storedTicket(t, seeded.ID).Status)

	ticket, err := f.svc.AssignTime(context.Background(), seeded.ID, "tech-1", 90, true, nil)
	require.NoError(t, err)
	assert.True(t, ticket.PromisedAt.After(mondayAfternoon))
}

func TestAssignTimeRejectsNonOwner(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusTaken, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))

	_, err := f.svc.AssignTime(context.Background(), seeded.ID, "tech-2", 60, false, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "NOT_ASSIGNED_TO_CALLER"))
}

func TestPauseClearsCountdownAndStartIsFresh(t *testing.T) {
	f := newWorkflowFixture(t)
	started := mondayAfternoon.Add(-30 * time.Minute)
	seeded := f.seedTicket(t, domain.StatusInProgress, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))
	seeded.StartedAt = &started
	minutes := 45
	seeded.EstimatedTime = &minutes
	require.NoError(t, f.tickets.UpdateGuarded(context.Background(), seeded,
		guardFor(seeded)))

	paused, err := f.svc.PauseRepair(context.Background(), seeded.ID, "tech-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)
	assert.Nil(t, paused.StartedAt)

	resumed, err := f.svc.StartRepair(context.Background(), seeded.ID, "tech-1", 20)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, resumed.Status)
	require.NotNil(t, resumed.StartedAt)
	assert.Equal(t, mondayAfternoon, *resumed.StartedAt)
	assert.Equal(t, 20, *resumed.EstimatedTime)
}

func TestStartRepairOnlyFromPaused(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusTaken, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))

	_, err := f.svc.StartRepair(context.Background(), seeded.ID, "tech-1", 30)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "INVALID_TRANSITION"))
}

func TestFinishRepairStampsCompletion(t *testing.T) {
	f := newWorkflowFixture(t)
	started := mondayAfternoon.Add(-time.Hour)
	seeded := f.seedTicket(t, domain.StatusInProgress, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))
	seeded.StartedAt = &started
	require.NoError(t, f.tickets.UpdateGuarded(context.Background(), seeded, guardFor(seeded)))

	ticket, err := f.svc.FinishRepair(context.Background(), seeded.ID, "tech-1", FinishRepairInput{
		Target:    domain.StatusRepaired,
		Diagnosis: "pantalla reemplazada, equipo operativo",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRepaired, ticket.Status)
	require.NotNil(t, ticket.FinishedAt)
	assert.False(t, ticket.FinishedAt.Before(*ticket.StartedAt))
	require.NotNil(t, ticket.Diagnosis)
}

func TestFinishRepairRejectsUnknownTarget(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusInProgress, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))

	_, err := f.svc.FinishRepair(context.Background(), seeded.ID, "tech-1", FinishRepairInput{
		Target:    domain.StatusDelivered,
		Diagnosis: "algo",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "VALIDATION_FAILED"))
	assert.Equal(t, domain.StatusInProgress, f.storedTicket(t, seeded.ID).Status)
}

func TestFinishRepairRequiresDiagnosis(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusInProgress, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))

	_, err := f.svc.FinishRepair(context.Background(), seeded.ID, "tech-1", FinishRepairInput{
		Target:    domain.StatusRepaired,
		Diagnosis: "   ",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "DIAGNOSIS_REQUIRED"))
}

func TestFinishRepairReleasesPartsWithReturnRequest(t *testing.T) {
	f := newWorkflowFixture(t)
	part := &domain.SparePart{ID: "part-1", BranchID: "centro", Name: "batería", Code: "BAT-1", Stock: 5}
	require.NoError(t, f.parts.Create(context.Background(), part))
	seeded := f.seedTicket(t, domain.StatusInProgress, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))

	_, err := f.partsSvc.Allocate(context.Background(), seeded.ID, "part-1", 2, "tech-1")
	require.NoError(t, err)
	require.Equal(t, 3, f.parts.stockOf("part-1"))

	ticket, err := f.svc.FinishRepair(context.Background(), seeded.ID, "tech-1", FinishRepairInput{
		Target:              domain.StatusAwaitingParts,
		Diagnosis:           "falta repuesto compatible",
		CreateReturnRequest: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingParts, ticket.Status)
	assert.Equal(t, 5, f.parts.stockOf("part-1"))

	unreturned, err := f.allocs.ListUnreturnedByTicket(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Empty(t, unreturned)
}

func TestFinishRepairBackToPausedClearsStartedAt(t *testing.T) {
	f := newWorkflowFixture(t)
	started := mondayAfternoon.Add(-time.Hour)
	seeded := f.seedTicket(t, domain.StatusInProgress, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))
	seeded.StartedAt = &started
	require.NoError(t, f.tickets.UpdateGuarded(context.Background(), seeded, guardFor(seeded)))

	ticket, err := f.svc.FinishRepair(context.Background(), seeded.ID, "tech-1", FinishRepairInput{
		Target:    domain.StatusPaused,
		Diagnosis: "esperando confirmación del cliente",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, ticket.Status)
	assert.Nil(t, ticket.StartedAt)
	assert.Nil(t, ticket.FinishedAt)
}

func TestTransferRepairChangesOwner(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusInProgress, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))

	ticket, err := f.svc.TransferRepair(context.Background(), seeded.ID, "tech-1", "tech-2")
	require.NoError(t, err)
	assert.Equal(t, "tech-2", *ticket.AssignedUserID)
	assert.Equal(t, domain.StatusInProgress, ticket.Status)
	assert.Equal(t, 1, f.history.countByType(seeded.ID, domain.ChangeTypeAssignee))
}

func TestTransferRepairGuards(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusInProgress, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))

	_, err := f.svc.TransferRepair(context.Background(), seeded.ID, "tech-2", "tech-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "NOT_ASSIGNED_TO_CALLER"))

	_, err = f.svc.TransferRepair(context.Background(), seeded.ID, "tech-1", "tech-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "VALIDATION_FAILED"))

	_, err = f.svc.TransferRepair(context.Background(), seeded.ID, "tech-1", "desk-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "FORBIDDEN"))
}

func TestTransferRepairRejectsTerminalTicket(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusRepaired, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))

	_, err := f.svc.TransferRepair(context.Background(), seeded.ID, "tech-1", "tech-2")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "TICKET_TERMINAL"))
}

func TestDeliverTicket(t *testing.T) {
	f := newWorkflowFixture(t)
	finished := mondayAfternoon.Add(-time.Hour)
	seeded := f.seedTicket(t, domain.StatusRepaired, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))
	seeded.FinishedAt = &finished
	require.NoError(t, f.tickets.UpdateGuarded(context.Background(), seeded, guardFor(seeded)))

	ticket, err := f.svc.DeliverTicket(context.Background(), seeded.ID, "desk-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, ticket.Status)
	require.NotNil(t, ticket.FinishedAt)
	assert.Equal(t, finished, *ticket.FinishedAt)
}

func TestDeliverTicketOnlyFromOutcome(t *testing.T) {
	f := newWorkflowFixture(t)
	seeded := f.seedTicket(t, domain.StatusInProgress, strPtr("tech-1"), mondayAfternoon.Add(48*time.Hour))

	_, err := f.svc.DeliverTicket(context.Background(), seeded.ID, "desk-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "INVALID_TRANSITION"))
}

func TestDiagnosisPreviewTruncatesOnRuneBoundaries(t *testing.T) {
	long := strings.Repeat("ñ", 130)
	preview := diagnosisPreview(long, 120)
	assert.True(t, utf8.ValidString(preview))
	assert.Equal(t, strings.Repeat("ñ", 117)+"...", preview)
	assert.Len(t, []rune(preview), 120)

	assert.Equal(t, "señal débil", diagnosisPreview("  señal débil  ", 120))
	assert.Equal(t, "áé", diagnosisPreview("áéí", 2))
}
