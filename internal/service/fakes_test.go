package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/repository"
)

// In-memory doubles for the repository interfaces. UpdateGuarded and the stock
// mutations keep the same conditional-write contract as the SQL versions so
// the concurrency tests exercise real loser paths.

// fakeTxManager behaves like a single-connection database: transactions run
// one at a time, repo state is snapshotted on entry and restored when fn
// fails, so a mid-transaction error never leaves partial writes behind.
type fakeTxManager struct {
	mu    *sync.Mutex
	repos []interface{ snapshot() func() }
}

func newFakeTxManager(repos ...interface{ snapshot() func() }) *fakeTxManager {
	return &fakeTxManager{mu: &sync.Mutex{}, repos: repos}
}

func (m *fakeTxManager) WithinTransaction(ctx context.Context, fn func(db repository.DB) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	restores := make([]func(), 0, len(m.repos))
	for _, repo := range m.repos {
		restores = append(restores, repo.snapshot())
	}
	err := fn(nil)
	if err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
	}
	return err
}

type fakeTicketRepo struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[string]*domain.Ticket)}
}

func (r *fakeTicketRepo) WithTx(db repository.DB) repository.TicketRepository { return r }

func (r *fakeTicketRepo) snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[string]*domain.Ticket, len(r.tickets))
	for id, stored := range r.tickets {
		copied := *stored
		saved[id] = &copied
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.tickets = saved
	}
}

func (r *fakeTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	now := time.Now()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	stored := *ticket
	r.tickets[ticket.ID] = &stored
	return nil
}

func (r *fakeTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *stored
	return &copied, nil
}

func (r *fakeTicketRepo) GetByNumber(ctx context.Context, branchID, number string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.tickets {
		if stored.BranchID == branchID && stored.TicketNumber == number {
			copied := *stored
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeTicketRepo) ListWithFilter(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range r.tickets {
		if filter.BranchID != nil && stored.BranchID != *filter.BranchID {
			continue
		}
		if filter.SearchTerm != nil && !strings.Contains(strings.ToLower(stored.Problem), strings.ToLower(*filter.SearchTerm)) {
			continue
		}
		result = append(result, *stored)
	}
	return result, nil
}

func (r *fakeTicketRepo) UpdateGuarded(ctx context.Context, ticket *domain.Ticket, guard repository.TicketGuard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return repository.ErrConflict
	}
	if stored.Status != guard.Status || !samePointerValue(stored.AssignedUserID, guard.AssignedUserID) {
		return repository.ErrConflict
	}
	updated := *ticket
	updated.UpdatedAt = time.Now()
	r.tickets[ticket.ID] = &updated
	return nil
}

func guardFor(ticket *domain.Ticket) repository.TicketGuard {
	return repository.TicketGuard{Status: ticket.Status, AssignedUserID: ticket.AssignedUserID}
}

func samePointerValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type fakeAllocationRepo struct {
	mu          sync.Mutex
	order       []string
	allocations map[string]*domain.PartAllocation
}

func newFakeAllocationRepo() *fakeAllocationRepo {
	return &fakeAllocationRepo{allocations: make(map[string]*domain.PartAllocation)}
}

func (r *fakeAllocationRepo) WithTx(db repository.DB) repository.AllocationRepository { return r }

func (r *fakeAllocationRepo) snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	savedOrder := append([]string(nil), r.order...)
	saved := make(map[string]*domain.PartAllocation, len(r.allocations))
	for id, stored := range r.allocations {
		copied := *stored
		saved[id] = &copied
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = savedOrder
		r.allocations = saved
	}
}

func (r *fakeAllocationRepo) Create(ctx context.Context, allocation *domain.PartAllocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if allocation.ID == "" {
		allocation.ID = uuid.NewString()
	}
	allocation.AllocatedAt = time.Now()
	stored := *allocation
	r.allocations[allocation.ID] = &stored
	r.order = append(r.order, allocation.ID)
	return nil
}

func (r *fakeAllocationRepo) GetByID(ctx context.Context, id string) (*domain.PartAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.allocations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *stored
	return &copied, nil
}

func (r *fakeAllocationRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.PartAllocation, error) {
	return r.list(ticketID, false)
}

func (r *fakeAllocationRepo) ListUnreturnedByTicket(ctx context.Context, ticketID string) ([]domain.PartAllocation, error) {
	return r.list(ticketID, true)
}

func (r *fakeAllocationRepo) list(ticketID string, unreturnedOnly bool) ([]domain.PartAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.PartAllocation
	for _, id := range r.order {
		stored := r.allocations[id]
		if stored.TicketID != ticketID {
			continue
		}
		if unreturnedOnly && stored.Returned {
			continue
		}
		result = append(result, *stored)
	}
	return result, nil
}

func (r *fakeAllocationRepo) MarkReturned(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.allocations[id]
	if !ok || stored.Returned {
		return repository.ErrConflict
	}
	now := time.Now()
	stored.Returned = true
	stored.ReturnedAt = &now
	return nil
}

type fakeSparePartRepo struct {
	mu    sync.Mutex
	parts map[string]*domain.SparePart
}

func newFakeSparePartRepo() *fakeSparePartRepo {
	return &fakeSparePartRepo{parts: make(map[string]*domain.SparePart)}
}

func (r *fakeSparePartRepo) WithTx(db repository.DB) repository.SparePartRepository { return r }

func (r *fakeSparePartRepo) snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[string]*domain.SparePart, len(r.parts))
	for id, stored := range r.parts {
		copied := *stored
		saved[id] = &copied
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.parts = saved
	}
}

func (r *fakeSparePartRepo) Create(ctx context.Context, part *domain.SparePart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if part.ID == "" {
		part.ID = uuid.NewString()
	}
	stored := *part
	r.parts[part.ID] = &stored
	return nil
}

func (r *fakeSparePartRepo) GetByID(ctx context.Context, id string) (*domain.SparePart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.parts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *stored
	return &copied, nil
}

func (r *fakeSparePartRepo) ListByBranch(ctx context.Context, branchID string, limit, offset int) ([]domain.SparePart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.SparePart
	for _, stored := range r.parts {
		if stored.BranchID == branchID {
			result = append(result, *stored)
		}
	}
	return result, nil
}

func (r *fakeSparePartRepo) DecrementStock(ctx context.Context, id string, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.parts[id]
	if !ok || stored.Stock < quantity {
		return repository.ErrConflict
	}
	stored.Stock -= quantity
	return nil
}

func (r *fakeSparePartRepo) IncrementStock(ctx context.Context, id string, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.parts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.Stock += quantity
	return nil
}

func (r *fakeSparePartRepo) stockOf(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.parts[id]; ok {
		return stored.Stock
	}
	return -1
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*domain.User)}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *fakeUserRepo) Update(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *stored
	return &copied, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.users {
		if stored.Email == email {
			copied := *stored
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []domain.TicketHistory
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{}
}

func (r *fakeHistoryRepo) WithTx(db repository.DB) repository.TicketHistoryRepository { return r }

func (r *fakeHistoryRepo) snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := append([]domain.TicketHistory(nil), r.entries...)
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.entries = saved
	}
}

func (r *fakeHistoryRepo) Create(ctx context.Context, history *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if history.ID == "" {
		history.ID = uuid.NewString()
	}
	history.CreatedAt = time.Now()
	r.entries = append(r.entries, *history)
	return nil
}

func (r *fakeHistoryRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.TicketHistory
	for _, entry := range r.entries {
		if entry.TicketID == ticketID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (r *fakeHistoryRepo) countByType(ticketID string, changeType domain.TicketChangeType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, entry := range r.entries {
		if entry.TicketID == ticketID && entry.ChangeType == changeType {
			count++
		}
	}
	return count
}
