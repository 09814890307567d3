package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/repair-service/internal/domain"
)

// AllocationRepository persists spare-part reservations.
type AllocationRepository interface {
	Create(ctx context.Context, allocation *domain.PartAllocation) error
	GetByID(ctx context.Context, id string) (*domain.PartAllocation, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.PartAllocation, error)
	ListUnreturnedByTicket(ctx context.Context, ticketID string) ([]domain.PartAllocation, error)
	MarkReturned(ctx context.Context, id string) error
	WithTx(db DB) AllocationRepository
}

type allocationRepository struct {
	db DB
}

// NewAllocationRepository instantiates the repository.
func NewAllocationRepository(db DB) AllocationRepository {
	return &allocationRepository{db: db}
}

func (r *allocationRepository) WithTx(db DB) AllocationRepository {
	return &allocationRepository{db: db}
}

func (r *allocationRepository) Create(ctx context.Context, allocation *domain.PartAllocation) error {
	const query = `
        INSERT INTO part_allocations (ticket_id, spare_part_id, quantity)
        VALUES ($1,$2,$3)
        RETURNING id, allocated_at`
	return r.db.QueryRow(ctx, query,
		allocation.TicketID,
		allocation.SparePartID,
		allocation.Quantity,
	).Scan(&allocation.ID, &allocation.AllocatedAt)
}

func (r *allocationRepository) GetByID(ctx context.Context, id string) (*domain.PartAllocation, error) {
	const query = `
        SELECT id, ticket_id, spare_part_id, quantity, allocated_at, returned, returned_at
        FROM part_allocations WHERE id=$1`
	var allocation domain.PartAllocation
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&allocation.ID,
		&allocation.TicketID,
		&allocation.SparePartID,
		&allocation.Quantity,
		&allocation.AllocatedAt,
		&allocation.Returned,
		&allocation.ReturnedAt,
	); err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (r *allocationRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.PartAllocation, error) {
	const query = `
        SELECT id, ticket_id, spare_part_id, quantity, allocated_at, returned, returned_at
        FROM part_allocations WHERE ticket_id=$1 ORDER BY allocated_at ASC`
	return r.list(ctx, query, ticketID)
}

func (r *allocationRepository) ListUnreturnedByTicket(ctx context.Context, ticketID string) ([]domain.PartAllocation, error) {
	const query = `
        SELECT id, ticket_id, spare_part_id, quantity, allocated_at, returned, returned_at
        FROM part_allocations WHERE ticket_id=$1 AND returned=FALSE ORDER BY allocated_at ASC`
	return r.list(ctx, query, ticketID)
}

// MarkReturned flips the returned flag exactly once. ErrConflict means the
// allocation was already returned by a concurrent caller.
func (r *allocationRepository) MarkReturned(ctx context.Context, id string) error {
	const query = `
        UPDATE part_allocations SET returned=TRUE, returned_at=NOW()
        WHERE id=$1 AND returned=FALSE`
	cmd, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *allocationRepository) list(ctx context.Context, query string, args ...any) ([]domain.PartAllocation, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAllocations(rows)
}

func scanAllocations(rows pgx.Rows) ([]domain.PartAllocation, error) {
	var result []domain.PartAllocation
	for rows.Next() {
		var allocation domain.PartAllocation
		if err := rows.Scan(
			&allocation.ID,
			&allocation.TicketID,
			&allocation.SparePartID,
			&allocation.Quantity,
			&allocation.AllocatedAt,
			&allocation.Returned,
			&allocation.ReturnedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, allocation)
	}
	return result, rows.Err()
}
