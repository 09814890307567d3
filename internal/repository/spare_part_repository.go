package repository

import (
	"context"

	"github.com/spec-kit/repair-service/internal/domain"
)

// SparePartRepository is the inventory collaborator. Stock mutations are
// guarded single statements, never read-then-write.
type SparePartRepository interface {
	Create(ctx context.Context, part *domain.SparePart) error
	GetByID(ctx context.Context, id string) (*domain.SparePart, error)
	ListByBranch(ctx context.Context, branchID string, limit, offset int) ([]domain.SparePart, error)
	DecrementStock(ctx context.Context, id string, quantity int) error
	IncrementStock(ctx context.Context, id string, quantity int) error
	WithTx(db DB) SparePartRepository
}

type sparePartRepository struct {
	db DB
}

// NewSparePartRepository instantiates the repository.
func NewSparePartRepository(db DB) SparePartRepository {
	return &sparePartRepository{db: db}
}

func (r *sparePartRepository) WithTx(db DB) SparePartRepository {
	return &sparePartRepository{db: db}
}

func (r *sparePartRepository) Create(ctx context.Context, part *domain.SparePart) error {
	const query = `
        INSERT INTO spare_parts (branch_id, name, code, stock, unit_price)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		part.BranchID,
		part.Name,
		part.Code,
		part.Stock,
		part.UnitPrice,
	).Scan(&part.ID, &part.CreatedAt, &part.UpdatedAt)
}

func (r *sparePartRepository) GetByID(ctx context.Context, id string) (*domain.SparePart, error) {
	const query = `
        SELECT id, branch_id, name, code, stock, unit_price, created_at, updated_at
        FROM spare_parts WHERE id=$1`
	var part domain.SparePart
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&part.ID,
		&part.BranchID,
		&part.Name,
		&part.Code,
		&part.Stock,
		&part.UnitPrice,
		&part.CreatedAt,
		&part.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &part, nil
}

func (r *sparePartRepository) ListByBranch(ctx context.Context, branchID string, limit, offset int) ([]domain.SparePart, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
        SELECT id, branch_id, name, code, stock, unit_price, created_at, updated_at
        FROM spare_parts WHERE branch_id=$1 ORDER BY name ASC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, branchID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SparePart
	for rows.Next() {
		var part domain.SparePart
		if err := rows.Scan(
			&part.ID,
			&part.BranchID,
			&part.Name,
			&part.Code,
			&part.Stock,
			&part.UnitPrice,
			&part.CreatedAt,
			&part.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, part)
	}
	return result, rows.Err()
}

// DecrementStock subtracts quantity only while enough stock remains.
// ErrConflict means the shelf ran short under a concurrent allocation.
func (r *sparePartRepository) DecrementStock(ctx context.Context, id string, quantity int) error {
	const query = `
        UPDATE spare_parts SET stock = stock - $2, updated_at=NOW()
        WHERE id=$1 AND stock >= $2`
	cmd, err := r.db.Exec(ctx, query, id, quantity)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *sparePartRepository) IncrementStock(ctx context.Context, id string, quantity int) error {
	const query = `
        UPDATE spare_parts SET stock = stock + $2, updated_at=NOW()
        WHERE id=$1`
	cmd, err := r.db.Exec(ctx, query, id, quantity)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}
