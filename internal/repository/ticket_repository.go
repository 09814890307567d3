package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/repair-service/internal/domain"
)

// TicketGuard is the expected pre-state for a guarded ticket update. The write
// applies only while the stored row still matches both fields.
type TicketGuard struct {
	Status         domain.TicketStatus
	AssignedUserID *string
}

// TicketFilter captures board/search parameters.
type TicketFilter struct {
	BranchID       *string
	AssignedUserID *string
	Statuses       []domain.TicketStatus
	Warranty       *bool
	OverdueAt      *time.Time
	SearchTerm     *string
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	Limit          int
	Offset         int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByNumber(ctx context.Context, branchID, number string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	UpdateGuarded(ctx context.Context, ticket *domain.Ticket, guard TicketGuard) error
	WithTx(db DB) TicketRepository
}

type ticketRepository struct {
	db DB
}

// NewTicketRepository instantiates the Postgres-backed repository.
func NewTicketRepository(db DB) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) WithTx(db DB) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `id, ticket_number, branch_id, customer_id, device_brand, device_model,
               problem, diagnosis, status_id, assigned_user_id, is_warranty, is_wet,
               estimated_price, estimated_minutes, images, created_at, promised_at,
               started_at, finished_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (ticket_number, branch_id, customer_id, device_brand, device_model,
            problem, diagnosis, status_id, assigned_user_id, is_warranty, is_wet,
            estimated_price, estimated_minutes, images, promised_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		ticket.TicketNumber,
		ticket.BranchID,
		ticket.CustomerID,
		ticket.DeviceBrand,
		ticket.DeviceModel,
		ticket.Problem,
		ticket.Diagnosis,
		ticket.Status,
		ticket.AssignedUserID,
		ticket.IsWarranty,
		ticket.IsWet,
		ticket.EstimatedPrice,
		ticket.EstimatedTime,
		ticket.Images,
		ticket.PromisedAt,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

// UpdateGuarded writes the mutable workflow fields with a conditional UPDATE.
// Returns ErrConflict when the stored status or assignee no longer matches the
// guard, which is how concurrent claim races lose.
func (r *ticketRepository) UpdateGuarded(ctx context.Context, ticket *domain.Ticket, guard TicketGuard) error {
	const query = `
        UPDATE tickets SET status_id=$1, assigned_user_id=$2, promised_at=$3, started_at=$4,
            finished_at=$5, estimated_minutes=$6, estimated_price=$7, diagnosis=$8,
            is_wet=$9, images=$10, updated_at=NOW()
        WHERE id=$11 AND status_id=$12 AND assigned_user_id IS NOT DISTINCT FROM $13`
	cmd, err := r.db.Exec(ctx, query,
		ticket.Status,
		ticket.AssignedUserID,
		ticket.PromisedAt,
		ticket.StartedAt,
		ticket.FinishedAt,
		ticket.EstimatedTime,
		ticket.EstimatedPrice,
		ticket.Diagnosis,
		ticket.IsWet,
		ticket.Images,
		ticket.ID,
		guard.Status,
		guard.AssignedUserID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id=$1`, ticketColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByNumber(ctx context.Context, branchID, number string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE branch_id=$1 AND ticket_number=$2`, ticketColumns)
	return r.fetchSingle(ctx, query, branchID, number)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := scanTicket(r.db.QueryRow(ctx, query, args...), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := fmt.Sprintf(`SELECT %s FROM tickets`, ticketColumns)
	clauses := []string{"1=1"}
	args := []any{}

	if filter.BranchID != nil {
		args = append(args, *filter.BranchID)
		clauses = append(clauses, fmt.Sprintf("branch_id=$%d", len(args)))
	}
	if filter.AssignedUserID != nil {
		args = append(args, *filter.AssignedUserID)
		clauses = append(clauses, fmt.Sprintf("assigned_user_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status_id IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Warranty != nil {
		args = append(args, *filter.Warranty)
		clauses = append(clauses, fmt.Sprintf("is_warranty=$%d", len(args)))
	}
	if filter.OverdueAt != nil {
		args = append(args, *filter.OverdueAt)
		clauses = append(clauses, fmt.Sprintf("promised_at < $%d AND status_id NOT IN (5,6,10)", len(args)))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf(
			"(LOWER(ticket_number) LIKE %s OR LOWER(device_brand) LIKE %s OR LOWER(device_model) LIKE %s OR LOWER(problem) LIKE %s)",
			placeholder, placeholder, placeholder, placeholder))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY promised_at ASC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.TicketNumber,
		&ticket.BranchID,
		&ticket.CustomerID,
		&ticket.DeviceBrand,
		&ticket.DeviceModel,
		&ticket.Problem,
		&ticket.Diagnosis,
		&ticket.Status,
		&ticket.AssignedUserID,
		&ticket.IsWarranty,
		&ticket.IsWet,
		&ticket.EstimatedPrice,
		&ticket.EstimatedTime,
		&ticket.Images,
		&ticket.CreatedAt,
		&ticket.PromisedAt,
		&ticket.StartedAt,
		&ticket.FinishedAt,
		&ticket.UpdatedAt,
	)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
