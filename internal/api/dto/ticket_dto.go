package dto

import (
	"time"

	"github.com/spec-kit/repair-service/internal/domain"
)

// CreateTicketRequest is the intake payload.
type CreateTicketRequest struct {
	BranchID       string   `json:"branch_id"`
	CustomerID     string   `json:"customer_id"`
	DeviceBrand    string   `json:"device_brand"`
	DeviceModel    string   `json:"device_model"`
	Problem        string   `json:"problem"`
	IsWarranty     bool     `json:"is_warranty"`
	IsWet          bool     `json:"is_wet"`
	EstimatedPrice *float64 `json:"estimated_price"`
	Images         []string `json:"images"`
	PromiseMinutes *int     `json:"promise_minutes"`
}

// PartRequest asks for units of one spare part.
type PartRequest struct {
	SparePartID string `json:"spare_part_id"`
	Quantity    int    `json:"quantity"`
}

// TakeRepairRequest claims a ticket.
type TakeRepairRequest struct {
	Parts            []PartRequest `json:"parts"`
	ExtensionMinutes *int          `json:"extension_minutes"`
}

// AssignTimeRequest plans active work.
type AssignTimeRequest struct {
	EstimatedMinutes int           `json:"estimated_minutes"`
	UpdateDate       bool          `json:"update_date"`
	Parts            []PartRequest `json:"parts"`
}

// StartRepairRequest resumes a paused ticket.
type StartRepairRequest struct {
	EstimatedMinutes int `json:"estimated_minutes"`
}

// FinishRepairRequest reports the outcome of active work.
type FinishRepairRequest struct {
	TargetStatusID      int      `json:"target_status_id"`
	Diagnosis           string   `json:"diagnosis"`
	IsWet               bool     `json:"is_wet"`
	Images              []string `json:"images"`
	CreateReturnRequest bool     `json:"create_return_request"`
}

// TransferRepairRequest hands the ticket to another technician.
type TransferRepairRequest struct {
	ToUserID string `json:"to_user_id"`
}

// AllocationResponse describes one spare-part reservation.
type AllocationResponse struct {
	ID          string     `json:"id"`
	SparePartID string     `json:"spare_part_id"`
	Quantity    int        `json:"quantity"`
	AllocatedAt time.Time  `json:"allocated_at"`
	Returned    bool       `json:"returned"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
}

// TicketResponse is the full ticket snapshot.
type TicketResponse struct {
	ID               string               `json:"id"`
	TicketNumber     string               `json:"ticket_number"`
	BranchID         string               `json:"branch_id"`
	CustomerID       string               `json:"customer_id"`
	DeviceBrand      string               `json:"device_brand"`
	DeviceModel      string               `json:"device_model"`
	Problem          string               `json:"problem"`
	Diagnosis        *string              `json:"diagnosis,omitempty"`
	StatusID         int                  `json:"status_id"`
	StatusName       string               `json:"status_name"`
	AssignedUserID   *string              `json:"assigned_user_id,omitempty"`
	IsWarranty       bool                 `json:"is_warranty"`
	IsWet            bool                 `json:"is_wet"`
	EstimatedPrice   *float64             `json:"estimated_price,omitempty"`
	EstimatedMinutes *int                 `json:"estimated_minutes,omitempty"`
	Images           []string             `json:"images,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	PromisedAt       time.Time            `json:"promised_at"`
	StartedAt        *time.Time           `json:"started_at,omitempty"`
	FinishedAt       *time.Time           `json:"finished_at,omitempty"`
	UpdatedAt        time.Time            `json:"updated_at"`
	Allocations      []AllocationResponse `json:"allocations,omitempty"`
}

// HistoryResponse is one audit trail entry.
type HistoryResponse struct {
	ID          string         `json:"id"`
	ChangedByID *string        `json:"changed_by_id,omitempty"`
	ChangeType  string         `json:"change_type"`
	OldValue    map[string]any `json:"old_value,omitempty"`
	NewValue    map[string]any `json:"new_value,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// FromTicket maps the domain aggregate to its response shape.
func FromTicket(ticket *domain.Ticket) TicketResponse {
	resp := TicketResponse{
		ID:               ticket.ID,
		TicketNumber:     ticket.TicketNumber,
		BranchID:         ticket.BranchID,
		CustomerID:       ticket.CustomerID,
		DeviceBrand:      ticket.DeviceBrand,
		DeviceModel:      ticket.DeviceModel,
		Problem:          ticket.Problem,
		Diagnosis:        ticket.Diagnosis,
		StatusID:         int(ticket.Status),
		StatusName:       ticket.Status.Name(),
		AssignedUserID:   ticket.AssignedUserID,
		IsWarranty:       ticket.IsWarranty,
		IsWet:            ticket.IsWet,
		EstimatedPrice:   ticket.EstimatedPrice,
		EstimatedMinutes: ticket.EstimatedTime,
		Images:           ticket.Images,
		CreatedAt:        ticket.CreatedAt,
		PromisedAt:       ticket.PromisedAt,
		StartedAt:        ticket.StartedAt,
		FinishedAt:       ticket.FinishedAt,
		UpdatedAt:        ticket.UpdatedAt,
	}
	for _, allocation := range ticket.Allocations {
		resp.Allocations = append(resp.Allocations, FromAllocation(&allocation))
	}
	return resp
}

// FromAllocation maps one allocation row.
func FromAllocation(allocation *domain.PartAllocation) AllocationResponse {
	return AllocationResponse{
		ID:          allocation.ID,
		SparePartID: allocation.SparePartID,
		Quantity:    allocation.Quantity,
		AllocatedAt: allocation.AllocatedAt,
		Returned:    allocation.Returned,
		ReturnedAt:  allocation.ReturnedAt,
	}
}

// FromHistory maps one audit entry.
func FromHistory(entry *domain.TicketHistory) HistoryResponse {
	return HistoryResponse{
		ID:          entry.ID,
		ChangedByID: entry.ChangedByID,
		ChangeType:  string(entry.ChangeType),
		OldValue:    entry.OldValue,
		NewValue:    entry.NewValue,
		CreatedAt:   entry.CreatedAt,
	}
}
