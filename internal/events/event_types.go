package events

import (
	"time"

	"github.com/spec-kit/repair-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated     EventType = "ticket_created"
	EventTicketTaken       EventType = "ticket_taken"
	EventRepairStarted     EventType = "repair_started"
	EventRepairPaused      EventType = "repair_paused"
	EventRepairFinished    EventType = "repair_finished"
	EventTicketTransferred EventType = "ticket_transferred"
	EventTicketDelivered   EventType = "ticket_delivered"
	EventPartsAllocated    EventType = "parts_allocated"
	EventPartReturned      EventType = "part_returned"
)

// Event represents a domain event emitted by services. Emission is
// fire-and-forget: handlers never feed back into the synchronous contract.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	ActorID   string      `json:"actor_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TicketNumber string    `json:"ticket_number"`
	BranchID     string    `json:"branch_id"`
	PromisedAt   time.Time `json:"promised_at"`
}

// StatusChangedPayload accompanies every transition event.
type StatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketTakenPayload payload.
type TicketTakenPayload struct {
	TechnicianID string `json:"technician_id"`
	PartsCount   int    `json:"parts_count"`
}

// RepairStartedPayload payload.
type RepairStartedPayload struct {
	EstimatedMinutes int       `json:"estimated_minutes"`
	PromisedAt       time.Time `json:"promised_at"`
}

// RepairFinishedPayload payload.
type RepairFinishedPayload struct {
	Outcome        domain.TicketStatus `json:"outcome"`
	PartsReturned  int                 `json:"parts_returned"`
	DiagnosisShort string              `json:"diagnosis_short"`
}

// TicketTransferredPayload payload.
type TicketTransferredPayload struct {
	FromTechnicianID string `json:"from_technician_id"`
	ToTechnicianID   string `json:"to_technician_id"`
}

// PartsAllocatedPayload payload.
type PartsAllocatedPayload struct {
	SparePartID string `json:"spare_part_id"`
	Quantity    int    `json:"quantity"`
}

// PartReturnedPayload payload.
type PartReturnedPayload struct {
	AllocationID string `json:"allocation_id"`
	SparePartID  string `json:"spare_part_id"`
	Quantity     int    `json:"quantity"`
}
