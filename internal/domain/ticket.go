package domain

import "time"

// TicketStatus enumerates lifecycle states for repair tickets. The numeric ids
// are part of the stored contract and must not be reordered.
type TicketStatus int

const (
	StatusReceived         TicketStatus = 1  // Ingresado
	StatusTaken            TicketStatus = 2  // Tomado
	StatusInProgress       TicketStatus = 3  // En Proceso
	StatusPaused           TicketStatus = 4  // Pausado
	StatusRepaired         TicketStatus = 5  // Finalizado OK
	StatusUnrepairable     TicketStatus = 6  // Irreparable
	StatusDiagnosed        TicketStatus = 7  // Diagnosticado - Esperando Cliente
	StatusAwaitingApproval TicketStatus = 8  // Esperando Confirmación
	StatusAwaitingParts    TicketStatus = 9  // Esperando Repuestos
	StatusDelivered        TicketStatus = 10 // Entregado
)

var statusNames = map[TicketStatus]string{
	StatusReceived:         "Ingresado",
	StatusTaken:            "Tomado",
	StatusInProgress:       "En Proceso",
	StatusPaused:           "Pausado",
	StatusRepaired:         "Finalizado OK",
	StatusUnrepairable:     "Irreparable",
	StatusDiagnosed:        "Diagnosticado - Esperando Cliente",
	StatusAwaitingApproval: "Esperando Confirmación",
	StatusAwaitingParts:    "Esperando Repuestos",
	StatusDelivered:        "Entregado",
}

// Name returns the human-facing label for the status.
func (s TicketStatus) Name() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Desconocido"
}

// Valid reports whether s is one of the enumerated statuses.
func (s TicketStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further transition is permitted from s.
func (s TicketStatus) Terminal() bool {
	return s == StatusRepaired || s == StatusUnrepairable || s == StatusDelivered
}

// Ticket is the aggregate for repair work orders.
type Ticket struct {
	ID             string
	TicketNumber   string
	BranchID       string
	CustomerID     string
	DeviceBrand    string
	DeviceModel    string
	Problem        string
	Diagnosis      *string
	Status         TicketStatus
	AssignedUserID *string
	IsWarranty     bool
	IsWet          bool
	EstimatedPrice *float64
	EstimatedTime  *int // minutes, nil until work is planned
	Images         []string
	CreatedAt      time.Time
	PromisedAt     time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	UpdatedAt      time.Time

	Allocations []PartAllocation
}

// Overdue reports whether the promised deadline has passed while the ticket is
// still in a non-terminal status.
func (t *Ticket) Overdue(now time.Time) bool {
	if t.Status.Terminal() {
		return false
	}
	return now.After(t.PromisedAt)
}

// AssignedTo reports whether the ticket is currently owned by userID.
func (t *Ticket) AssignedTo(userID string) bool {
	return t.AssignedUserID != nil && *t.AssignedUserID == userID
}
