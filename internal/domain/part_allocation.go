package domain

import "time"

// SparePart is an inventory item reservable against tickets.
type SparePart struct {
	ID        string
	BranchID  string
	Name      string
	Code      string
	Stock     int
	UnitPrice float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PartAllocation reserves spare-part units for a ticket. Stock decremented at
// allocation time is restored exactly once when Returned flips to true.
type PartAllocation struct {
	ID          string
	TicketID    string
	SparePartID string
	Quantity    int
	AllocatedAt time.Time
	Returned    bool
	ReturnedAt  *time.Time
}
