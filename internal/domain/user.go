package domain

import "time"

// Role enumerates workshop staff roles.
type Role string

const (
	RoleAdmin        Role = "ADMIN"
	RoleTechnician   Role = "TECHNICIAN"
	RoleReceptionist Role = "RECEPTIONIST"
)

// User is a workshop employee account.
type User struct {
	ID           string
	BranchID     string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanRepair reports whether the user may claim and work tickets.
func (u *User) CanRepair() bool {
	return u.Active && (u.Role == RoleTechnician || u.Role == RoleAdmin)
}
