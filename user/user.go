// Package user is the identity record the escrow engine reads: who is paying,
// who is paid, and which account collects the platform fee.
package user

import (
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/types"
)

// Role is the account type on the marketplace.
type Role string

const (
	RoleClient    Role = "client"
	RoleParalegal Role = "paralegal"
	RoleLawyer    Role = "lawyer"
	RoleCorporate Role = "corporate"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleParalegal, RoleLawyer, RoleCorporate, RoleAdmin:
		return true
	}
	return false
}

// Expert reports whether the role can be assigned to a case as payee.
func (r Role) Expert() bool { return r == RoleParalegal || r == RoleLawyer }

// User is a marketplace account.
type User struct {
	types.Entity
	ID    id.UserID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  Role      `json:"role"`
}
