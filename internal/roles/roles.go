// Package roles provides capability checks for restricted ledger entry points.
//
// Roles are not an inheritance hierarchy: a Policy is an injected predicate
// over (caller identity, required role), so restricted operations stay testable
// without standing up real authentication.
package roles

import (
	"errors"
	"fmt"
)

// Role identifies a capability required by a restricted operation
type Role string

const (
	// RoleRouter - the request router, sole caller of mutating ledger entry points
	RoleRouter Role = "router"
	// RoleManager - the strategy manager, may adjust prices and ready-at offsets
	RoleManager Role = "manager"
	// RoleUpgrader - reserved for adapter-registry version bumps
	RoleUpgrader Role = "upgrader"
)

// ErrForbidden is returned when a caller lacks the required role
var ErrForbidden = errors.New("forbidden")

// Policy decides whether a caller holds a role
type Policy interface {
	Check(caller string, role Role) error
}

// StaticPolicy maps fixed caller identities to roles.
// Caller identities are opaque strings; the HTTP layer resolves bearer
// tokens to identities before they reach here.
type StaticPolicy struct {
	grants map[Role][]string
}

// NewStaticPolicy creates a policy with fixed role grants
func NewStaticPolicy() *StaticPolicy {
	return &StaticPolicy{grants: make(map[Role][]string)}
}

// Grant adds a caller identity to a role
func (p *StaticPolicy) Grant(role Role, caller string) *StaticPolicy {
	p.grants[role] = append(p.grants[role], caller)
	return p
}

// Check returns nil if the caller holds the role
func (p *StaticPolicy) Check(caller string, role Role) error {
	for _, granted := range p.grants[role] {
		if granted == caller && caller != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: caller is not %s", ErrForbidden, role)
}
