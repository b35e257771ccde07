package auth

import (
	"fmt"
	"strings"

	"fleetops.org/internal/apperr"
)

// Role is the closed set of user roles. The zero value is not a valid role.
type Role string

const (
	RoleAdmin              Role = "ADMIN"
	RoleCSO                Role = "CSO"
	RoleDPA                Role = "DPA"
	RoleOps                Role = "OPS"
	RoleFinance            Role = "FINANCE"
	RoleComptabilite       Role = "COMPTABILITE"
	RoleDirectionTechnique Role = "DIRECTION_TECHNIQUE"
	RoleDirectionGenerale  Role = "DIRECTION_GENERALE"
	RoleCommercial         Role = "COMMERCIAL"

	RoleCapitaine      Role = "CAPITAINE"
	RoleChiefMate      Role = "CHIEF_MATE"
	RoleChefMecanicien Role = "CHEF_MECANICIEN"
	RoleSecond         Role = "SECOND"
	RoleYotna          Role = "YOTNA"
)

// Class partitions roles into office staff and crew.
type Class int

const (
	ClassUnknown Class = iota
	ClassShore
	ClassVessel
)

func (c Class) String() string {
	switch c {
	case ClassShore:
		return "shore"
	case ClassVessel:
		return "vessel"
	default:
		return "unknown"
	}
}

var roleClasses = map[Role]Class{
	RoleAdmin:              ClassShore,
	RoleCSO:                ClassShore,
	RoleDPA:                ClassShore,
	RoleOps:                ClassShore,
	RoleFinance:            ClassShore,
	RoleComptabilite:       ClassShore,
	RoleDirectionTechnique: ClassShore,
	RoleDirectionGenerale:  ClassShore,
	RoleCommercial:         ClassShore,
	RoleCapitaine:          ClassVessel,
	RoleChiefMate:          ClassVessel,
	RoleChefMecanicien:     ClassVessel,
	RoleSecond:             ClassVessel,
	RoleYotna:              ClassVessel,
}

// ShoreRoles lists office roles in declaration order.
func ShoreRoles() []Role {
	return []Role{RoleAdmin, RoleCSO, RoleDPA, RoleOps, RoleFinance, RoleComptabilite,
		RoleDirectionTechnique, RoleDirectionGenerale, RoleCommercial}
}

// VesselRoles lists crew roles in declaration order.
func VesselRoles() []Role {
	return []Role{RoleCapitaine, RoleChiefMate, RoleChefMecanicien, RoleSecond, RoleYotna}
}

// AllRoles lists every role, shore roles first.
func AllRoles() []Role {
	return append(ShoreRoles(), VesselRoles()...)
}

// ParseRole normalises s and rejects anything outside the closed set.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := roleClasses[r]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", apperr.ErrValidation, s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	_, ok := roleClasses[r]
	return ok
}

func (r Role) Class() Class { return roleClasses[r] }

func (r Role) IsShore() bool { return r.Class() == ClassShore }

func (r Role) IsVessel() bool { return r.Class() == ClassVessel }

func (r Role) String() string { return string(r) }

// DefaultRoute is where a role lands after login or after being denied a page.
func DefaultRoute(r Role) string {
	if r.IsVessel() {
		return "/purchase-requests"
	}
	return "/dashboard"
}
