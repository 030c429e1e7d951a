package domain

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// Role is the tag that says which principal record set an id belongs to.
// Ids are only unique within a role.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleStaff         Role = "staff"
	RolePrimaryUser   Role = "primary_user"
	RoleGuardian      Role = "guardian"
)

// ErrUnknownRole is returned by ParseRole for anything outside the four kinds.
var ErrUnknownRole = errors.New("unknown_role")

// Roles returns every role in identifier-lookup precedence order.
func Roles() []Role {
	return []Role{RoleAdministrator, RoleStaff, RolePrimaryUser, RoleGuardian}
}

// ParseRole accepts the canonical tags plus the school-facing aliases.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "administrator", "admin":
		return RoleAdministrator, nil
	case "staff", "teacher":
		return RoleStaff, nil
	case "primary_user", "student":
		return RolePrimaryUser, nil
	case "guardian", "parent":
		return RoleGuardian, nil
	default:
		return "", ErrUnknownRole
	}
}

// Valid reports whether r is one of the four canonical tags.
func (r Role) Valid() bool {
	return slices.Contains(Roles(), r)
}

func (r Role) String() string { return string(r) }

// Principal is an identity of one of the four kinds. Kind-specific fields
// (class, department, relation) are carried opaquely in Attributes.
type Principal struct {
	Role        Role
	ID          string
	Identifier  string // email, unique within Role
	SecretHash  string
	DisplayName string
	Active      bool
	Attributes  map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key is the role-qualified id, unique across all kinds.
func (p Principal) Key() string {
	return string(p.Role) + ":" + p.ID
}

// NormalizeIdentifier trims and lower-cases an identifier before lookup or
// storage.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
