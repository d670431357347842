package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownRole = errors.New("auth: unknown role")

// Role is an authorisation tier. The vocabulary is closed.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// AllRoles lists every valid role.
var AllRoles = []Role{RoleAdmin, RoleUser}

// Valid reports whether r belongs to the known vocabulary.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

// ParseRole accepts "admin", "ADMIN" and the "ROLE_ADMIN" spelling.
func ParseRole(s string) (Role, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.TrimPrefix(norm, "ROLE_")
	r := Role(norm)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// ParseRoles parses, de-duplicates and sorts a role list.
func ParseRoles(values []string) ([]Role, error) {
	out := make([]Role, 0, len(values))
	for _, v := range values {
		r, err := ParseRole(v)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return normalizeRoles(out), nil
}

// RoleStrings converts roles for storage or serialisation.
func RoleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func validRoles(roles []Role) bool {
	for _, r := range roles {
		if !r.Valid() {
			return false
		}
	}
	return true
}

func normalizeRoles(roles []Role) []Role {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[Role]struct{}, len(roles))
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Permission is a named capability checked by RequirePermission.
type Permission string

const (
	PermProfileRead Permission = "profile:read"
	PermUserRead    Permission = "user:read"
	PermUserManage  Permission = "user:manage"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermProfileRead,
	},
	RoleAdmin: {
		PermProfileRead,
		PermUserRead,
		PermUserManage,
	},
}

// HasPermission reports whether any of roles grants perm.
func HasPermission(roles []Role, perm Permission) bool {
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			if p == perm {
				return true
			}
		}
	}
	return false
}
