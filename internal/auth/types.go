package auth

import "errors"

// Role is the access level a token grants.
type Role string

// Role constants.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
)

// Permission represents a named capability of the API.
type Permission string

// Permission constants.
const (
	PermRead   Permission = "bridge:read"
	PermReload Permission = "bridge:reload"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer:   {PermRead},
	RoleOperator: {PermRead, PermReload},
}

// ParseRole converts a role name, rejecting unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := rolePermissions[r]; !ok {
		return "", ErrUnknownRole
	}
	return r, nil
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrSecretShort  = errors.New("jwt secret is too short")
	ErrUnknownRole  = errors.New("unknown role")
	ErrForbidden    = errors.New("insufficient permissions")
)
