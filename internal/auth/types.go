// Package auth gates API operations behind bearer tokens.
package auth

import (
	"errors"
	"time"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownRole  = errors.New("unknown role")
)

// Roles.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Resources and actions guarded by the gate.
const (
	ResourceServer = "server"
	ResourceJob    = "job"
	ResourceConfig = "config"

	ActionRead  = "read"
	ActionWrite = "write"
)

// Permission represents a permission in the system
type Permission struct {
	Resource string `json:"resource"` // e.g., "server", "job", "config"
	Action   string `json:"action"`   // e.g., "read", "write"
}

var rolePermissions = map[string][]Permission{
	RoleAdmin: {
		{Resource: "*", Action: "*"},
	},
	RoleOperator: {
		{Resource: ResourceServer, Action: ActionRead},
		{Resource: ResourceServer, Action: ActionWrite},
		{Resource: ResourceJob, Action: ActionRead},
		{Resource: ResourceJob, Action: ActionWrite},
		{Resource: ResourceConfig, Action: ActionRead},
	},
	RoleViewer: {
		{Resource: ResourceServer, Action: ActionRead},
		{Resource: ResourceJob, Action: ActionRead},
		{Resource: ResourceConfig, Action: ActionRead},
	},
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission checks if role grants action on resource.
func HasPermission(role, resource, action string) bool {
	for _, perm := range rolePermissions[role] {
		if (perm.Resource == "*" || perm.Resource == resource) &&
			(perm.Action == "*" || perm.Action == action) {
			return true
		}
	}
	return false
}

// Principal is the authenticated caller.
type Principal struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// Token represents a JWT token
type Token struct {
	Type      string    `json:"type"`  // "Bearer"
	Value     string    `json:"value"` // JWT token string
	ExpiresAt time.Time `json:"expires_at"`
}
