// SPDX-License-Identifier: Apache-2.0
package core

import "fmt"

// Role identifies the part an agent plays in a run.
type Role string

const (
	RoleSolver   Role = "solver"
	RoleCritic   Role = "critic"
	RoleExecutor Role = "executor"
	RoleHuman    Role = "human"
)

// Roles lists every role in turn order.
var Roles = []Role{RoleSolver, RoleCritic, RoleExecutor, RoleHuman}

// Persona returns the character name used for the role's prompt file.
func (r Role) Persona() string {
	switch r {
	case RoleSolver:
		return "wukong"
	case RoleCritic:
		return "pigsy"
	case RoleExecutor:
		return "friar"
	case RoleHuman:
		return "monk"
	default:
		return ""
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r.Persona() != ""
}

// ParseRole accepts a role name or a persona name.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if s == string(r) || s == r.Persona() {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// RoleManifest captures semantic role metadata for an agent.
type RoleManifest struct {
	Role           Role
	Persona        string
	Responsibility string
	Inputs         []string
	Outputs        []string
}

// RoleManifestProvider exposes role metadata for an agent.
type RoleManifestProvider interface {
	RoleManifest() RoleManifest
}
