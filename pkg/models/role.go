// Package models holds the core domain types shared across the runtime:
// roles, scratchpad steps, conversation turns, and queue events.
package models

import (
	"fmt"
	"strings"
	"sync"
)

// Role is a routable label naming a cohort of agents that share
// responsibilities. A role is a value, not a type: multiple agents may carry
// the same role, and new roles may be registered at team-configuration time.
// Equality is plain string equality.
type Role string

// Built-in roles. Team configurations may register additional ones.
const (
	RolePlanner     Role = "planner"
	RoleResearcher  Role = "researcher"
	RoleCoder       Role = "coder"
	RoleReporter    Role = "reporter"
	RoleCoordinator Role = "coordinator"
	RoleTeamLeader  Role = "team_leader"
	RoleTranslator  Role = "translator"
	RoleGeneral     Role = "general"
)

var (
	rolesMu sync.RWMutex
	roles   = map[Role]struct{}{
		RolePlanner:     {},
		RoleResearcher:  {},
		RoleCoder:       {},
		RoleReporter:    {},
		RoleCoordinator: {},
		RoleTeamLeader:  {},
		RoleTranslator:  {},
		RoleGeneral:     {},
	}
)

// RegisterRole adds a role to the process-wide set. Labels are canonicalized
// to lowercase with surrounding whitespace removed. Registering an existing
// role is a no-op.
func RegisterRole(label string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(label)))
	if r == "" {
		return "", fmt.Errorf("role label must not be empty")
	}
	if strings.ContainsAny(string(r), " \t\n") {
		return "", fmt.Errorf("role label %q must not contain whitespace", label)
	}
	rolesMu.Lock()
	roles[r] = struct{}{}
	rolesMu.Unlock()
	return r, nil
}

// KnownRole reports whether the role has been registered (built-in or via
// RegisterRole).
func KnownRole(r Role) bool {
	rolesMu.RLock()
	defer rolesMu.RUnlock()
	_, ok := roles[r]
	return ok
}

// SameRole compares two roles ignoring case. Storage and key construction
// always use the configured value verbatim; case folding happens only at
// inbound comparison boundaries.
func SameRole(a, b Role) bool {
	return strings.EqualFold(string(a), string(b))
}

func (r Role) String() string { return string(r) }
