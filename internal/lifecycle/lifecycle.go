// Package lifecycle holds the task transition table and the role escalation
// ladder. Both are immutable values; nothing in this package touches storage.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"policyline/internal/domain"
)

// Table maps a status to the statuses a normal transition may move it to.
type Table struct {
	next map[domain.Status][]domain.Status
}

// Transitions is the task status table. COMPLETED and ESCALATED are terminal.
var Transitions = Table{next: map[domain.Status][]domain.Status{
	domain.StatusCreated:    {domain.StatusAssigned},
	domain.StatusAssigned:   {domain.StatusInProgress},
	domain.StatusInProgress: {domain.StatusCompleted, domain.StatusEscalated},
	domain.StatusCompleted:  {},
	domain.StatusEscalated:  {},
}}

// Allowed returns a copy of the statuses reachable in one step from s.
func (t Table) Allowed(s domain.Status) []domain.Status {
	out := make([]domain.Status, len(t.next[s]))
	copy(out, t.next[s])
	return out
}

func (t Table) CanTransition(from, to domain.Status) bool {
	for _, s := range t.next[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (t Table) IsTerminal(s domain.Status) bool {
	return len(t.next[s]) == 0
}

// Reachable returns every status reachable from s in zero or more steps, s included.
func (t Table) Reachable(s domain.Status) []domain.Status {
	seen := map[domain.Status]bool{s: true}
	out := []domain.Status{s}
	for i := 0; i < len(out); i++ {
		for _, n := range t.next[out[i]] {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// EscalationPath is an ordered ladder of roles, lowest first.
type EscalationPath struct {
	ladder []domain.Role
}

// DefaultEscalationPath is Clerk -> Officer -> Admin.
var DefaultEscalationPath = EscalationPath{ladder: []domain.Role{"Clerk", "Officer", domain.RoleAdmin}}

// NewEscalationPath validates and copies a ladder. Role names are compared by key,
// so "clerk" and "Clerk" in the same ladder is a duplicate.
func NewEscalationPath(roles []string) (EscalationPath, error) {
	if len(roles) < 2 {
		return EscalationPath{}, errors.New("escalation path needs at least two roles")
	}
	seen := map[string]bool{}
	ladder := make([]domain.Role, 0, len(roles))
	for _, r := range roles {
		role := domain.Role(strings.TrimSpace(r))
		if role == "" {
			return EscalationPath{}, errors.New("escalation path contains an empty role")
		}
		if seen[role.Key()] {
			return EscalationPath{}, fmt.Errorf("escalation path repeats role %s", r)
		}
		seen[role.Key()] = true
		ladder = append(ladder, role)
	}
	return EscalationPath{ladder: ladder}, nil
}

// Next resolves the role one step above current. The returned role uses the
// ladder's spelling. ok is false for the top of the ladder and for unknown roles.
func (p EscalationPath) Next(current domain.Role) (domain.Role, bool) {
	for i, r := range p.ladder {
		if r.Equal(current) {
			if i+1 < len(p.ladder) {
				return p.ladder[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

// Roles returns a copy of the ladder.
func (p EscalationPath) Roles() []domain.Role {
	out := make([]domain.Role, len(p.ladder))
	copy(out, p.ladder)
	return out
}

func (p EscalationPath) IsZero() bool { return len(p.ladder) == 0 }

// Equal reports whether both ladders hold the same roles in the same order,
// compared by key.
func (p EscalationPath) Equal(other EscalationPath) bool {
	if len(p.ladder) != len(other.ladder) {
		return false
	}
	for i := range p.ladder {
		if !p.ladder[i].Equal(other.ladder[i]) {
			return false
		}
	}
	return true
}
