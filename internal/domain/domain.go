package domain

import (
	"fmt"
	"time"

	"golang.org/x/text/cases"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusEscalated  Status = "ESCALATED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusCreated, StatusAssigned, StatusInProgress, StatusCompleted, StatusEscalated}

// ParseStatus matches s against the status enum exactly. "created" is not a status.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Role is a free-text organizational role name compared case-insensitively.
// The stored value keeps the caller's spelling; Key is the only comparison form.
type Role string

// Key returns the case-folded form used for every role comparison.
func (r Role) Key() string {
	return cases.Fold().String(string(r))
}

func (r Role) Equal(other Role) bool {
	return r.Key() == other.Key()
}

// IsAdmin reports whether r is the admin role, which sees every task.
func (r Role) IsAdmin() bool {
	return r.Key() == RoleAdmin.Key()
}

func (r Role) String() string { return string(r) }

const (
	RoleAdmin  Role = "Admin"
	RoleSystem Role = "SYSTEM"
)

const (
	PolicyStatusActive = "ACTIVE"
	NotSpecified       = "Not specified"
)

type Rule struct {
	RuleID          string  `json:"rule_id"`
	Action          string  `json:"action"`
	ResponsibleRole Role    `json:"responsible_role"`
	Deadline        *string `json:"deadline,omitempty"`
}

type Policy struct {
	PolicyID  string    `json:"policy_id"`
	FileName  *string   `json:"file_name,omitempty"`
	Rules     []Rule    `json:"rules"`
	RuleCount int       `json:"rule_count"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type Task struct {
	TaskID       string  `json:"task_id"`
	PolicyID     string  `json:"policy_id"`
	RuleID       string  `json:"rule_id"`
	TaskName     string  `json:"task_name"`
	AssignedRole Role    `json:"assigned_role"`
	Status       Status  `json:"status"`
	Deadline     string  `json:"deadline"`
	FileName     *string `json:"file_name,omitempty"`
}

// AuditLog is an append-only record of a task mutation.
type AuditLog struct {
	ID              int64     `json:"id"`
	TaskID          string    `json:"task_id"`
	Action          string    `json:"action"`
	PerformedByRole Role      `json:"performed_by_role"`
	Timestamp       time.Time `json:"timestamp" format:"date-time"`
}

// Activity is a dashboard-facing view of an audit entry.
type Activity struct {
	ID          string `json:"id"`
	Type        string `json:"type" enum:"upload,processing,approval"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
	User        string `json:"user"`
	Status      string `json:"status"`
}

// PartialPolicy is a policy whose stored tasks do not cover all of its rules.
type PartialPolicy struct {
	PolicyID  string    `json:"policy_id"`
	RuleCount int       `json:"rule_count"`
	TaskCount int       `json:"task_count"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}
