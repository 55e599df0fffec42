// Package activity derives the dashboard feed from audit entries.
package activity

import (
	"fmt"
	"strconv"
	"time"

	"policyline/internal/audit"
	"policyline/internal/domain"
)

const (
	TypeUpload     = "upload"
	TypeProcessing = "processing"
	TypeApproval   = "approval"
)

// FromAudit maps entries, in their given order, to feed rows aged relative to now.
func FromAudit(logs []domain.AuditLog, now time.Time) []domain.Activity {
	out := make([]domain.Activity, 0, len(logs))
	for _, l := range logs {
		out = append(out, From(l, now))
	}
	return out
}

func From(l domain.AuditLog, now time.Time) domain.Activity {
	user := l.PerformedByRole.String()
	if user == "" {
		user = "System"
	}
	a := domain.Activity{
		ID:          strconv.FormatInt(l.ID, 10),
		Type:        TypeProcessing,
		Title:       "Task Action",
		Description: l.Action,
		Timestamp:   Age(now.Sub(l.Timestamp)),
		User:        user,
		Status:      "completed",
	}
	switch audit.Classify(l.Action) {
	case audit.KindCreated:
		a.Type = TypeUpload
		a.Title = "Task Created"
		a.Description = "New task created for " + user
	case audit.KindStatusUpdate:
		a.Title = "Task Status Updated"
	case audit.KindEscalation:
		a.Type = TypeApproval
		a.Title = "Task Escalated"
	}
	return a
}

// Age renders d as whole minutes under an hour, whole hours under a day,
// and whole days otherwise. Negative durations count as zero.
func Age(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d days ago", int(d/(24*time.Hour)))
	}
}
