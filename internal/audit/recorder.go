// Package audit appends entries to the task audit trail. Entries are write-once.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"policyline/internal/domain"
	"policyline/internal/repo"
)

const ActionTaskCreated = "TASK_CREATED"

func StatusUpdateAction(from, to domain.Status) string {
	return fmt.Sprintf("STATUS_UPDATE: %s -> %s", from, to)
}

func EscalationAction(from, to domain.Role) string {
	return fmt.Sprintf("ESCALATION: %s -> %s", from, to)
}

// Kind is the coarse classification of an action string.
type Kind string

const (
	KindCreated      Kind = "created"
	KindStatusUpdate Kind = "status_update"
	KindEscalation   Kind = "escalation"
	KindOther        Kind = "other"
)

// Classify matches by substring in the order CREATED, STATUS_UPDATE,
// ESCALATION. Any action mentioning CREATED is a creation, so
// "STATUS_UPDATE: CREATED -> ASSIGNED" classifies as KindCreated.
func Classify(action string) Kind {
	switch {
	case strings.Contains(action, "CREATED"):
		return KindCreated
	case strings.Contains(action, "STATUS_UPDATE"):
		return KindStatusUpdate
	case strings.Contains(action, "ESCALATION"):
		return KindEscalation
	default:
		return KindOther
	}
}

type Recorder struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (r Recorder) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

// Record appends one entry inside tx. The timestamp never precedes the latest
// entry already stored for the same task.
func (r Recorder) Record(ctx context.Context, tx *sql.Tx, taskID, action string, actor domain.Role) (domain.AuditLog, error) {
	ts := r.now().Truncate(time.Microsecond)
	latest, ok, err := r.Repo.LatestAuditTime(ctx, tx, taskID)
	if err != nil {
		return domain.AuditLog{}, fmt.Errorf("read latest audit time: %w", err)
	}
	if ok && ts.Before(latest) {
		ts = latest
	}
	l := domain.AuditLog{TaskID: taskID, Action: action, PerformedByRole: actor, Timestamp: ts}
	id, err := r.Repo.InsertAudit(ctx, tx, l)
	if err != nil {
		return domain.AuditLog{}, fmt.Errorf("insert audit log: %w", err)
	}
	l.ID = id
	return l, nil
}

// RecordBatch appends one entry per task with a shared timestamp. It is meant
// for freshly created tasks, which have no prior entries to be ordered after.
func (r Recorder) RecordBatch(ctx context.Context, tx *sql.Tx, taskIDs []string, action string, actor domain.Role) ([]domain.AuditLog, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	ts := r.now().Truncate(time.Microsecond)
	logs := make([]domain.AuditLog, len(taskIDs))
	for i, id := range taskIDs {
		logs[i] = domain.AuditLog{TaskID: id, Action: action, PerformedByRole: actor, Timestamp: ts}
	}
	if err := r.Repo.InsertAuditBatch(ctx, tx, logs); err != nil {
		return nil, fmt.Errorf("insert audit batch: %w", err)
	}
	return logs, nil
}
