package engine

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"policyline/internal/audit"
	"policyline/internal/domain"
	"policyline/internal/lifecycle"
	"policyline/internal/telemetry"
)

// Transition moves a task to newStatus along the transition table and records
// a STATUS_UPDATE entry in the same transaction. The returned task is re-read
// after commit.
func (e Engine) Transition(ctx context.Context, taskID, newStatus string, actor domain.Role) (task domain.Task, err error) {
	ctx, span := e.telemetry().Start(ctx, "transition", attribute.String("task_id", taskID), attribute.String("to", newStatus))
	defer func() { telemetry.End(span, err) }()

	to, err := domain.ParseStatus(newStatus)
	if err != nil {
		return domain.Task{}, invalid(err.Error())
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cur, err := e.GetTask(ctx, taskID)
		if err != nil {
			return domain.Task{}, err
		}
		if !lifecycle.Transitions.CanTransition(cur.Status, to) {
			return domain.Task{}, &InvalidTransitionError{From: cur.Status, To: to}
		}
		applied, err := e.applyOnce(ctx, "transition", func(tx *sql.Tx) (bool, error) {
			ok, err := e.Repo.SetStatusIf(ctx, tx, taskID, cur.Status, to)
			if err != nil || !ok {
				return ok, err
			}
			_, err = e.recorder().Record(ctx, tx, taskID, audit.StatusUpdateAction(cur.Status, to), actor)
			return true, err
		})
		if err != nil {
			return domain.Task{}, err
		}
		if !applied {
			e.log().DebugContext(ctx, "transition lost race", "task_id", taskID, "attempt", attempt)
			continue
		}
		e.telemetry().Transition(ctx, string(cur.Status), string(to))
		e.log().InfoContext(ctx, "task transitioned", "task_id", taskID, "from", cur.Status, "to", to, "actor", actor)
		return e.GetTask(ctx, taskID)
	}
	return domain.Task{}, fmt.Errorf("task %s: %w", taskID, ErrConflict)
}

// Escalate reassigns a task one step up the escalation path and forces its
// status to ESCALATED, whatever the current status is.
func (e Engine) Escalate(ctx context.Context, taskID string, actor domain.Role) (task domain.Task, err error) {
	ctx, span := e.telemetry().Start(ctx, "escalate", attribute.String("task_id", taskID))
	defer func() { telemetry.End(span, err) }()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cur, err := e.GetTask(ctx, taskID)
		if err != nil {
			return domain.Task{}, err
		}
		next, ok := e.escalation().Next(cur.AssignedRole)
		if !ok {
			return domain.Task{}, &EscalationNotAllowedError{Role: cur.AssignedRole}
		}
		applied, err := e.applyOnce(ctx, "escalate", func(tx *sql.Tx) (bool, error) {
			ok, err := e.Repo.ReassignIf(ctx, tx, taskID, cur.AssignedRole, next, domain.StatusEscalated)
			if err != nil || !ok {
				return ok, err
			}
			_, err = e.recorder().Record(ctx, tx, taskID, audit.EscalationAction(cur.AssignedRole, next), actor)
			return true, err
		})
		if err != nil {
			return domain.Task{}, err
		}
		if !applied {
			e.log().DebugContext(ctx, "escalation lost race", "task_id", taskID, "attempt", attempt)
			continue
		}
		e.telemetry().Escalation(ctx, next.String())
		e.log().InfoContext(ctx, "task escalated", "task_id", taskID, "from", cur.AssignedRole, "to", next, "prior_status", cur.Status, "actor", actor)
		return e.GetTask(ctx, taskID)
	}
	return domain.Task{}, fmt.Errorf("task %s: %w", taskID, ErrConflict)
}

// applyOnce runs fn in a transaction and commits only when fn applied its
// write. A false result means the compare-and-set matched no row.
func (e Engine) applyOnce(ctx context.Context, op string, fn func(tx *sql.Tx) (bool, error)) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, e.fail(ctx, "begin "+op, err)
	}
	defer tx.Rollback()
	applied, err := fn(tx)
	if err != nil {
		return false, e.fail(ctx, op, err)
	}
	if !applied {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, e.fail(ctx, "commit "+op, err)
	}
	return true, nil
}
