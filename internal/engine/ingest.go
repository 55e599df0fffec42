package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"policyline/internal/audit"
	"policyline/internal/domain"
	"policyline/internal/repo"
	"policyline/internal/telemetry"
)

// IngestRequest is a policy decomposed into rules.
type IngestRequest struct {
	PolicyID string
	FileName *string
	Rules    []domain.Rule
	// ResetDB clears every policy, task and audit entry first. Destructive;
	// rejected unless ingest.allow_reset is set.
	ResetDB bool
}

func (req IngestRequest) validate() error {
	var problems []string
	if strings.TrimSpace(req.PolicyID) == "" {
		problems = append(problems, "policy_id is required")
	}
	seen := map[string]bool{}
	for i, r := range req.Rules {
		if strings.TrimSpace(r.RuleID) == "" {
			problems = append(problems, fmt.Sprintf("rules[%d].rule_id is required", i))
		} else if seen[r.RuleID] {
			problems = append(problems, fmt.Sprintf("rules[%d].rule_id %s is repeated", i, r.RuleID))
		}
		seen[r.RuleID] = true
		if strings.TrimSpace(string(r.ResponsibleRole)) == "" {
			problems = append(problems, fmt.Sprintf("rules[%d].responsible_role is required", i))
		}
	}
	if len(problems) > 0 {
		return invalid(problems...)
	}
	return nil
}

// Ingest stores the policy and one CREATED task per rule, in rule order, with
// a TASK_CREATED audit entry per task. Everything runs in one transaction.
func (e Engine) Ingest(ctx context.Context, req IngestRequest) (tasks []domain.Task, err error) {
	ctx, span := e.telemetry().Start(ctx, "ingest", attribute.String("policy_id", req.PolicyID))
	defer func() { telemetry.End(span, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.ResetDB && e.Config != nil && !e.Config.Ingest.AllowReset {
		return nil, invalid("reset_db is disabled by ingest.allow_reset")
	}

	now := e.now()
	policy := domain.Policy{
		PolicyID:  req.PolicyID,
		FileName:  req.FileName,
		Rules:     req.Rules,
		RuleCount: len(req.Rules),
		Status:    domain.PolicyStatusActive,
		CreatedAt: now,
	}
	tasks = make([]domain.Task, 0, len(req.Rules))
	ids := make([]string, 0, len(req.Rules))
	for _, r := range req.Rules {
		deadline := domain.NotSpecified
		if r.Deadline != nil && *r.Deadline != "" {
			deadline = *r.Deadline
		}
		id := e.newID()
		ids = append(ids, id)
		tasks = append(tasks, domain.Task{
			TaskID:       id,
			PolicyID:     req.PolicyID,
			RuleID:       r.RuleID,
			TaskName:     "Execute rule " + r.RuleID,
			AssignedRole: r.ResponsibleRole,
			Status:       domain.StatusCreated,
			Deadline:     deadline,
			FileName:     req.FileName,
		})
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, e.fail(ctx, "begin ingest", err)
	}
	defer tx.Rollback()

	if req.ResetDB {
		if err := e.Repo.Reset(ctx, tx); err != nil {
			return nil, e.fail(ctx, "reset", err)
		}
		e.log().WarnContext(ctx, "storage reset before ingestion", "policy_id", req.PolicyID)
	}
	exists, err := e.Repo.PolicyExists(ctx, tx, req.PolicyID)
	if err != nil {
		return nil, e.fail(ctx, "check policy", err)
	}
	if exists {
		return nil, fmt.Errorf("policy %s: %w", req.PolicyID, ErrPolicyExists)
	}
	if err := e.Repo.InsertPolicy(ctx, tx, policy); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, fmt.Errorf("policy %s: %w", req.PolicyID, ErrPolicyExists)
		}
		return nil, e.fail(ctx, "insert policy", err)
	}
	if len(tasks) > 0 {
		if err := e.Repo.InsertTasks(ctx, tx, now, tasks); err != nil {
			return nil, e.fail(ctx, "insert tasks", err)
		}
		if _, err := e.recorder().RecordBatch(ctx, tx, ids, audit.ActionTaskCreated, domain.RoleSystem); err != nil {
			return nil, e.fail(ctx, "insert audit logs", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, e.fail(ctx, "commit ingest", err)
	}

	if req.ResetDB {
		e.telemetry().Reset(ctx)
	}
	e.telemetry().TasksCreated(ctx, len(tasks), req.PolicyID)
	e.log().InfoContext(ctx, "policy ingested", "policy_id", req.PolicyID, "tasks", len(tasks), "reset", req.ResetDB)
	return tasks, nil
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}
