package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"policyline/internal/activity"
	"policyline/internal/audit"
	"policyline/internal/config"
	"policyline/internal/domain"
	"policyline/internal/lifecycle"
	"policyline/internal/logging"
	"policyline/internal/repo"
	"policyline/internal/stats"
	"policyline/internal/telemetry"
)

const (
	DefaultAuditLimit    = 50
	DefaultActivityLimit = 20
	// maxAttempts bounds compare-and-set retries on a contended task.
	maxAttempts = 3
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Config     *config.Config
	Escalation lifecycle.EscalationPath
	Log        *slog.Logger
	Telemetry  *telemetry.Instruments
	Now        func() time.Time
	NewID      func() string
}

func New(db *sql.DB, dialect repo.Dialect, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	path, err := cfg.EscalationPath()
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db, Dialect: dialect},
		Config:     cfg,
		Escalation: path,
		Log:        logging.Discard(),
		Telemetry:  telemetry.Noop(),
		Now:        time.Now,
		NewID:      uuid.NewString,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// recorder shares the engine clock so audit timestamps follow Now.
func (e Engine) recorder() audit.Recorder {
	return audit.Recorder{Repo: e.Repo, Now: e.now}
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logging.Discard()
}

func (e Engine) telemetry() *telemetry.Instruments {
	if e.Telemetry != nil {
		return e.Telemetry
	}
	return telemetry.Noop()
}

func (e Engine) escalation() lifecycle.EscalationPath {
	if e.Escalation.IsZero() {
		return lifecycle.DefaultEscalationPath
	}
	return e.Escalation
}

// fail logs a storage failure and wraps it.
func (e Engine) fail(ctx context.Context, op string, err error) error {
	e.log().ErrorContext(ctx, "storage failure", "op", op, "err", err)
	return storage(op, err)
}

func (e Engine) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return domain.Task{}, e.fail(ctx, "get task", err)
	}
	return t, nil
}

type TaskQuery struct {
	// Role filters by assigned role, case-insensitively. Admin sees every task.
	Role     domain.Role
	PolicyID string
	Status   string
	Limit    int
}

func (e Engine) ListTasks(ctx context.Context, q TaskQuery) ([]domain.Task, error) {
	f := repo.TaskFilters{PolicyID: q.PolicyID, Limit: q.Limit}
	if strings.TrimSpace(string(q.Role)) == "" {
		return nil, invalid("role is required")
	}
	if !q.Role.IsAdmin() {
		f.RoleKey = q.Role.Key()
	}
	if q.Status != "" {
		s, err := domain.ParseStatus(q.Status)
		if err != nil {
			return nil, invalid(err.Error())
		}
		f.Status = s
	}
	tasks, err := e.Repo.ListTasks(ctx, f)
	if err != nil {
		return nil, e.fail(ctx, "list tasks", err)
	}
	return tasks, nil
}

// TaskHistory returns the audit trail of one task, oldest first.
func (e Engine) TaskHistory(ctx context.Context, taskID string) ([]domain.AuditLog, error) {
	if _, err := e.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	logs, err := e.Repo.ListAudit(ctx, repo.AuditFilters{TaskID: taskID, Ascending: true})
	if err != nil {
		return nil, e.fail(ctx, "task history", err)
	}
	return logs, nil
}

// AuditLogs returns the newest entries first. limit <= 0 uses DefaultAuditLimit.
func (e Engine) AuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	logs, err := e.Repo.ListAudit(ctx, repo.AuditFilters{Limit: limit})
	if err != nil {
		return nil, e.fail(ctx, "list audit logs", err)
	}
	return logs, nil
}

// RecentActivity derives the feed from the newest audit entries.
func (e Engine) RecentActivity(ctx context.Context, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	logs, err := e.Repo.ListAudit(ctx, repo.AuditFilters{Limit: limit})
	if err != nil {
		return nil, e.fail(ctx, "recent activity", err)
	}
	return activity.FromAudit(logs, e.now()), nil
}

func (e Engine) GetPolicy(ctx context.Context, policyID string) (domain.Policy, error) {
	p, err := e.Repo.GetPolicy(ctx, policyID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Policy{}, ErrPolicyNotFound
	}
	if err != nil {
		return domain.Policy{}, e.fail(ctx, "get policy", err)
	}
	return p, nil
}

func (e Engine) ListPolicies(ctx context.Context, limit int) ([]domain.Policy, error) {
	ps, err := e.Repo.ListPolicies(ctx, limit)
	if err != nil {
		return nil, e.fail(ctx, "list policies", err)
	}
	return ps, nil
}

// PartialPolicies lists policies stored with fewer tasks than rules.
func (e Engine) PartialPolicies(ctx context.Context) ([]domain.PartialPolicy, error) {
	ps, err := e.Repo.PartialPolicies(ctx)
	if err != nil {
		return nil, e.fail(ctx, "partial policies", err)
	}
	return ps, nil
}

func (e Engine) GlobalStats(ctx context.Context) (stats.GlobalStats, error) {
	g, err := stats.Aggregator{Repo: e.Repo}.Global(ctx)
	if err != nil {
		return stats.GlobalStats{}, e.fail(ctx, "global stats", err)
	}
	return g, nil
}

func (e Engine) PolicyStats(ctx context.Context, policyID string) (stats.PolicyStats, error) {
	p, err := stats.Aggregator{Repo: e.Repo}.Policy(ctx, policyID)
	if err != nil {
		return stats.PolicyStats{}, e.fail(ctx, "policy stats", err)
	}
	return p, nil
}
