// Package stats computes dashboard counts over stored policies and tasks.
// Every call reads storage fresh.
package stats

import (
	"context"

	"policyline/internal/domain"
	"policyline/internal/repo"
)

// GlobalStats summarizes every stored policy and task.
type GlobalStats struct {
	TotalPolicies     int `json:"total_policies"`
	ActivePolicies    int `json:"active_policies"`
	CompletedPolicies int `json:"completed_policies"`
	PendingPolicies   int `json:"pending_policies"`
	TotalTasks        int `json:"total_tasks"`
	CreatedTasks      int `json:"created_tasks"`
	AssignedTasks     int `json:"assigned_tasks"`
	InProgressTasks   int `json:"in_progress_tasks"`
	CompletedTasks    int `json:"completed_tasks"`
	EscalatedTasks    int `json:"escalated_tasks"`
}

type PolicyStats struct {
	PolicyID              string                `json:"policy_id"`
	TotalTasks            int                   `json:"total_tasks"`
	CompletedTasks        int                   `json:"completed_tasks"`
	CompletionRatePercent int                   `json:"completion_rate_percent"`
	TasksByStatus         map[domain.Status]int `json:"tasks_by_status"`
	TasksByRole           map[string]int        `json:"tasks_by_role"`
}

type Aggregator struct {
	Repo repo.Repo
}

func (a Aggregator) Global(ctx context.Context) (GlobalStats, error) {
	pc, err := a.Repo.CountPolicies(ctx)
	if err != nil {
		return GlobalStats{}, err
	}
	byStatus, err := a.Repo.CountTasksByStatus(ctx, "")
	if err != nil {
		return GlobalStats{}, err
	}
	g := GlobalStats{
		TotalPolicies:     pc.Total,
		ActivePolicies:    pc.Active,
		CompletedPolicies: pc.Completed,
		PendingPolicies:   pc.Total - pc.Active,
		CreatedTasks:      byStatus[domain.StatusCreated],
		AssignedTasks:     byStatus[domain.StatusAssigned],
		InProgressTasks:   byStatus[domain.StatusInProgress],
		CompletedTasks:    byStatus[domain.StatusCompleted],
		EscalatedTasks:    byStatus[domain.StatusEscalated],
	}
	for _, n := range byStatus {
		g.TotalTasks += n
	}
	return g, nil
}

// Policy returns counts for one policy. An unknown id yields zero counts.
func (a Aggregator) Policy(ctx context.Context, policyID string) (PolicyStats, error) {
	byStatus, err := a.Repo.CountTasksByStatus(ctx, policyID)
	if err != nil {
		return PolicyStats{}, err
	}
	byRole, err := a.Repo.CountTasksByRole(ctx, policyID)
	if err != nil {
		return PolicyStats{}, err
	}
	p := PolicyStats{
		PolicyID:      policyID,
		TasksByStatus: make(map[domain.Status]int, len(domain.Statuses)),
		TasksByRole:   byRole,
	}
	for _, s := range domain.Statuses {
		p.TasksByStatus[s] = byStatus[s]
	}
	for _, n := range byStatus {
		p.TotalTasks += n
	}
	p.CompletedTasks = byStatus[domain.StatusCompleted]
	p.CompletionRatePercent = CompletionRate(p.CompletedTasks, p.TotalTasks)
	return p, nil
}

// CompletionRate is floor(100*completed/total), 0 when total is 0.
func CompletionRate(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return 100 * completed / total
}
