package server

import (
	"time"

	"policyline/internal/domain"
	"policyline/internal/engine"
)

// Request payloads

type RuleRequest struct {
	RuleID          string  `json:"rule_id" minLength:"1"`
	Action          string  `json:"action"`
	ResponsibleRole string  `json:"responsible_role" minLength:"1"`
	Deadline        *string `json:"deadline,omitempty"`
}

type IngestPolicyRequest struct {
	PolicyID string        `json:"policy_id" minLength:"1"`
	FileName *string       `json:"file_name,omitempty"`
	Rules    []RuleRequest `json:"rules"`
	ResetDB  bool          `json:"reset_db,omitempty" doc:"Delete every policy, task and audit entry before ingesting"`
}

type UpdateStatusRequest struct {
	NewStatus string `json:"new_status" enum:"CREATED,ASSIGNED,IN_PROGRESS,COMPLETED,ESCALATED"`
	Role      string `json:"role" minLength:"1"`
}

type EscalateRequest struct {
	Role string `json:"role" minLength:"1"`
}

// Response payloads

type AuditLogResponse struct {
	ID              int64     `json:"id"`
	TaskID          string    `json:"task_id"`
	Action          string    `json:"action"`
	PerformedByRole string    `json:"performed_by_role"`
	Timestamp       time.Time `json:"timestamp" format:"date-time"`
	DisplayTime     string    `json:"display_time" example:"14:05" doc:"Timestamp as HH:MM (UTC)"`
}

func (r IngestPolicyRequest) toEngine() engine.IngestRequest {
	rules := make([]domain.Rule, 0, len(r.Rules))
	for _, rr := range r.Rules {
		rules = append(rules, domain.Rule{
			RuleID:          rr.RuleID,
			Action:          rr.Action,
			ResponsibleRole: domain.Role(rr.ResponsibleRole),
			Deadline:        rr.Deadline,
		})
	}
	return engine.IngestRequest{
		PolicyID: r.PolicyID,
		FileName: r.FileName,
		Rules:    rules,
		ResetDB:  r.ResetDB,
	}
}

func auditLogResponse(l domain.AuditLog) AuditLogResponse {
	return AuditLogResponse{
		ID:              l.ID,
		TaskID:          l.TaskID,
		Action:          l.Action,
		PerformedByRole: l.PerformedByRole.String(),
		Timestamp:       l.Timestamp,
		DisplayTime:     l.Timestamp.UTC().Format("15:04"),
	}
}

func mapAuditLogs(items []domain.AuditLog) []AuditLogResponse {
	out := make([]AuditLogResponse, 0, len(items))
	for _, l := range items {
		out = append(out, auditLogResponse(l))
	}
	return out
}
