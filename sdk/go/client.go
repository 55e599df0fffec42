// Package policylinesdk is a small client for the policyline HTTP API.
package policylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one policyline server.
type Client struct {
	BaseURL string
	// BasePath is the API prefix. Defaults to /v0.
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Rule struct {
	RuleID          string  `json:"rule_id"`
	Action          string  `json:"action"`
	ResponsibleRole string  `json:"responsible_role"`
	Deadline        *string `json:"deadline,omitempty"`
}

type IngestRequest struct {
	PolicyID string  `json:"policy_id"`
	FileName *string `json:"file_name,omitempty"`
	Rules    []Rule  `json:"rules"`
	ResetDB  bool    `json:"reset_db,omitempty"`
}

type Task struct {
	TaskID       string  `json:"task_id"`
	PolicyID     string  `json:"policy_id"`
	RuleID       string  `json:"rule_id"`
	TaskName     string  `json:"task_name"`
	AssignedRole string  `json:"assigned_role"`
	Status       string  `json:"status"`
	Deadline     string  `json:"deadline"`
	FileName     *string `json:"file_name,omitempty"`
}

type Policy struct {
	PolicyID  string    `json:"policy_id"`
	FileName  *string   `json:"file_name,omitempty"`
	Rules     []Rule    `json:"rules"`
	RuleCount int       `json:"rule_count"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID              int64     `json:"id"`
	TaskID          string    `json:"task_id"`
	Action          string    `json:"action"`
	PerformedByRole string    `json:"performed_by_role"`
	Timestamp       time.Time `json:"timestamp"`
	DisplayTime     string    `json:"display_time"`
}

type Activity struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
	User        string `json:"user"`
	Status      string `json:"status"`
}

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
	PolicyID              string         `json:"policy_id"`
	TotalTasks            int            `json:"total_tasks"`
	CompletedTasks        int            `json:"completed_tasks"`
	CompletionRatePercent int            `json:"completion_rate_percent"`
	TasksByStatus         map[string]int `json:"tasks_by_status"`
	TasksByRole           map[string]int `json:"tasks_by_role"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Ingest stores a policy and returns the tasks created for its rules.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) ([]Task, error) {
	if req.Rules == nil {
		req.Rules = []Rule{}
	}
	var resp []Task
	err := c.do(ctx, http.MethodPost, "policies/ingest", req, &resp)
	return resp, err
}

// ListTasks returns the tasks visible to role.
func (c *Client) ListTasks(ctx context.Context, role string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "tasks?role="+url.QueryEscape(role), nil, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID), nil, &resp)
	return resp, err
}

func (c *Client) UpdateStatus(ctx context.Context, taskID, newStatus, role string) (Task, error) {
	var resp Task
	body := map[string]string{"new_status": newStatus, "role": role}
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/update-status", body, &resp)
	return resp, err
}

func (c *Client) Escalate(ctx context.Context, taskID, role string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/escalate", map[string]string{"role": role}, &resp)
	return resp, err
}

// TaskHistory returns one task's audit trail, oldest first.
func (c *Client) TaskHistory(ctx context.Context, taskID string) ([]AuditLog, error) {
	var resp []AuditLog
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID)+"/audit-logs", nil, &resp)
	return resp, err
}

// AuditLogs returns the newest entries first. limit <= 0 uses the server default.
func (c *Client) AuditLogs(ctx context.Context, limit int) ([]AuditLog, error) {
	var resp []AuditLog
	err := c.do(ctx, http.MethodGet, withLimit("audit-logs", limit), nil, &resp)
	return resp, err
}

func (c *Client) RecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	var resp []Activity
	err := c.do(ctx, http.MethodGet, withLimit("activity/recent", limit), nil, &resp)
	return resp, err
}

func (c *Client) Policies(ctx context.Context) ([]Policy, error) {
	var resp []Policy
	err := c.do(ctx, http.MethodGet, "policies", nil, &resp)
	return resp, err
}

func (c *Client) GetPolicy(ctx context.Context, policyID string) (Policy, error) {
	var resp Policy
	err := c.do(ctx, http.MethodGet, "policies/"+url.PathEscape(policyID), nil, &resp)
	return resp, err
}

func (c *Client) Stats(ctx context.Context) (GlobalStats, error) {
	var resp GlobalStats
	err := c.do(ctx, http.MethodGet, "policies/stats", nil, &resp)
	return resp, err
}

func (c *Client) PolicyStats(ctx context.Context, policyID string) (PolicyStats, error) {
	var resp PolicyStats
	err := c.do(ctx, http.MethodGet, "policies/stats/"+url.PathEscape(policyID), nil, &resp)
	return resp, err
}

func withLimit(endpoint string, limit int) string {
	if limit <= 0 {
		return endpoint
	}
	return endpoint + "?limit=" + strconv.Itoa(limit)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
