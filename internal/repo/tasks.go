package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"policyline/internal/domain"
)

const taskColumns = `task_id,policy_id,rule_id,task_name,assigned_role,status,deadline,file_name`

// InsertTasks writes tasks in one or more multi-row inserts. Order in the
// slice is kept as the listing order within a policy.
func (r Repo) InsertTasks(ctx context.Context, tx *sql.Tx, createdAt time.Time, tasks []domain.Task) error {
	ts := formatTime(createdAt)
	for _, c := range chunks(len(tasks)) {
		batch := tasks[c[0]:c[1]]
		args := make([]any, 0, len(batch)*11)
		for i, t := range batch {
			args = append(args, t.TaskID, t.PolicyID, t.RuleID, t.TaskName, string(t.AssignedRole),
				string(t.Status), t.Deadline, nullableStringPtr(t.FileName), t.AssignedRole.Key(), c[0]+i, ts)
		}
		query := `INSERT INTO tasks(` + taskColumns + `,assigned_role_key,position,created_at) VALUES ` + placeholders(11, len(batch))
		if _, err := r.on(tx).ExecContext(ctx, r.q(query), args...); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
	}
	return nil
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t        domain.Task
		role     string
		status   string
		fileName sql.NullString
	)
	if err := row.Scan(&t.TaskID, &t.PolicyID, &t.RuleID, &t.TaskName, &role, &status, &t.Deadline, &fileName); err != nil {
		if err == sql.ErrNoRows {
			return t, ErrNotFound
		}
		return t, err
	}
	t.AssignedRole = domain.Role(role)
	t.Status = domain.Status(status)
	t.FileName = stringPtr(fileName)
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(r.on(tx).QueryRowContext(ctx, r.q(`SELECT `+taskColumns+` FROM tasks WHERE task_id=?`), id))
}

type TaskFilters struct {
	// RoleKey matches the case-folded assigned role. Empty matches every role.
	RoleKey  string
	PolicyID string
	Status   domain.Status
	Limit    int
}

// ListTasks returns tasks in ingestion order: policy creation time, then rule order.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.RoleKey != "" {
		clauses = append(clauses, "assigned_role_key=?")
		args = append(args, f.RoleKey)
	}
	if f.PolicyID != "" {
		clauses = append(clauses, "policy_id=?")
		args = append(args, f.PolicyID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks` + where + ` ORDER BY created_at ASC, policy_id ASC, position ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// SetStatusIf moves a task from one status to another only if it is still in
// from. It reports whether the row changed.
func (r Repo) SetStatusIf(ctx context.Context, tx *sql.Tx, id string, from, to domain.Status) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, r.q(`UPDATE tasks SET status=? WHERE task_id=? AND status=?`),
		string(to), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReassignIf sets the assigned role and status only if the task is still
// assigned to exactly from.
func (r Repo) ReassignIf(ctx context.Context, tx *sql.Tx, id string, from, to domain.Role, status domain.Status) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, r.q(`UPDATE tasks SET assigned_role=?, assigned_role_key=?, status=? WHERE task_id=? AND assigned_role=?`),
		string(to), to.Key(), string(status), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CountTasksByStatus groups tasks by status, optionally within one policy.
func (r Repo) CountTasksByStatus(ctx context.Context, policyID string) (map[domain.Status]int, error) {
	query := `SELECT status, COUNT(1) FROM tasks`
	var args []any
	if policyID != "" {
		query += ` WHERE policy_id=?`
		args = append(args, policyID)
	}
	query += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.Status]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		res[domain.Status(s)] = n
	}
	return res, rows.Err()
}

// CountTasksByRole groups a policy's tasks by the stored role spelling.
func (r Repo) CountTasksByRole(ctx context.Context, policyID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT assigned_role, COUNT(1) FROM tasks WHERE policy_id=? GROUP BY assigned_role`), policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		res[role] = n
	}
	return res, rows.Err()
}
