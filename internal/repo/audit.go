package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"policyline/internal/domain"
)

// InsertAudit appends one entry and returns its id.
func (r Repo) InsertAudit(ctx context.Context, tx *sql.Tx, l domain.AuditLog) (int64, error) {
	var id int64
	err := r.on(tx).QueryRowContext(ctx, r.q(`INSERT INTO audit_logs(task_id,action,performed_by_role,ts) VALUES (?,?,?,?) RETURNING id`),
		l.TaskID, l.Action, string(l.PerformedByRole), formatTime(l.Timestamp)).Scan(&id)
	return id, err
}

// InsertAuditBatch appends entries with multi-row inserts. Ids are assigned by
// the database and not returned.
func (r Repo) InsertAuditBatch(ctx context.Context, tx *sql.Tx, logs []domain.AuditLog) error {
	for _, c := range chunks(len(logs)) {
		batch := logs[c[0]:c[1]]
		args := make([]any, 0, len(batch)*4)
		for _, l := range batch {
			args = append(args, l.TaskID, l.Action, string(l.PerformedByRole), formatTime(l.Timestamp))
		}
		query := `INSERT INTO audit_logs(task_id,action,performed_by_role,ts) VALUES ` + placeholders(4, len(batch))
		if _, err := r.on(tx).ExecContext(ctx, r.q(query), args...); err != nil {
			return err
		}
	}
	return nil
}

// LatestAuditTime returns the newest timestamp recorded for a task.
func (r Repo) LatestAuditTime(ctx context.Context, tx *sql.Tx, taskID string) (time.Time, bool, error) {
	var ts sql.NullString
	err := r.on(tx).QueryRowContext(ctx, r.q(`SELECT MAX(ts) FROM audit_logs WHERE task_id=?`), taskID).Scan(&ts)
	if err != nil || !ts.Valid {
		return time.Time{}, false, err
	}
	t, err := parseTime(ts.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode audit ts: %w", err)
	}
	return t, true, nil
}

type AuditFilters struct {
	TaskID string
	Limit  int
	// Ascending returns oldest first, used for per-task history.
	Ascending bool
}

func (r Repo) ListAudit(ctx context.Context, f AuditFilters) ([]domain.AuditLog, error) {
	query := `SELECT id,task_id,action,performed_by_role,ts FROM audit_logs`
	var args []any
	if f.TaskID != "" {
		query += ` WHERE task_id=?`
		args = append(args, f.TaskID)
	}
	if f.Ascending {
		query += ` ORDER BY ts ASC, id ASC`
	} else {
		query += ` ORDER BY ts DESC, id DESC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.AuditLog{}
	for rows.Next() {
		var (
			l    domain.AuditLog
			role string
			ts   string
		)
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Action, &role, &ts); err != nil {
			return nil, err
		}
		l.PerformedByRole = domain.Role(role)
		if l.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("decode audit ts: %w", err)
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
