package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"policyline/internal/domain"
)

const policyColumns = `policy_id,file_name,rules_json,rule_count,status,created_at`

func (r Repo) InsertPolicy(ctx context.Context, tx *sql.Tx, p domain.Policy) error {
	rules := p.Rules
	if rules == nil {
		rules = []domain.Rule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	_, err = r.on(tx).ExecContext(ctx, r.q(`INSERT INTO policies(`+policyColumns+`) VALUES (?,?,?,?,?,?)`),
		p.PolicyID, nullableStringPtr(p.FileName), string(data), len(rules), p.Status, formatTime(p.CreatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r Repo) PolicyExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	err := r.on(tx).QueryRowContext(ctx, r.q(`SELECT COUNT(1) FROM policies WHERE policy_id=?`), id).Scan(&n)
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (domain.Policy, error) {
	var (
		p         domain.Policy
		fileName  sql.NullString
		rulesJSON string
		createdAt string
	)
	if err := row.Scan(&p.PolicyID, &fileName, &rulesJSON, &p.RuleCount, &p.Status, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return p, ErrNotFound
		}
		return p, err
	}
	p.FileName = stringPtr(fileName)
	if err := json.Unmarshal([]byte(rulesJSON), &p.Rules); err != nil {
		return p, fmt.Errorf("decode rules of %s: %w", p.PolicyID, err)
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return p, fmt.Errorf("decode created_at of %s: %w", p.PolicyID, err)
	}
	p.CreatedAt = ts
	return p, nil
}

func (r Repo) GetPolicy(ctx context.Context, id string) (domain.Policy, error) {
	return scanPolicy(r.DB.QueryRowContext(ctx, r.q(`SELECT `+policyColumns+` FROM policies WHERE policy_id=?`), id))
}

// ListPolicies returns policies newest first.
func (r Repo) ListPolicies(ctx context.Context, limit int) ([]domain.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies ORDER BY created_at DESC, policy_id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// PartialPolicies lists policies whose stored task count is below their rule count.
func (r Repo) PartialPolicies(ctx context.Context) ([]domain.PartialPolicy, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT p.policy_id, p.rule_count, COUNT(t.task_id), p.created_at
FROM policies p LEFT JOIN tasks t ON t.policy_id = p.policy_id
GROUP BY p.policy_id, p.rule_count, p.created_at
HAVING COUNT(t.task_id) < p.rule_count
ORDER BY p.created_at DESC, p.policy_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.PartialPolicy{}
	for rows.Next() {
		var (
			pp        domain.PartialPolicy
			createdAt string
		)
		if err := rows.Scan(&pp.PolicyID, &pp.RuleCount, &pp.TaskCount, &createdAt); err != nil {
			return nil, err
		}
		if pp.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("decode created_at of %s: %w", pp.PolicyID, err)
		}
		res = append(res, pp)
	}
	return res, rows.Err()
}

// PolicyCounts holds the policy-level numbers behind the global stats.
type PolicyCounts struct {
	Total     int
	Active    int
	Completed int
}

// CountPolicies counts policies, ACTIVE ones, and those with at least one task
// where every task is COMPLETED.
func (r Repo) CountPolicies(ctx context.Context) (PolicyCounts, error) {
	var c PolicyCounts
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT COUNT(1), COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0) FROM policies`),
		domain.PolicyStatusActive).Scan(&c.Total, &c.Active)
	if err != nil {
		return c, err
	}
	err = r.DB.QueryRowContext(ctx, r.q(`SELECT COUNT(1) FROM (
  SELECT t.policy_id FROM tasks t JOIN policies p ON p.policy_id = t.policy_id
  GROUP BY t.policy_id
  HAVING SUM(CASE WHEN t.status=? THEN 0 ELSE 1 END) = 0
) done`), string(domain.StatusCompleted)).Scan(&c.Completed)
	return c, err
}
