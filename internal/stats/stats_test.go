package stats

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyline/internal/domain"
	"policyline/internal/repo"
)

func newMock(t *testing.T) (Aggregator, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return Aggregator{Repo: repo.Repo{DB: conn, Dialect: repo.Postgres}}, mock
}

func TestCompletionRate(t *testing.T) {
	assert.Equal(t, 0, CompletionRate(0, 0))
	assert.Equal(t, 33, CompletionRate(1, 3))
	assert.Equal(t, 66, CompletionRate(2, 3))
	assert.Equal(t, 100, CompletionRate(4, 4))
}

func TestGlobalFromCounts(t *testing.T) {
	agg, mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT\(1\), COALESCE\(SUM\(CASE WHEN status=\$1`).
		WithArgs("ACTIVE").
		WillReturnRows(sqlmock.NewRows([]string{"total", "active"}).AddRow(4, 3))
	mock.ExpectQuery(`HAVING SUM\(CASE WHEN t.status=\$1 THEN 0 ELSE 1 END\) = 0`).
		WithArgs("COMPLETED").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT status, COUNT\(1\) FROM tasks GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("CREATED", 5).AddRow("IN_PROGRESS", 2).AddRow("ESCALATED", 1))

	g, err := agg.Global(context.Background())
	require.NoError(t, err)
	assert.Equal(t, GlobalStats{
		TotalPolicies: 4, ActivePolicies: 3, CompletedPolicies: 1, PendingPolicies: 1,
		TotalTasks: 8, CreatedTasks: 5, InProgressTasks: 2, EscalatedTasks: 1,
	}, g)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyZeroFillsStatuses(t *testing.T) {
	agg, mock := newMock(t)
	mock.ExpectQuery(`SELECT status, COUNT\(1\) FROM tasks WHERE policy_id=\$1 GROUP BY status`).
		WithArgs("POL-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("COMPLETED", 1).AddRow("CREATED", 2))
	mock.ExpectQuery(`SELECT assigned_role, COUNT\(1\) FROM tasks WHERE policy_id=\$1 GROUP BY assigned_role`).
		WithArgs("POL-1").
		WillReturnRows(sqlmock.NewRows([]string{"assigned_role", "count"}).AddRow("Clerk", 2).AddRow("clerk", 1))

	p, err := agg.Policy(context.Background(), "POL-1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.TotalTasks)
	assert.Equal(t, 1, p.CompletedTasks)
	assert.Equal(t, 33, p.CompletionRatePercent)
	assert.Len(t, p.TasksByStatus, len(domain.Statuses))
	assert.Equal(t, 0, p.TasksByStatus[domain.StatusEscalated])
	assert.Equal(t, map[string]int{"Clerk": 2, "clerk": 1}, p.TasksByRole)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGlobalPropagatesStorageErrors(t *testing.T) {
	agg, mock := newMock(t)
	boom := errors.New("connection refused")
	mock.ExpectQuery(`FROM policies`).WillReturnError(boom)

	_, err := agg.Global(context.Background())
	assert.ErrorIs(t, err, boom)
}
