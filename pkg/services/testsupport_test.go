package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/adapters/datasource"
	"github.com/tablemend/engine/pkg/auth"
	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/repositories"
	"github.com/tablemend/engine/pkg/sqlbuild"
)

func testKey() models.ColumnKey {
	return models.ColumnKey{
		DatasourceID: uuid.MustParse("0b4f2d2e-7c91-4a8d-9f35-6f4b76d1a202"),
		SchemaName:   "public",
		TableName:    "orders",
		ColumnName:   "amount",
	}
}

// fakeExecutor is a scriptable analysis backend. Set the function fields
// to control behavior; executed statements and queries are recorded.
type fakeExecutor struct {
	QueryFunc   func(sqlQuery string) (*datasource.QueryResult, error)
	ExecuteFunc func(sqlStatement string) (int64, error)

	mu       sync.Mutex
	queries  []string
	executed []string
}

var _ datasource.QueryExecutor = (*fakeExecutor)(nil)

func (f *fakeExecutor) Query(ctx context.Context, sqlQuery string) (*datasource.QueryResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, sqlQuery)
	f.mu.Unlock()
	if f.QueryFunc != nil {
		return f.QueryFunc(sqlQuery)
	}
	return &datasource.QueryResult{}, nil
}

func (f *fakeExecutor) Execute(ctx context.Context, sqlStatement string) (int64, error) {
	f.mu.Lock()
	f.executed = append(f.executed, sqlStatement)
	f.mu.Unlock()
	if f.ExecuteFunc != nil {
		return f.ExecuteFunc(sqlStatement)
	}
	return 0, nil
}

func (f *fakeExecutor) Dialect() sqlbuild.Dialect { return sqlbuild.DialectPostgres }
func (f *fakeExecutor) Close() error              { return nil }

func (f *fakeExecutor) executedStatements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func (f *fakeExecutor) executedMatching(substr string) []string {
	var out []string
	for _, stmt := range f.executedStatements() {
		if strings.Contains(stmt, substr) {
			out = append(out, stmt)
		}
	}
	return out
}

// backendCounts is a mutable data state the fake executor serves count
// queries from. Tests change the fields to simulate data drift.
type backendCounts struct {
	mu           sync.Mutex
	total        int64
	nulls        int64
	conflictRows int64
	conflictGrps int64
	aggregate    any
}

func (c *backendCounts) set(fn func(*backendCounts)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// route serves the query shapes the services issue: total count, null
// count, conflict stats, bounded sample counts, and single aggregates.
func (c *backendCounts) route(sqlQuery string) (*datasource.QueryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case strings.Contains(sqlQuery, "conflict_groups"):
		return singleRow(map[string]any{"conflict_groups": c.conflictGrps, "conflict_rows": c.conflictRows}), nil
	case strings.Contains(sqlQuery, "AS sample"):
		return singleRow(map[string]any{"total": c.total, "nulls": c.nulls}), nil
	case strings.Contains(sqlQuery, " AS v FROM"), strings.Contains(sqlQuery, "PERCENTILE_CONT"):
		return singleRow(map[string]any{"v": c.aggregate}), nil
	case strings.Contains(sqlQuery, "IS NULL"):
		return singleRow(map[string]any{"n": c.nulls}), nil
	default:
		return singleRow(map[string]any{"n": c.total}), nil
	}
}

func singleRow(row map[string]any) *datasource.QueryResult {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	return &datasource.QueryResult{Columns: cols, Rows: []map[string]any{row}, RowCount: 1}
}

// fixture wires the full service stack over an in-memory repository and a
// scripted backend.
type fixture struct {
	repo      *repositories.MemoryAnalysisStateRepository
	executor  *fakeExecutor
	counts    *backendCounts
	snapshots SnapshotEngine
	scanner   Scanner
	planner   Planner
	gate      ApprovalGate
	applier   Applier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	counts := &backendCounts{total: 1000, nulls: 120, aggregate: 42.5}
	executor := &fakeExecutor{QueryFunc: counts.route, ExecuteFunc: func(string) (int64, error) { return 120, nil }}
	repo := repositories.NewMemoryAnalysisStateRepository()
	snapshots := NewSnapshotEngine(executor, logger)
	planner := NewPlanner(repo, executor, snapshots, logger)
	verifier := auth.NewApproverVerifier(nil, false)
	return &fixture{
		repo:      repo,
		executor:  executor,
		counts:    counts,
		snapshots: snapshots,
		scanner:   NewScanner(repo, executor, snapshots, 100, logger),
		planner:   planner,
		gate:      NewApprovalGate(repo, verifier, logger),
		applier:   NewApplier(repo, executor, snapshots, planner, "_fixing", logger),
	}
}

// seedNullState records a profile and a prior null scan whose snapshot
// signature matches the backend's current counts.
func (f *fixture) seedNullState(t *testing.T) {
	t.Helper()
	sig := (&models.Snapshot{TotalCount: f.counts.total, NullCount: f.counts.nulls}).ComputeSignature()
	_, err := f.repo.Merge(context.Background(), testKey(), func(state *models.ColumnAnalysisState) error {
		state.Profile = &models.TableProfile{
			TableRef:     "orders",
			RowIDColumn:  "id",
			SemanticType: models.SemanticNumeric,
		}
		state.Nulls = &models.NullAnalysis{
			NullCount:         f.counts.nulls,
			TotalCount:        f.counts.total,
			SnapshotSignature: sig,
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed state: %v", err)
	}
}

func (f *fixture) state(t *testing.T) *models.ColumnAnalysisState {
	t.Helper()
	state, err := f.repo.Get(context.Background(), testKey())
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	return state
}
