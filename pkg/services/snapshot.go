// Package services implements the repair planning, approval, and
// application state machine over per-column analysis state.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/adapters/datasource"
	"github.com/tablemend/engine/pkg/jsonutil"
	"github.com/tablemend/engine/pkg/logging"
	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/sqlbuild"
)

// SnapshotEngine fingerprints the current data state of a column.
type SnapshotEngine interface {
	// Capture computes the column's current total, null, and conflict-row
	// counts and seals them into a signed snapshot. Backend failures never
	// propagate: after one retry with temporal filtering disabled, a
	// failure produces an error snapshot whose signature hashes the
	// sanitized error message and inputs, so repeated identical failures
	// are recognized as equivalent.
	Capture(ctx context.Context, profile *models.TableProfile, column string, groupBy []string) *models.Snapshot
}

type snapshotEngine struct {
	executor datasource.QueryExecutor
	logger   *zap.Logger
}

// NewSnapshotEngine creates a snapshot engine over the analysis backend.
func NewSnapshotEngine(executor datasource.QueryExecutor, logger *zap.Logger) SnapshotEngine {
	return &snapshotEngine{
		executor: executor,
		logger:   logger.Named("snapshot"),
	}
}

var _ SnapshotEngine = (*snapshotEngine)(nil)

// Capture fingerprints the column's current state.
func (e *snapshotEngine) Capture(ctx context.Context, profile *models.TableProfile, column string, groupBy []string) *models.Snapshot {
	window := sqlbuild.TimeWindow{Column: profile.TimeColumn, Days: profile.TimeWindowDays}

	snap, err := e.capture(ctx, profile.TableRef, column, groupBy, window)
	if err != nil && window.Enabled() {
		e.logger.Warn("Snapshot capture failed, retrying without temporal filter",
			zap.String("table", profile.TableRef),
			zap.String("column", column),
			zap.String("error", logging.SanitizeError(err)))
		snap, err = e.capture(ctx, profile.TableRef, column, groupBy, sqlbuild.TimeWindow{})
	}
	if err != nil {
		e.logger.Error("Snapshot capture failed",
			zap.String("table", profile.TableRef),
			zap.String("column", column),
			zap.String("error", logging.SanitizeError(err)))
		errSnap := &models.Snapshot{
			GroupByColumns: groupBy,
			TimeColumn:     profile.TimeColumn,
			Error:          logging.SanitizeError(err),
		}
		return errSnap.Seal(time.Now())
	}
	return snap
}

func (e *snapshotEngine) capture(ctx context.Context, tableRef, column string, groupBy []string, window sqlbuild.TimeWindow) (*models.Snapshot, error) {
	builder := sqlbuild.New(e.executor.Dialect())

	totalSQL, err := builder.TotalCount(tableRef, window)
	if err != nil {
		return nil, err
	}
	total, err := e.scalar(ctx, totalSQL)
	if err != nil {
		return nil, fmt.Errorf("total count: %w", err)
	}

	nullSQL, err := builder.NullCount(tableRef, column, window)
	if err != nil {
		return nil, err
	}
	nulls, err := e.scalar(ctx, nullSQL)
	if err != nil {
		return nil, fmt.Errorf("null count: %w", err)
	}

	snap := &models.Snapshot{
		TotalCount:     total,
		NullCount:      nulls,
		GroupByColumns: groupBy,
		TimeColumn:     window.Column,
	}

	if len(groupBy) > 0 {
		conflictSQL, err := builder.ConflictStats(tableRef, column, groupBy)
		if err != nil {
			return nil, err
		}
		result, err := e.executor.Query(ctx, conflictSQL)
		if err != nil {
			return nil, fmt.Errorf("conflict stats: %w", err)
		}
		if result.RowCount > 0 {
			if v, ok := jsonutil.Int64Value(result.Rows[0]["conflict_rows"]); ok {
				snap.ConflictRows = v
			}
		}
	}

	return snap.Seal(time.Now()), nil
}

// scalar runs a single-value count query and returns its first cell.
func (e *snapshotEngine) scalar(ctx context.Context, sqlQuery string) (int64, error) {
	result, err := e.executor.Query(ctx, sqlQuery)
	if err != nil {
		return 0, err
	}
	if result.RowCount == 0 {
		return 0, errors.New("query returned no rows")
	}
	row := result.Rows[0]
	for _, v := range row {
		if n, ok := jsonutil.Int64Value(v); ok {
			return n, nil
		}
	}
	return 0, errors.New("query returned no numeric value")
}
