package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/adapters/datasource"
	"github.com/tablemend/engine/pkg/jsonutil"
	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/repositories"
	"github.com/tablemend/engine/pkg/sqlbuild"
)

// Scanner runs the quality scans and profiles that feed the planner.
type Scanner interface {
	// SetProfile records the physical table context for the column.
	SetProfile(ctx context.Context, key models.ColumnKey, profile *models.TableProfile) error

	// NullScan counts nulls for the column. A sampled scan bounds the
	// null-rate read to the configured sample size and extrapolates; the
	// recorded total count and snapshot signature always come from the
	// full population so the planner can detect drift.
	NullScan(ctx context.Context, key models.ColumnKey, sampled bool) (*models.NullAnalysis, error)

	// ConflictScan counts groups holding more than one distinct value for
	// the column, and the rows belonging to them.
	ConflictScan(ctx context.Context, key models.ColumnKey, groupBy []string) (*models.ConflictAnalysis, error)

	// DistributionProfile records the column's distinct count and most
	// frequent values.
	DistributionProfile(ctx context.Context, key models.ColumnKey) (*models.DistributionAnalysis, error)
}

const topValuesLimit = 10

type scanner struct {
	repo       repositories.AnalysisStateRepository
	executor   datasource.QueryExecutor
	snapshots  SnapshotEngine
	sampleSize int64
	logger     *zap.Logger
}

// NewScanner creates a scanner. sampleSize bounds sampled null scans.
func NewScanner(repo repositories.AnalysisStateRepository, executor datasource.QueryExecutor, snapshots SnapshotEngine, sampleSize int64, logger *zap.Logger) Scanner {
	return &scanner{
		repo:       repo,
		executor:   executor,
		snapshots:  snapshots,
		sampleSize: sampleSize,
		logger:     logger.Named("scanner"),
	}
}

var _ Scanner = (*scanner)(nil)

// SetProfile records the physical table context for the column.
func (s *scanner) SetProfile(ctx context.Context, key models.ColumnKey, profile *models.TableProfile) error {
	if profile.TableRef != "" {
		if _, err := sqlbuild.QuoteTableRef(s.executor.Dialect(), profile.TableRef); err != nil {
			return err
		}
	}
	for _, ident := range []string{profile.RowIDColumn, profile.TimeColumn} {
		if ident != "" {
			if err := sqlbuild.ValidateIdentifier(ident); err != nil {
				return err
			}
		}
	}

	_, err := s.repo.Merge(ctx, key, func(state *models.ColumnAnalysisState) error {
		state.Profile = profile
		return nil
	})
	return err
}

// NullScan counts nulls for the column.
func (s *scanner) NullScan(ctx context.Context, key models.ColumnKey, sampled bool) (*models.NullAnalysis, error) {
	var analysis *models.NullAnalysis
	_, err := s.repo.Merge(ctx, key, func(state *models.ColumnAnalysisState) error {
		profile := state.Profile
		if profile == nil || profile.TableRef == "" {
			return fmt.Errorf("no table reference for %s", key)
		}

		snap := s.snapshots.Capture(ctx, profile, key.ColumnName, nil)
		if snap.IsError() {
			return fmt.Errorf("null scan failed: %s", snap.Error)
		}

		analysis = &models.NullAnalysis{
			NullCount:         snap.NullCount,
			TotalCount:        snap.TotalCount,
			SnapshotSignature: snap.Signature,
			ScannedAt:         time.Now().UTC(),
		}
		if state.Nulls != nil {
			analysis.Strategy = state.Nulls.Strategy
		}

		if sampled && s.sampleSize > 0 && snap.TotalCount > s.sampleSize {
			sampleTotal, sampleNulls, err := s.sampleCounts(ctx, profile.TableRef, key.ColumnName)
			if err != nil {
				return fmt.Errorf("sampled null scan failed: %w", err)
			}
			analysis.Sampled = true
			analysis.SampleSize = sampleTotal
			if sampleTotal > 0 {
				rate := float64(sampleNulls) / float64(sampleTotal)
				analysis.NullCount = int64(math.Round(rate * float64(snap.TotalCount)))
			}
		}

		state.Nulls = analysis
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Null scan complete",
		zap.String("column", key.String()),
		zap.Int64("null_count", analysis.NullCount),
		zap.Int64("total_count", analysis.TotalCount),
		zap.Bool("sampled", analysis.Sampled))
	return analysis, nil
}

func (s *scanner) sampleCounts(ctx context.Context, tableRef, column string) (total, nulls int64, err error) {
	builder := sqlbuild.New(s.executor.Dialect())
	stmt, err := builder.SampleCounts(tableRef, column, s.sampleSize)
	if err != nil {
		return 0, 0, err
	}
	result, err := s.executor.Query(ctx, stmt)
	if err != nil {
		return 0, 0, err
	}
	if result.RowCount == 0 {
		return 0, 0, errors.New("sample count query returned no rows")
	}
	row := result.Rows[0]
	total, _ = jsonutil.Int64Value(row["total"])
	nulls, _ = jsonutil.Int64Value(row["nulls"])
	return total, nulls, nil
}

// ConflictScan counts conflicted groups and their rows.
func (s *scanner) ConflictScan(ctx context.Context, key models.ColumnKey, groupBy []string) (*models.ConflictAnalysis, error) {
	if len(groupBy) == 0 {
		return nil, errors.New("conflict scan requires group-by columns")
	}

	var analysis *models.ConflictAnalysis
	_, err := s.repo.Merge(ctx, key, func(state *models.ColumnAnalysisState) error {
		profile := state.Profile
		if profile == nil || profile.TableRef == "" {
			return fmt.Errorf("no table reference for %s", key)
		}

		builder := sqlbuild.New(s.executor.Dialect())
		stmt, err := builder.ConflictStats(profile.TableRef, key.ColumnName, groupBy)
		if err != nil {
			return err
		}
		result, err := s.executor.Query(ctx, stmt)
		if err != nil {
			return fmt.Errorf("conflict scan failed: %w", err)
		}

		analysis = &models.ConflictAnalysis{
			GroupByColumns: groupBy,
			ScannedAt:      time.Now().UTC(),
		}
		if state.Conflicts != nil {
			analysis.Strategy = state.Conflicts.Strategy
		}
		if result.RowCount > 0 {
			analysis.ConflictGroups, _ = jsonutil.Int64Value(result.Rows[0]["conflict_groups"])
			analysis.ConflictRows, _ = jsonutil.Int64Value(result.Rows[0]["conflict_rows"])
		}

		snap := s.snapshots.Capture(ctx, profile, key.ColumnName, groupBy)
		if !snap.IsError() {
			analysis.SnapshotSignature = snap.Signature
		}

		state.Conflicts = analysis
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Conflict scan complete",
		zap.String("column", key.String()),
		zap.Int64("conflict_groups", analysis.ConflictGroups),
		zap.Int64("conflict_rows", analysis.ConflictRows))
	return analysis, nil
}

// DistributionProfile records distinct count and top values.
func (s *scanner) DistributionProfile(ctx context.Context, key models.ColumnKey) (*models.DistributionAnalysis, error) {
	var analysis *models.DistributionAnalysis
	_, err := s.repo.Merge(ctx, key, func(state *models.ColumnAnalysisState) error {
		profile := state.Profile
		if profile == nil || profile.TableRef == "" {
			return fmt.Errorf("no table reference for %s", key)
		}

		builder := sqlbuild.New(s.executor.Dialect())
		distinctSQL, err := builder.DistinctCount(profile.TableRef, key.ColumnName)
		if err != nil {
			return err
		}
		distinctResult, err := s.executor.Query(ctx, distinctSQL)
		if err != nil {
			return fmt.Errorf("distinct count failed: %w", err)
		}

		topSQL, err := builder.TopValues(profile.TableRef, key.ColumnName, topValuesLimit)
		if err != nil {
			return err
		}
		topResult, err := s.executor.Query(ctx, topSQL)
		if err != nil {
			return fmt.Errorf("top values failed: %w", err)
		}

		analysis = &models.DistributionAnalysis{ProfiledAt: time.Now().UTC()}
		if distinctResult.RowCount > 0 {
			for _, v := range distinctResult.Rows[0] {
				if n, ok := jsonutil.Int64Value(v); ok {
					analysis.DistinctCount = n
					break
				}
			}
		}
		for _, row := range topResult.Rows {
			cnt, _ := jsonutil.Int64Value(row["cnt"])
			analysis.TopValues = append(analysis.TopValues, models.ValueCount{
				Value: jsonutil.Stringify(row["v"]),
				Count: cnt,
			})
		}

		state.Distribution = analysis
		return nil
	})
	if err != nil {
		return nil, err
	}
	return analysis, nil
}
