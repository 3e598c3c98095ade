// Package repositories provides data access over the metadata store.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tablemend/engine/pkg/apperrors"
	"github.com/tablemend/engine/pkg/database"
	"github.com/tablemend/engine/pkg/models"
)

// AnalysisStateRepository defines the interface for per-column analysis
// state persistence. State documents are read and written whole, but Merge
// serializes concurrent writers so that independently produced sections
// (scan results, plans, approvals, logs) never clobber each other.
type AnalysisStateRepository interface {
	// Get retrieves the state document for a column.
	// Returns apperrors.ErrNotFound if the column has never been analyzed.
	Get(ctx context.Context, key models.ColumnKey) (*models.ColumnAnalysisState, error)

	// Merge loads the current document (or a fresh one), applies fn under a
	// row lock, and persists the result. The returned document reflects the
	// persisted state. If fn returns an error, nothing is written.
	Merge(ctx context.Context, key models.ColumnKey, fn func(*models.ColumnAnalysisState) error) (*models.ColumnAnalysisState, error)
}

// analysisStateRepository implements AnalysisStateRepository using PostgreSQL.
type analysisStateRepository struct {
	db *database.DB
}

// NewAnalysisStateRepository creates a new analysis state repository.
func NewAnalysisStateRepository(db *database.DB) AnalysisStateRepository {
	return &analysisStateRepository{db: db}
}

var _ AnalysisStateRepository = (*analysisStateRepository)(nil)

// Get retrieves the state document for a column.
func (r *analysisStateRepository) Get(ctx context.Context, key models.ColumnKey) (*models.ColumnAnalysisState, error) {
	query := `
		SELECT doc FROM engine_column_analysis
		WHERE datasource_id = $1 AND schema_name = $2 AND table_name = $3 AND column_name = $4`

	var doc []byte
	err := r.db.QueryRow(ctx, query, key.DatasourceID, key.SchemaName, key.TableName, key.ColumnName).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis state: %w", err)
	}

	return decodeState(doc)
}

// Merge applies fn to the current document under a row lock and persists
// the result.
func (r *analysisStateRepository) Merge(ctx context.Context, key models.ColumnKey, fn func(*models.ColumnAnalysisState) error) (*models.ColumnAnalysisState, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	query := `
		SELECT doc FROM engine_column_analysis
		WHERE datasource_id = $1 AND schema_name = $2 AND table_name = $3 AND column_name = $4
		FOR UPDATE`

	var state *models.ColumnAnalysisState
	var doc []byte
	err = tx.QueryRow(ctx, query, key.DatasourceID, key.SchemaName, key.TableName, key.ColumnName).Scan(&doc)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		state = models.NewColumnAnalysisState()
	case err != nil:
		return nil, fmt.Errorf("failed to lock analysis state: %w", err)
	default:
		state, err = decodeState(doc)
		if err != nil {
			return nil, err
		}
	}

	if err := fn(state); err != nil {
		return nil, err
	}
	state.UpdatedAt = time.Now().UTC()

	encoded, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis state: %w", err)
	}

	upsert := `
		INSERT INTO engine_column_analysis (datasource_id, schema_name, table_name, column_name, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (datasource_id, schema_name, table_name, column_name)
		DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`

	_, err = tx.Exec(ctx, upsert,
		key.DatasourceID, key.SchemaName, key.TableName, key.ColumnName, encoded, state.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to persist analysis state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return state, nil
}

// decodeState unmarshals a stored document and upgrades older versions.
func decodeState(doc []byte) (*models.ColumnAnalysisState, error) {
	var state models.ColumnAnalysisState
	if err := json.Unmarshal(doc, &state); err != nil {
		return nil, fmt.Errorf("failed to decode analysis state: %w", err)
	}
	if state.Version == 0 {
		state.Version = models.CurrentStateVersion
	}
	return &state, nil
}
