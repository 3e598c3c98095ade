package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tablemend/engine/pkg/apperrors"
	"github.com/tablemend/engine/pkg/models"
)

// MemoryAnalysisStateRepository is an in-memory AnalysisStateRepository.
// It serializes Merge calls with a mutex, mirroring the row-lock semantics
// of the PostgreSQL implementation. Intended for tests and embedded use.
type MemoryAnalysisStateRepository struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemoryAnalysisStateRepository creates an empty in-memory repository.
func NewMemoryAnalysisStateRepository() *MemoryAnalysisStateRepository {
	return &MemoryAnalysisStateRepository{docs: make(map[string][]byte)}
}

var _ AnalysisStateRepository = (*MemoryAnalysisStateRepository)(nil)

// Get retrieves the state document for a column.
func (r *MemoryAnalysisStateRepository) Get(_ context.Context, key models.ColumnKey) (*models.ColumnAnalysisState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[key.String()]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return decodeState(doc)
}

// Merge applies fn to the current document under the repository lock.
func (r *MemoryAnalysisStateRepository) Merge(_ context.Context, key models.ColumnKey, fn func(*models.ColumnAnalysisState) error) (*models.ColumnAnalysisState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var state *models.ColumnAnalysisState
	if doc, ok := r.docs[key.String()]; ok {
		decoded, err := decodeState(doc)
		if err != nil {
			return nil, err
		}
		state = decoded
	} else {
		state = models.NewColumnAnalysisState()
	}

	if err := fn(state); err != nil {
		return nil, err
	}
	state.UpdatedAt = time.Now().UTC()

	encoded, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis state: %w", err)
	}
	r.docs[key.String()] = encoded

	return state, nil
}
