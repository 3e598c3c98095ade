// Package stagerun runs heterogeneous named operations in dependency-
// respecting concurrent stages, and buffers their structured logs into the
// column's persisted analysis state.
package stagerun

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tablemend/engine/pkg/logging"
	"github.com/tablemend/engine/pkg/models"
	"github.com/tablemend/engine/pkg/repositories"
)

// DefaultFlushInterval is the cadence of the periodic log flusher.
const DefaultFlushInterval = 1200 * time.Millisecond

// LogBuffer collects append-only workflow log entries and tool-call
// records for one run, and persists them asynchronously. Persistence
// failures are recorded on the buffer and retried on the next tick; they
// never abort the workflow.
type LogBuffer struct {
	repo   repositories.AnalysisStateRepository
	key    models.ColumnKey
	logger *zap.Logger

	mu           sync.Mutex
	entries      []models.WorkflowLogEntry
	calls        []models.ToolCallRecord
	dirty        bool
	gen          uint64
	lastFlushErr error

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLogBuffer creates a buffer and starts its periodic flusher.
func NewLogBuffer(repo repositories.AnalysisStateRepository, key models.ColumnKey, interval time.Duration, logger *zap.Logger) *LogBuffer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	b := &LogBuffer{
		repo:   repo,
		key:    key,
		logger: logger.Named("logbuffer"),
		done:   make(chan struct{}),
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.done:
				return
			case <-ticker.C:
				b.flush(context.Background(), false)
			}
		}
	}()

	return b
}

// Log appends a structured event.
func (b *LogBuffer) Log(entryType, message string, data map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, models.WorkflowLogEntry{
		Type:      entryType,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Data:      data,
	})
	b.dirty = true
	b.gen++
}

// StartToolCall records a dispatched operation with status running.
func (b *LogBuffer) StartToolCall(toolUseID, toolName, agent string, input map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, models.ToolCallRecord{
		ToolUseID: toolUseID,
		ToolName:  toolName,
		Agent:     agent,
		Input:     input,
		Status:    models.ToolCallRunning,
		StartedAt: time.Now().UTC(),
	})
	b.dirty = true
	b.gen++
}

// CompleteToolCall updates a running record exactly once at completion.
func (b *LogBuffer) CompleteToolCall(toolUseID string, status models.ToolCallStatus, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.calls {
		if b.calls[i].ToolUseID != toolUseID || b.calls[i].Status != models.ToolCallRunning {
			continue
		}
		now := time.Now().UTC()
		b.calls[i].Status = status
		b.calls[i].Error = errMsg
		b.calls[i].EndedAt = &now
		b.calls[i].DurationMS = now.Sub(b.calls[i].StartedAt).Milliseconds()
		b.dirty = true
		b.gen++
		return
	}
}

// Entries returns a copy of the buffered log entries.
func (b *LogBuffer) Entries() []models.WorkflowLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.WorkflowLogEntry(nil), b.entries...)
}

// ToolCalls returns a copy of the buffered tool-call records.
func (b *LogBuffer) ToolCalls() []models.ToolCallRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.ToolCallRecord(nil), b.calls...)
}

// LastFlushError returns the most recent persistence failure, or nil.
func (b *LogBuffer) LastFlushError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFlushErr
}

// flush merges the buffered entries and calls into the persisted analysis
// state. When force is false, a clean buffer is left alone.
func (b *LogBuffer) flush(ctx context.Context, force bool) {
	b.mu.Lock()
	if !b.dirty && !force {
		b.mu.Unlock()
		return
	}
	entries := append([]models.WorkflowLogEntry(nil), b.entries...)
	calls := append([]models.ToolCallRecord(nil), b.calls...)
	snapshotGen := b.gen
	b.mu.Unlock()

	_, err := b.repo.Merge(ctx, b.key, func(state *models.ColumnAnalysisState) error {
		state.Logs = entries
		state.ToolCalls = calls
		return nil
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.lastFlushErr = err
		b.logger.Warn("Log flush failed",
			zap.String("column", b.key.String()),
			zap.String("error", logging.SanitizeError(err)))
		return
	}
	b.lastFlushErr = nil
	// Mutations that landed while the merge was in flight were not part of
	// the flushed snapshot; leave the buffer dirty so the next tick picks
	// them up.
	if b.gen == snapshotGen {
		b.dirty = false
	}
}

// Close stops the periodic flusher and runs a final, unconditional flush,
// regardless of what the periodic task last observed.
func (b *LogBuffer) Close(ctx context.Context) {
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
	b.flush(ctx, true)
}
