package models

import (
	"strings"
	"time"
)

// Snapshot is a deterministic fingerprint of a column's current
// null/conflict/row-count state. Snapshots are created fresh on demand and
// never mutated, only superseded.
type Snapshot struct {
	TotalCount     int64    `json:"total_count"`
	NullCount      int64    `json:"null_count"`
	ConflictRows   int64    `json:"conflict_rows"`
	GroupByColumns []string `json:"group_by_columns,omitempty"`
	TimeColumn     string   `json:"time_column,omitempty"`

	// Error holds the sanitized backend error for an error snapshot.
	// Empty on successful snapshots.
	Error string `json:"error,omitempty"`

	Signature  string    `json:"signature"`
	CapturedAt time.Time `json:"captured_at"`
}

// IsError reports whether this snapshot records a backend failure rather
// than observed data state.
func (s *Snapshot) IsError() bool {
	return s.Error != ""
}

// ComputeSignature hashes all snapshot fields except the signature itself.
// CapturedAt is deliberately excluded: two captures of identical data state
// (or two identical failures) must produce equal signatures so that
// repeated captures do not spuriously invalidate approvals.
func (s *Snapshot) ComputeSignature() string {
	return SignatureOf(map[string]any{
		"total_count":      s.TotalCount,
		"null_count":       s.NullCount,
		"conflict_rows":    s.ConflictRows,
		"group_by_columns": strings.Join(s.GroupByColumns, ","),
		"time_column":      s.TimeColumn,
		"error":            s.Error,
	})
}

// Seal stamps the snapshot with its computed signature and capture time.
func (s *Snapshot) Seal(now time.Time) *Snapshot {
	s.Signature = s.ComputeSignature()
	s.CapturedAt = now.UTC()
	return s
}
