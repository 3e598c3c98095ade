package stagerun

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablemend/engine/pkg/apperrors"
	"github.com/tablemend/engine/pkg/models"
)

func testKey() models.ColumnKey {
	return models.ColumnKey{
		DatasourceID: uuid.MustParse("6f1f9a34-0a50-4f6e-9a3c-2cf04f6cfb01"),
		SchemaName:   "public",
		TableName:    "orders",
		ColumnName:   "amount",
	}
}

func TestPrepareInputRejectsUnknownFields(t *testing.T) {
	capability := Capability{Name: "null_scan", Params: []string{"sampled"}}

	_, err := capability.PrepareInput(map[string]any{"sampled": true, "limit": 5}, testKey())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownInputField)
	assert.Contains(t, err.Error(), "limit")
}

func TestPrepareInputInjectsIdentifiersFromKey(t *testing.T) {
	capability := Capability{Name: "null_scan", Params: []string{"sampled"}}

	// Caller-supplied identifiers are discarded, not errors.
	input, err := capability.PrepareInput(map[string]any{
		"sampled": true,
		"table":   "somewhere_else",
		"column":  "other",
		"schema":  "evil",
	}, testKey())
	require.NoError(t, err)

	assert.Equal(t, "orders", input["table"])
	assert.Equal(t, "amount", input["column"])
	assert.Equal(t, "public", input["schema"])
	assert.Equal(t, true, input["sampled"])
}

func TestRegistryStageOfUnknownOperation(t *testing.T) {
	r := NewRegistry()
	r.Register(Capability{Name: "apply_repair", Stage: StageApply})

	assert.Equal(t, StageApply, r.StageOf("apply_repair"))
	assert.Equal(t, DefaultStage, r.StageOf("never_registered"))
}

func TestApplyStageOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register(Capability{Name: "conflict_scan", Stage: StageScan})
	r.Register(Capability{Name: "plan_repair", Stage: StagePlan})

	r.ApplyStageOverrides(map[string]int{
		"conflict_scan": StageProfile,
		"not_present":   StageApply,
	})

	assert.Equal(t, StageProfile, r.StageOf("conflict_scan"))
	assert.Equal(t, StagePlan, r.StageOf("plan_repair"))
}

func TestLoadStageManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capabilities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("operations:\n  conflict_scan: 1\n  plan_repair: 2\n"), 0o600))

	overrides, err := LoadStageManifest(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"conflict_scan": 1, "plan_repair": 2}, overrides)
}

func TestLoadStageManifestRejectsOutOfRangeStage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capabilities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("operations:\n  plan_repair: 9\n"), 0o600))

	_, err := LoadStageManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestServiceRegistryHandlerReceivesFilteredInput(t *testing.T) {
	r := NewRegistry()
	var seen map[string]any
	r.Register(Capability{
		Name:   "echo",
		Stage:  StageScan,
		Params: []string{"sampled"},
		Handler: func(ctx context.Context, key models.ColumnKey, input map[string]any) (any, error) {
			seen = input
			return "ok", nil
		},
	})

	capability, ok := r.Lookup("echo")
	require.True(t, ok)
	input, err := capability.PrepareInput(map[string]any{"sampled": false}, testKey())
	require.NoError(t, err)
	out, err := capability.Handler(context.Background(), testKey(), input)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "orders", seen["table"])
}
