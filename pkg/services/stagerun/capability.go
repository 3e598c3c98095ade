package stagerun

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tablemend/engine/pkg/apperrors"
	"github.com/tablemend/engine/pkg/models"
)

// Stages, ascending. Repairs never run before scans; applies never run
// before approvals.
const (
	StageScan    = 0
	StageProfile = 1
	StagePlan    = 2
	StageApprove = 3
	StageApply   = 4
)

// DefaultStage is assigned to operations without a declared stage.
const DefaultStage = StageProfile

// Handler executes one operation against its filtered input.
type Handler func(ctx context.Context, key models.ColumnKey, input map[string]any) (any, error)

// Capability declares one operation a run can dispatch: its name, stage,
// accepted input parameters, and handler.
type Capability struct {
	Name    string
	Stage   int
	Params  []string
	Handler Handler
}

// PrepareInput validates the raw payload against the declared parameter
// set. Unknown fields are rejected rather than silently dropped. Table and
// column identifiers are always injected from the run key, regardless of
// what the caller supplied.
func (c Capability) PrepareInput(raw map[string]any, key models.ColumnKey) (map[string]any, error) {
	accepted := make(map[string]bool, len(c.Params))
	for _, p := range c.Params {
		accepted[p] = true
	}

	input := make(map[string]any, len(raw)+3)
	for field, value := range raw {
		switch field {
		case "table", "column", "schema":
			// Overridden below.
			continue
		}
		if !accepted[field] {
			return nil, fmt.Errorf("operation %q: %w: %q", c.Name, apperrors.ErrUnknownInputField, field)
		}
		input[field] = value
	}

	input["table"] = key.TableName
	input["column"] = key.ColumnName
	if key.SchemaName != "" {
		input["schema"] = key.SchemaName
	}
	return input, nil
}

// Registry is the capability table for one workflow run. It is built per
// run, not shared process-wide.
type Registry struct {
	caps map[string]Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds or replaces a capability.
func (r *Registry) Register(c Capability) {
	r.caps[c.Name] = c
}

// Lookup returns the capability for an operation name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	c, ok := r.caps[name]
	return c, ok
}

// StageOf returns the stage for an operation name; unknown names get
// DefaultStage so they are still dispatched (and fail) in order.
func (r *Registry) StageOf(name string) int {
	if c, ok := r.caps[name]; ok {
		return c.Stage
	}
	return DefaultStage
}

// ApplyStageOverrides rebinds registered operations to manifest stages.
func (r *Registry) ApplyStageOverrides(overrides map[string]int) {
	for name, stage := range overrides {
		if c, ok := r.caps[name]; ok {
			c.Stage = stage
			r.caps[name] = c
		}
	}
}

// stageManifest is the YAML shape of a capability manifest file.
type stageManifest struct {
	Operations map[string]int `yaml:"operations"`
}

// LoadStageManifest reads operation → stage overrides from a YAML file.
func LoadStageManifest(path string) (map[string]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability manifest: %w", err)
	}
	var manifest stageManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parse capability manifest: %w", err)
	}
	for name, stage := range manifest.Operations {
		if stage < StageScan || stage > StageApply {
			return nil, fmt.Errorf("capability manifest: stage %d out of range for %q", stage, name)
		}
	}
	return manifest.Operations, nil
}
