package tools

import (
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tablemend/engine/pkg/models"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// optionalString reads an optional string argument; missing or non-string
// values yield "".
func optionalString(req mcp.CallToolRequest, name string) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := args[name].(string)
	return trimString(s)
}

// optionalBool reads an optional boolean argument; missing or non-boolean
// values yield false.
func optionalBool(req mcp.CallToolRequest, name string) bool {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return false
	}
	b, _ := args[name].(bool)
	return b
}

// requireColumnKey reads the table/column parameters shared by every
// repair tool. A nil error with a non-nil result means the caller sent
// bad parameters.
func requireColumnKey(req mcp.CallToolRequest, datasourceID uuid.UUID) (models.ColumnKey, *mcp.CallToolResult, error) {
	table, err := req.RequireString("table")
	if err != nil {
		return models.ColumnKey{}, nil, err
	}
	table = trimString(table)
	if table == "" {
		return models.ColumnKey{}, NewErrorResult("invalid_parameters", "parameter 'table' cannot be empty"), nil
	}

	column, err := req.RequireString("column")
	if err != nil {
		return models.ColumnKey{}, nil, err
	}
	column = trimString(column)
	if column == "" {
		return models.ColumnKey{}, NewErrorResult("invalid_parameters", "parameter 'column' cannot be empty"), nil
	}

	key := models.ColumnKey{
		DatasourceID: datasourceID,
		SchemaName:   optionalString(req, "schema"),
		TableName:    table,
		ColumnName:   column,
	}
	return key, nil, nil
}

// planIdentityFromParams reads the optional approval identity triple.
func planIdentityFromParams(req mcp.CallToolRequest) models.PlanIdentity {
	return models.PlanIdentity{
		PlanID:            optionalString(req, "plan_id"),
		PlanHash:          optionalString(req, "plan_hash"),
		SnapshotSignature: optionalString(req, "snapshot_signature"),
	}
}

// bearerToken strips an optional "Bearer " prefix from a token parameter.
func bearerToken(raw string) string {
	return trimString(strings.TrimPrefix(trimString(raw), "Bearer "))
}
