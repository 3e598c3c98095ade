// Package datasource provides adapters for executing SQL against the
// analyzed source database.
package datasource

import (
	"context"

	"github.com/tablemend/engine/pkg/sqlbuild"
)

// QueryResult holds the results from executing a query.
type QueryResult struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// QueryExecutor executes SQL against a datasource.
// Each implementation owns its connection and must be closed when done.
type QueryExecutor interface {
	// Query runs a SELECT statement and returns its rows.
	Query(ctx context.Context, sqlQuery string) (*QueryResult, error)

	// Execute runs a DML/DDL statement and returns the number of rows affected.
	Execute(ctx context.Context, sqlStatement string) (int64, error)

	// Dialect reports the SQL dialect this executor speaks.
	Dialect() sqlbuild.Dialect

	// Close releases any resources held by the executor.
	Close() error
}
