package datasource

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver for database/sql

	"github.com/tablemend/engine/pkg/sqlbuild"
)

// mssqlExecutor provides SQL Server query execution over database/sql.
type mssqlExecutor struct {
	db *sql.DB
}

// NewMSSQLExecutor creates a SQL Server query executor.
func NewMSSQLExecutor(ctx context.Context, connStr string) (QueryExecutor, error) {
	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlserver: %w", err)
	}
	return &mssqlExecutor{db: db}, nil
}

var _ QueryExecutor = (*mssqlExecutor)(nil)

// Query runs a SELECT statement and returns its rows.
func (e *mssqlExecutor) Query(ctx context.Context, sqlQuery string) (*QueryResult, error) {
	rows, err := e.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			val := values[i]
			// Text columns come back as []byte from the driver.
			if b, ok := val.([]byte); ok && isTextType(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			rowMap[col] = val
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &QueryResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// Execute runs a DML/DDL statement and returns the number of rows affected.
func (e *mssqlExecutor) Execute(ctx context.Context, sqlStatement string) (int64, error) {
	result, err := e.db.ExecContext(ctx, sqlStatement)
	if err != nil {
		return 0, fmt.Errorf("failed to execute statement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}

// Dialect reports the SQL dialect this executor speaks.
func (e *mssqlExecutor) Dialect() sqlbuild.Dialect {
	return sqlbuild.DialectMSSQL
}

// Close releases the database connection.
func (e *mssqlExecutor) Close() error {
	return e.db.Close()
}

func isTextType(dbType string) bool {
	switch dbType {
	case "VARCHAR", "NVARCHAR", "CHAR", "NCHAR", "TEXT", "NTEXT", "XML":
		return true
	}
	return false
}
