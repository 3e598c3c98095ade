package datasource

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tablemend/engine/pkg/sqlbuild"
)

// postgresExecutor provides PostgreSQL query execution over a pgx pool.
type postgresExecutor struct {
	pool *pgxpool.Pool
}

// NewPostgresExecutor creates a PostgreSQL query executor.
func NewPostgresExecutor(ctx context.Context, connStr string) (QueryExecutor, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &postgresExecutor{pool: pool}, nil
}

var _ QueryExecutor = (*postgresExecutor)(nil)

// Query runs a SELECT statement and returns its rows.
func (e *postgresExecutor) Query(ctx context.Context, sqlQuery string) (*QueryResult, error) {
	rows, err := e.pool.Query(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = values[i]
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
func (e *postgresExecutor) Execute(ctx context.Context, sqlStatement string) (int64, error) {
	tag, err := e.pool.Exec(ctx, sqlStatement)
	if err != nil {
		return 0, fmt.Errorf("failed to execute statement: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Dialect reports the SQL dialect this executor speaks.
func (e *postgresExecutor) Dialect() sqlbuild.Dialect {
	return sqlbuild.DialectPostgres
}

// Close releases the connection pool.
func (e *postgresExecutor) Close() error {
	e.pool.Close()
	return nil
}
