package datasource

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tablemend/engine/pkg/config"
)

// NewQueryExecutor creates a query executor for the configured datasource type.
func NewQueryExecutor(ctx context.Context, cfg *config.DatasourceConfig) (QueryExecutor, error) {
	switch cfg.Type {
	case "postgres":
		return NewPostgresExecutor(ctx, postgresConnString(cfg))
	case "mssql":
		return NewMSSQLExecutor(ctx, mssqlConnString(cfg))
	default:
		return nil, fmt.Errorf("unsupported datasource type: %s", cfg.Type)
	}
}

func postgresConnString(cfg *config.DatasourceConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}

func mssqlConnString(cfg *config.DatasourceConfig) string {
	query := url.Values{}
	query.Set("database", cfg.Database)
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}
