package sqlbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablemend/engine/pkg/apperrors"
)

func TestValidateIdentifier(t *testing.T) {
	assert.NoError(t, ValidateIdentifier("orders"))
	assert.NoError(t, ValidateIdentifier("_private$col"))
	assert.ErrorIs(t, ValidateIdentifier("orders; DROP TABLE users"), apperrors.ErrInvalidIdentifier)
	assert.ErrorIs(t, ValidateIdentifier(`bad"name`), apperrors.ErrInvalidIdentifier)
	assert.ErrorIs(t, ValidateIdentifier(""), apperrors.ErrInvalidIdentifier)
	assert.ErrorIs(t, ValidateIdentifier("1starts_with_digit"), apperrors.ErrInvalidIdentifier)
}

func TestQuoteTableRef(t *testing.T) {
	q, err := QuoteTableRef(DialectPostgres, "sales.orders")
	require.NoError(t, err)
	assert.Equal(t, `"sales"."orders"`, q)

	q, err = QuoteTableRef(DialectMSSQL, "orders")
	require.NoError(t, err)
	assert.Equal(t, "[orders]", q)

	_, err = QuoteTableRef(DialectPostgres, "a.b.c.d")
	assert.ErrorIs(t, err, apperrors.ErrInvalidIdentifier)
}

func TestQuoteLiteral(t *testing.T) {
	q, err := QuoteLiteral("42.5")
	require.NoError(t, err)
	assert.Equal(t, "42.5", q)

	q, err = QuoteLiteral("pending")
	require.NoError(t, err)
	assert.Equal(t, "'pending'", q)

	q, err = QuoteLiteral("it's")
	require.NoError(t, err)
	assert.Equal(t, "'it''s'", q)

	_, err = QuoteLiteral("' OR 1=1 --")
	assert.ErrorIs(t, err, apperrors.ErrInjectionDetected)
}

func TestScreenValues(t *testing.T) {
	assert.NoError(t, ScreenValues(map[string]any{"limit": 100, "name": "shipping_cost"}))
	assert.ErrorIs(t,
		ScreenValues(map[string]any{"search": "'; DROP TABLE orders--"}),
		apperrors.ErrInjectionDetected)
}

func TestValidateSingleStatement(t *testing.T) {
	got, err := ValidateSingleStatement("SELECT 1;")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", got)

	got, err = ValidateSingleStatement("SELECT 'a;b' AS v")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 'a;b' AS v", got)

	_, err = ValidateSingleStatement("SELECT 1; DROP TABLE orders")
	assert.ErrorIs(t, err, ErrMultipleStatements)
}

func TestBuilder_NullCount(t *testing.T) {
	b := New(DialectPostgres)
	stmt, err := b.NullCount("orders", "amount", TimeWindow{Column: "created_at", Days: 30})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT COUNT(*) AS n FROM "orders" WHERE "amount" IS NULL AND "created_at" >= NOW() - INTERVAL '30 days'`,
		stmt)

	stmt, err = b.NullCount("orders", "amount", TimeWindow{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) AS n FROM "orders" WHERE "amount" IS NULL`, stmt)
}

func TestBuilder_ConflictStats(t *testing.T) {
	b := New(DialectPostgres)
	stmt, err := b.ConflictStats("orders", "status", []string{"customer_id", "sku"})
	require.NoError(t, err)
	assert.Contains(t, stmt, `GROUP BY "customer_id", "sku"`)
	assert.Contains(t, stmt, `HAVING COUNT(DISTINCT "status") > 1`)

	_, err = b.ConflictStats("orders", "status", []string{"sku; DELETE FROM x"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidIdentifier)

	_, err = b.ConflictStats("orders", "status", nil)
	assert.Error(t, err)
}

func TestBuilder_AggregateValue(t *testing.T) {
	pg := New(DialectPostgres)
	ms := New(DialectMSSQL)

	stmt, err := pg.AggregateValue("orders", "amount", AggMedian)
	require.NoError(t, err)
	assert.Contains(t, stmt, "PERCENTILE_CONT(0.5) WITHIN GROUP")

	stmt, err = ms.AggregateValue("orders", "amount", AggMode)
	require.NoError(t, err)
	assert.Contains(t, stmt, "SELECT TOP (1)")

	stmt, err = pg.AggregateValue("orders", "amount", AggMode)
	require.NoError(t, err)
	assert.Contains(t, stmt, "LIMIT 1")

	_, err = pg.AggregateValue("orders", "amount", "stddev")
	assert.Error(t, err)
}

func TestBuilder_NullUpdate(t *testing.T) {
	pg := New(DialectPostgres)
	stmt, err := pg.NullUpdate("orders", "amount", "42.5")
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "orders" AS t0 SET "amount" = 42.5 WHERE t0."amount" IS NULL`, stmt)

	ms := New(DialectMSSQL)
	stmt, err = ms.NullUpdate("orders", "amount", "42.5")
	require.NoError(t, err)
	assert.Equal(t, `UPDATE t0 SET [amount] = 42.5 FROM [orders] AS t0 WHERE t0.[amount] IS NULL`, stmt)
}

func TestBuilder_ForwardFillExpr(t *testing.T) {
	pg := New(DialectPostgres)
	expr, err := pg.ForwardFillExpr("readings", "value", "recorded_at")
	require.NoError(t, err)
	assert.Contains(t, expr, `t1."recorded_at" <= t0."recorded_at"`)
	assert.Contains(t, expr, "LIMIT 1")
}

func TestBuilder_ConflictUpdate(t *testing.T) {
	pg := New(DialectPostgres)

	stmt, err := pg.ConflictUpdate("orders", "status", []string{"customer_id"}, "")
	require.NoError(t, err)
	assert.Contains(t, stmt, "ORDER BY COUNT(*) DESC LIMIT 1")
	assert.Contains(t, stmt, `COUNT(DISTINCT t2."status")`)

	stmt, err = pg.ConflictUpdate("orders", "amount", []string{"customer_id"}, AggMean)
	require.NoError(t, err)
	assert.Contains(t, stmt, `AVG(t1."amount")`)
}

func TestBuilder_AuditInsert(t *testing.T) {
	pg := New(DialectPostgres)
	where, err := pg.NullWhere("amount")
	require.NoError(t, err)

	stmt, err := pg.AuditInsert("orders_repair_audit", "orders", "id", "amount", "42.5", "plan-1", where)
	require.NoError(t, err)
	assert.Contains(t, stmt, `INSERT INTO "orders_repair_audit"`)
	assert.Contains(t, stmt, "'plan-1'")
	assert.Contains(t, stmt, `WHERE t0."amount" IS NULL`)
}

func TestBuilder_CloneTable(t *testing.T) {
	pg := New(DialectPostgres)
	stmts, err := pg.CloneTable("orders_fixing", "orders")
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, `DROP TABLE IF EXISTS "orders_fixing"`, stmts[0])
	assert.Equal(t, `CREATE TABLE "orders_fixing" AS SELECT * FROM "orders"`, stmts[1])

	ms := New(DialectMSSQL)
	stmts, err = ms.CloneTable("orders_fixing", "orders")
	require.NoError(t, err)
	assert.Contains(t, stmts[1], "SELECT * INTO [orders_fixing]")
}
