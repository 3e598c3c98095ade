package sqlbuild

import (
	"fmt"
	"strings"
)

// Aggregate names accepted by AggregateValue.
const (
	AggMedian = "median"
	AggMean   = "mean"
	AggMode   = "mode"
	AggMin    = "min"
	AggMax    = "max"
)

// TimeWindow restricts statements to rows whose time column falls inside
// the trailing window. A zero window means no temporal filtering.
type TimeWindow struct {
	Column string
	Days   int
}

// Enabled reports whether the window restricts anything.
func (w TimeWindow) Enabled() bool {
	return w.Column != "" && w.Days > 0
}

// Builder constructs dialect-specific SQL statements. All table and column
// arguments are validated against the identifier allow-list; an invalid
// identifier fails the build rather than being escaped into the statement.
type Builder struct {
	dialect Dialect
}

// New creates a builder for the given dialect.
func New(d Dialect) *Builder {
	return &Builder{dialect: d}
}

// Dialect returns the builder's dialect.
func (b *Builder) Dialect() Dialect {
	return b.dialect
}

func (b *Builder) timeCondition(alias string, w TimeWindow) (string, error) {
	if !w.Enabled() {
		return "", nil
	}
	if err := ValidateIdentifier(w.Column); err != nil {
		return "", err
	}
	col := QuoteIdentifier(b.dialect, w.Column)
	if alias != "" {
		col = alias + "." + col
	}
	if b.dialect == DialectMSSQL {
		return fmt.Sprintf("%s >= DATEADD(day, -%d, GETDATE())", col, w.Days), nil
	}
	return fmt.Sprintf("%s >= NOW() - INTERVAL '%d days'", col, w.Days), nil
}

// TotalCount builds a row-count statement for the table, windowed to the
// optional time filter.
func (b *Builder) TotalCount(tableRef string, window TimeWindow) (string, error) {
	table, err := QuoteTableRef(b.dialect, tableRef)
	if err != nil {
		return "", err
	}
	stmt := fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", table)
	cond, err := b.timeCondition("", window)
	if err != nil {
		return "", err
	}
	if cond != "" {
		stmt += " WHERE " + cond
	}
	return stmt, nil
}

// NullCount builds a null-count statement for the column.
func (b *Builder) NullCount(tableRef, column string, window TimeWindow) (string, error) {
	table, err := QuoteTableRef(b.dialect, tableRef)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	stmt := fmt.Sprintf("SELECT COUNT(*) AS n FROM %s WHERE %s IS NULL",
		table, QuoteIdentifier(b.dialect, column))
	cond, err := b.timeCondition("", window)
	if err != nil {
		return "", err
	}
	if cond != "" {
		stmt += " AND " + cond
	}
	return stmt, nil
}

// ConflictStats builds a statement returning the number of conflicted
// groups and the number of rows belonging to them. A group conflicts when
// it holds more than one distinct value for the column.
func (b *Builder) ConflictStats(tableRef, column string, groupBy []string) (string, error) {
	table, err := QuoteTableRef(b.dialect, tableRef)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	if len(groupBy) == 0 {
		return "", fmt.Errorf("conflict stats require group-by columns")
	}
	cols := make([]string, len(groupBy))
	for i, g := range groupBy {
		if err := ValidateIdentifier(g); err != nil {
			return "", err
		}
		cols[i] = QuoteIdentifier(b.dialect, g)
	}
	col := QuoteIdentifier(b.dialect, column)

	return fmt.Sprintf(
		"SELECT COUNT(*) AS conflict_groups, COALESCE(SUM(cnt), 0) AS conflict_rows FROM ("+
			"SELECT COUNT(*) AS cnt FROM %s GROUP BY %s HAVING COUNT(DISTINCT %s) > 1"+
			") AS conflicted",
		table, strings.Join(cols, ", "), col), nil
}

// AggregateValue builds a single-value aggregate query over the non-null
// values of the column. The result column is always named "v".
func (b *Builder) AggregateValue(tableRef, column, agg string) (string, error) {
	table, err := QuoteTableRef(b.dialect, tableRef)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	col := QuoteIdentifier(b.dialect, column)
	notNull := fmt.Sprintf("%s IS NOT NULL", col)

	switch agg {
	case AggMedian:
		if b.dialect == DialectMSSQL {
			return fmt.Sprintf(
				"SELECT DISTINCT PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY %s) OVER () AS v FROM %s WHERE %s",
				col, table, notNull), nil
		}
		return fmt.Sprintf(
			"SELECT PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY %s) AS v FROM %s WHERE %s",
			col, table, notNull), nil
	case AggMean:
		return fmt.Sprintf("SELECT AVG(%s) AS v FROM %s WHERE %s", col, table, notNull), nil
	case AggMin:
		return fmt.Sprintf("SELECT MIN(%s) AS v FROM %s WHERE %s", col, table, notNull), nil
	case AggMax:
		return fmt.Sprintf("SELECT MAX(%s) AS v FROM %s WHERE %s", col, table, notNull), nil
	case AggMode:
		if b.dialect == DialectMSSQL {
			return fmt.Sprintf(
				"SELECT TOP (1) %s AS v FROM %s WHERE %s GROUP BY %s ORDER BY COUNT(*) DESC",
				col, table, notNull, col), nil
		}
		return fmt.Sprintf(
			"SELECT %s AS v FROM %s WHERE %s GROUP BY %s ORDER BY COUNT(*) DESC LIMIT 1",
			col, table, notNull, col), nil
	default:
		return "", fmt.Errorf("unsupported aggregate %q", agg)
	}
}

// SampleCounts builds a statement returning total and null counts over a
// bounded sample of the table. Result columns: total, nulls.
func (b *Builder) SampleCounts(tableRef, column string, limit int64) (string, error) {
	table, err := QuoteTableRef(b.dialect, tableRef)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	col := QuoteIdentifier(b.dialect, column)
	if b.dialect == DialectMSSQL {
		return fmt.Sprintf(
			"SELECT COUNT(*) AS total, COUNT(*) - COUNT(v) AS nulls FROM (SELECT TOP (%d) %s AS v FROM %s) AS sample",
			limit, col, table), nil
	}
	return fmt.Sprintf(
		"SELECT COUNT(*) AS total, COUNT(*) - COUNT(v) AS nulls FROM (SELECT %s AS v FROM %s LIMIT %d) AS sample",
		col, table, limit), nil
}

// DistinctCount builds a distinct-count statement for the column.
func (b *Builder) DistinctCount(tableRef, column string) (string, error) {
	table, err := QuoteTableRef(b.dialect, tableRef)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	col := QuoteIdentifier(b.dialect, column)
	return fmt.Sprintf("SELECT COUNT(DISTINCT %s) AS n FROM %s WHERE %s IS NOT NULL",
		col, table, col), nil
}

// TopValues builds a statement returning the most frequent values of the
// column with their counts. Result columns: v, cnt.
func (b *Builder) TopValues(tableRef, column string, limit int) (string, error) {
	table, err := QuoteTableRef(b.dialect, tableRef)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	col := QuoteIdentifier(b.dialect, column)
	if b.dialect == DialectMSSQL {
		return fmt.Sprintf(
			"SELECT TOP (%d) %s AS v, COUNT(*) AS cnt FROM %s WHERE %s IS NOT NULL GROUP BY %s ORDER BY COUNT(*) DESC",
			limit, col, table, col, col), nil
	}
	return fmt.Sprintf(
		"SELECT %s AS v, COUNT(*) AS cnt FROM %s WHERE %s IS NOT NULL GROUP BY %s ORDER BY COUNT(*) DESC LIMIT %d",
		col, table, col, col, limit), nil
}

// ForwardFillExpr builds the fill expression for temporal forward fill:
// the latest non-null value at or before the row's own timestamp. The
// expression references the update target through the t0 alias that
// NullUpdate introduces.
func (b *Builder) ForwardFillExpr(tableRef, column, timeColumn string) (string, error) {
	table, err := QuoteTableRef(b.dialect, tableRef)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	if err := ValidateIdentifier(timeColumn); err != nil {
		return "", err
	}
	col := QuoteIdentifier(b.dialect, column)
	ts := QuoteIdentifier(b.dialect, timeColumn)

	if b.dialect == DialectMSSQL {
		return fmt.Sprintf(
			"(SELECT TOP (1) t1.%s FROM %s AS t1 WHERE t1.%s IS NOT NULL AND t1.%s <= t0.%s ORDER BY t1.%s DESC)",
			col, table, col, ts, ts, ts), nil
	}
	return fmt.Sprintf(
		"(SELECT t1.%s FROM %s AS t1 WHERE t1.%s IS NOT NULL AND t1.%s <= t0.%s ORDER BY t1.%s DESC LIMIT 1)",
		col, table, col, ts, ts, ts), nil
}

// NullUpdate builds the UPDATE filling nulls with the given expression.
// The target table is aliased t0 so correlated fill expressions can
// reference the row being updated.
func (b *Builder) NullUpdate(tableRef, column, fillExpr string) (string, error) {
	table, err := QuoteTableRef(b.dialect, tableRef)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	col := QuoteIdentifier(b.dialect, column)

	var stmt string
	if b.dialect == DialectMSSQL {
		stmt = fmt.Sprintf("UPDATE t0 SET %s = %s FROM %s AS t0 WHERE t0.%s IS NULL",
			col, fillExpr, table, col)
	} else {
		stmt = fmt.Sprintf("UPDATE %s AS t0 SET %s = %s WHERE t0.%s IS NULL",
			table, col, fillExpr, col)
	}
	if _, err := ValidateSingleStatement(stmt); err != nil {
		return "", err
	}
	return stmt, nil
}

func (b *Builder) groupMatch(outer, inner string, groupBy []string) (string, error) {
	conds := make([]string, len(groupBy))
	for i, g := range groupBy {
		if err := ValidateIdentifier(g); err != nil {
			return "", err
		}
		q := QuoteIdentifier(b.dialect, g)
		conds[i] = fmt.Sprintf("%s.%s = %s.%s", inner, q, outer, q)
	}
	return strings.Join(conds, " AND "), nil
}

// conflictWinnerExpr builds the per-group replacement value: a group
// aggregate when the strategy calls for one, otherwise the most frequent
// value in the group.
func (b *Builder) conflictWinnerExpr(table, col string, groupBy []string, aggregate string) (string, error) {
	match, err := b.groupMatch("t0", "t1", groupBy)
	if err != nil {
		return "", err
	}

	switch aggregate {
	case AggMean:
		return fmt.Sprintf("(SELECT AVG(t1.%s) FROM %s AS t1 WHERE %s AND t1.%s IS NOT NULL)",
			col, table, match, col), nil
	case AggMedian:
		if b.dialect == DialectMSSQL {
			return fmt.Sprintf(
				"(SELECT DISTINCT PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY t1.%s) OVER () FROM %s AS t1 WHERE %s AND t1.%s IS NOT NULL)",
				col, table, match, col), nil
		}
		return fmt.Sprintf(
			"(SELECT PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY t1.%s) FROM %s AS t1 WHERE %s AND t1.%s IS NOT NULL)",
			col, table, match, col), nil
	default:
		// Most frequent value per group.
		if b.dialect == DialectMSSQL {
			return fmt.Sprintf(
				"(SELECT TOP (1) t1.%s FROM %s AS t1 WHERE %s AND t1.%s IS NOT NULL GROUP BY t1.%s ORDER BY COUNT(*) DESC)",
				col, table, match, col, col), nil
		}
		return fmt.Sprintf(
			"(SELECT t1.%s FROM %s AS t1 WHERE %s AND t1.%s IS NOT NULL GROUP BY t1.%s ORDER BY COUNT(*) DESC LIMIT 1)",
			col, table, match, col, col), nil
	}
}

// ConflictWhere returns the conflict-repair mutation condition against
// alias t0: the row's group holds more than one distinct value.
func (b *Builder) ConflictWhere(tableRef, column string, groupBy []string) (string, error) {
	table, err := QuoteTableRef(b.dialect, tableRef)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	match, err := b.groupMatch("t0", "t2", groupBy)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(SELECT COUNT(DISTINCT t2.%s) FROM %s AS t2 WHERE %s) > 1",
		QuoteIdentifier(b.dialect, column), table, match), nil
}

// ConflictUpdate builds the UPDATE resolving per-group conflicts.
// aggregate is AggMean or AggMedian for group-aggregate strategies, or
// empty for the majority-value winner.
func (b *Builder) ConflictUpdate(tableRef, column string, groupBy []string, aggregate string) (string, error) {
	table, err := QuoteTableRef(b.dialect, tableRef)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	if len(groupBy) == 0 {
		return "", fmt.Errorf("conflict update requires group-by columns")
	}
	col := QuoteIdentifier(b.dialect, column)

	winner, err := b.conflictWinnerExpr(table, col, groupBy, aggregate)
	if err != nil {
		return "", err
	}
	guard, err := b.ConflictWhere(tableRef, column, groupBy)
	if err != nil {
		return "", err
	}

	if b.dialect == DialectMSSQL {
		return fmt.Sprintf("UPDATE t0 SET %s = %s FROM %s AS t0 WHERE %s",
			col, winner, table, guard), nil
	}
	return fmt.Sprintf("UPDATE %s AS t0 SET %s = %s WHERE %s",
		table, col, winner, guard), nil
}

// AuditInsert builds the audit capture that precedes a mutation: one row
// per to-be-updated source row with before and after values.
// whereCond is the mutation's own condition expressed against alias t0.
func (b *Builder) AuditInsert(auditTable, tableRef, rowIDColumn, column, afterExpr, planID, whereCond string) (string, error) {
	audit, err := QuoteTableRef(b.dialect, auditTable)
	if err != nil {
		return "", err
	}
	table, err := QuoteTableRef(b.dialect, tableRef)
	if err != nil {
		return "", err
	}
	if err := ValidateIdentifier(rowIDColumn); err != nil {
		return "", err
	}
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	colLiteral, err := QuoteLiteral(column)
	if err != nil {
		return "", err
	}
	planLiteral, err := QuoteLiteral(planID)
	if err != nil {
		return "", err
	}
	rowID := QuoteIdentifier(b.dialect, rowIDColumn)
	col := QuoteIdentifier(b.dialect, column)

	return fmt.Sprintf(
		"INSERT INTO %s (row_id, column_name, before_value, after_value, plan_id) "+
			"SELECT CAST(t0.%s AS VARCHAR(64)), %s, CAST(t0.%s AS VARCHAR(4000)), CAST(%s AS VARCHAR(4000)), %s "+
			"FROM %s AS t0 WHERE %s",
		audit, rowID, colLiteral, col, afterExpr, planLiteral, table, whereCond), nil
}

// NullWhere returns the null-repair mutation condition against alias t0.
func (b *Builder) NullWhere(column string) (string, error) {
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	return fmt.Sprintf("t0.%s IS NULL", QuoteIdentifier(b.dialect, column)), nil
}

// CloneTable builds the statements that materialize the fixing table as a
// copy of the source, replacing any previous clone.
func (b *Builder) CloneTable(fixingTable, sourceTable string) ([]string, error) {
	fixing, err := QuoteTableRef(b.dialect, fixingTable)
	if err != nil {
		return nil, err
	}
	source, err := QuoteTableRef(b.dialect, sourceTable)
	if err != nil {
		return nil, err
	}

	if b.dialect == DialectMSSQL {
		fixingLiteral, err := QuoteLiteral(fixingTable)
		if err != nil {
			return nil, err
		}
		return []string{
			fmt.Sprintf("IF OBJECT_ID(%s, 'U') IS NOT NULL DROP TABLE %s", fixingLiteral, fixing),
			fmt.Sprintf("SELECT * INTO %s FROM %s", fixing, source),
		}, nil
	}
	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", fixing),
		fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", fixing, source),
	}, nil
}
