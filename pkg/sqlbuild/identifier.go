// Package sqlbuild constructs the SQL used by repair planning and
// application. All dynamic identifiers are allow-listed and quoted, and all
// dynamic string literals are screened for injection patterns before they
// are embedded in generated statements.
package sqlbuild

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tablemend/engine/pkg/apperrors"
)

// Dialect selects identifier quoting and row-limit syntax.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMSSQL    Dialect = "mssql"
)

// identPattern is the allow-listed identifier shape. Dynamic group-by
// column names and table parts must match it; anything else is rejected
// rather than escaped.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]{0,62}$`)

// ValidateIdentifier checks a single (unqualified) identifier.
func ValidateIdentifier(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidIdentifier, name)
	}
	return nil
}

// QuoteIdentifier quotes a validated identifier for the dialect.
// Callers must run ValidateIdentifier first; quoting is a second fence,
// not the primary defense.
func QuoteIdentifier(d Dialect, name string) string {
	switch d {
	case DialectMSSQL:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// QuoteTableRef validates and quotes a possibly schema-qualified table
// reference ("schema.table" or "table").
func QuoteTableRef(d Dialect, ref string) (string, error) {
	parts := strings.Split(ref, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidIdentifier, ref)
	}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		if err := ValidateIdentifier(p); err != nil {
			return "", err
		}
		quoted[i] = QuoteIdentifier(d, p)
	}
	return strings.Join(quoted, "."), nil
}

// QuoteLiteral renders a string as a SQL literal after screening it for
// injection patterns. Values that parse as plain numbers pass through
// unquoted so numeric fill expressions stay numeric.
func QuoteLiteral(value string) (string, error) {
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value, nil
	}
	if err := ScreenValue("literal", value); err != nil {
		return "", err
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'", nil
}
