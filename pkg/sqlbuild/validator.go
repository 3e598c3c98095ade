package sqlbuild

import (
	"errors"
	"strings"
)

// ErrMultipleStatements indicates the text contains more than one SQL
// statement. Generated previews are always single statements; anything
// else means a builder bug or a smuggled payload.
var ErrMultipleStatements = errors.New("multiple SQL statements not allowed")

// ValidateSingleStatement normalizes a statement (strips the trailing
// semicolon) and rejects any remaining semicolon outside string literals.
func ValidateSingleStatement(sqlText string) (string, error) {
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return "", nil
	}

	normalized := stripTrailingSemicolon(sqlText)
	if hasSemicolonOutsideStrings(normalized) {
		return "", ErrMultipleStatements
	}
	return normalized, nil
}

func hasSemicolonOutsideStrings(sqlText string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prev := rune(0)

	for _, char := range sqlText {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// Doubled quote ('') exits and immediately re-enters, which
			// keeps us tracking the string correctly.
			if char == '\'' && prev != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prev != '\\' {
				state = stateNormal
			}
		}
		prev = char
	}

	return false
}

func stripTrailingSemicolon(sqlText string) string {
	sqlText = strings.TrimRight(sqlText, " \t\n\r")
	if strings.HasSuffix(sqlText, ";") {
		sqlText = strings.TrimRight(strings.TrimSuffix(sqlText, ";"), " \t\n\r")
	}
	return sqlText
}
