package services

import (
	"fmt"

	"github.com/jinzhu/inflection"
)

// countNoun renders "1 value" / "42 values" style phrases.
func countNoun(n int64, singular string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, inflection.Plural(singular))
}
