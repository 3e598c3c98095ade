package sqlbuild

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/tablemend/engine/pkg/apperrors"
)

// ScreenValue runs libinjection over a dynamic string value before it is
// embedded in generated SQL. Returns an error carrying the libinjection
// fingerprint when an injection pattern is detected.
func ScreenValue(name, value string) error {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if isSQLi {
		return fmt.Errorf("%w: parameter %q (fingerprint %s)",
			apperrors.ErrInjectionDetected, name, string(fingerprint))
	}
	return nil
}

// ScreenValues screens every string in a parameter map. Non-string values
// cannot carry injection payloads and are skipped.
func ScreenValues(params map[string]any) error {
	for name, value := range params {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if err := ScreenValue(name, s); err != nil {
			return err
		}
	}
	return nil
}
