package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/tablemend/engine/pkg/jsonutil"
)

// SignatureOf computes a deterministic hash over a set of named fields.
// Keys are sorted, values stringified, so the same logical content always
// produces the same signature regardless of map iteration order or the
// numeric type a value arrived as.
func SignatureOf(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, jsonutil.Stringify(fields[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
