// Package normalize provides canonical forms for values crossing the
// wire boundary.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ID coerces a JSON-decoded envelope field into an int64 identifier.
// Clients are inconsistent about numeric fields: encoding/json hands us
// float64 for numbers, and some clients send ids as strings. Returns
// false when the value cannot be read as a whole number.
func ID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		id := int64(n)
		if float64(id) != n {
			return 0, false
		}
		return id, true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		id, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return id, true
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}
