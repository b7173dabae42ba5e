package convert

import (
	"math"
	"strconv"

	"github.com/strahe/waltap/internal/pgwire"
)

// PostgreSQL type OIDs this converter package knows how to coerce.
// Everything else renders as a JSON string.
const (
	OIDBool    = 16
	OIDInt8    = 20
	OIDInt2    = 21
	OIDInt4    = 23
	OIDFloat4  = 700
	OIDFloat8  = 701
	OIDNumeric = 1700
)

// Coerce re-types the textual value of a column according to its
// type_oid. It returns (value, true) when the key should be included
// in the rendered object, or (nil, false) when the column was
// Unchanged and must be omitted entirely. Null always renders as a
// present JSON null.
func Coerce(typeOID uint32, v pgwire.TupleValue) (any, bool) {
	switch v.Kind {
	case pgwire.ValueNull:
		return nil, true
	case pgwire.ValueUnchanged:
		return nil, false
	case pgwire.ValueText:
		return coerceText(typeOID, string(v.Text)), true
	default:
		return nil, false
	}
}

func coerceText(typeOID uint32, s string) any {
	switch typeOID {
	case OIDBool:
		switch s {
		case "t":
			return true
		case "f":
			return false
		default:
			return s
		}
	case OIDInt8, OIDInt2, OIDInt4:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return s
	case OIDFloat4, OIDFloat8:
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return f
		}
		return s
	case OIDNumeric:
		return s
	default:
		return s
	}
}
