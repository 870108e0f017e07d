package validate

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// RowHash maps a row to {column: value}, serializes it as JSON with
// lexicographically sorted keys (encoding/json sorts map keys), and returns
// the MD5 hex digest. Two rows match iff their hashes match, so no full row
// snapshots need to be stored for comparison.
func RowHash(columns []string, row []any) string {
	m := make(map[string]any, len(columns))
	for i, c := range columns {
		var v any
		if i < len(row) {
			v = row[i]
		}
		m[c] = canonicalValue(v)
	}
	b, err := json.Marshal(m)
	if err != nil {
		// Unserializable driver values fall back to their Go formatting.
		b = []byte(fmt.Sprintf("%v", m))
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// canonicalValue folds driver-specific value representations into a single
// form so the same logical value hashes identically on both sides.
func canonicalValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return canonicalUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return canonicalUint(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// canonicalUint folds unsigned values into int64 where they fit. Values
// past MaxInt64 become their decimal string instead of wrapping negative.
func canonicalUint(v uint64) any {
	if v > math.MaxInt64 {
		return strconv.FormatUint(v, 10)
	}
	return int64(v)
}
