package nms

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Int64Value accepts JSON numbers and numeric strings holding an integer.
func Int64Value(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// FloatValue accepts JSON numbers and numeric strings.
func FloatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// StringValue renders scalars as strings. Whole numbers are printed without
// a fractional part so 3 and "3" compare equal.
func StringValue(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case float64:
		if s == math.Trunc(s) && math.Abs(s) < 1e15 {
			return strconv.FormatInt(int64(s), 10), true
		}
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case json.Number:
		return s.String(), true
	default:
		return "", false
	}
}

// IsUp reports whether an NMS status value means the node is reachable.
// LibreNMS uses 1/0; booleans and up/down strings are accepted as well.
func IsUp(v any) bool {
	switch s := v.(type) {
	case bool:
		return s
	case float64:
		return s == 1
	case int:
		return s == 1
	case int64:
		return s == 1
	case json.Number:
		return s.String() == "1"
	case string:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "up", "true", "online":
			return true
		}
	}
	return false
}
