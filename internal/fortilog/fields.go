package fortilog

import "strconv"

// FieldString reads a parsed field as a string. Integer-coerced values are
// formatted back to their decimal form; missing keys yield "".
func FieldString(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// FieldInt reads a parsed field as an int64. String values that were not
// coerced (and missing keys) yield 0.
func FieldInt(fields map[string]any, key string) int64 {
	if v, ok := fields[key].(int64); ok {
		return v
	}
	return 0
}
