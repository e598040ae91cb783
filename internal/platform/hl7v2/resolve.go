package hl7v2

import (
	"math"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// ResolvePath walks doc one dotted step at a time and returns the value at
// path as text. Numeric steps index into arrays. The second result is false
// when any step is missing or the final value is null or an empty string.
func ResolvePath(doc []byte, path string) (string, bool) {
	if path == "" {
		return "", false
	}

	cur, typ, _, err := jsonparser.Get(doc)
	if err != nil {
		return "", false
	}

	for _, step := range strings.Split(path, ".") {
		if step == "" {
			return "", false
		}
		switch typ {
		case jsonparser.Object:
			if strings.HasPrefix(step, "[") {
				return "", false
			}
			cur, typ, _, err = jsonparser.Get(cur, step)
		case jsonparser.Array:
			if !isIndex(step) {
				return "", false
			}
			cur, typ, _, err = jsonparser.Get(cur, "["+step+"]")
		default:
			return "", false
		}
		if err != nil || typ == jsonparser.NotExist {
			return "", false
		}
	}

	return scalarText(cur, typ)
}

func scalarText(raw []byte, typ jsonparser.ValueType) (string, bool) {
	switch typ {
	case jsonparser.Null, jsonparser.NotExist, jsonparser.Unknown:
		return "", false
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil || s == "" {
			return "", false
		}
		return s, true
	case jsonparser.Number:
		f, err := jsonparser.ParseFloat(raw)
		if err != nil {
			return string(raw), true
		}
		return formatNumber(f), true
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	default:
		// objects and arrays are emitted as their JSON text
		return string(raw), true
	}
}

// formatNumber prints integers without a fraction and keeps plain decimal
// notation for the range where JavaScript does too.
func formatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	// 1e-07 -> 1e-7
	s = strings.Replace(s, "e-0", "e-", 1)
	return strings.Replace(s, "e+0", "e+", 1)
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
