package definitions

import "strings"

// DefaultVersion is the HL7 schema edition used when a caller supplies none.
const DefaultVersion = "2.5"

// NormalizeVersion maps user input onto the version strings the definition
// service publishes: "" -> "2.5", "7" -> "2.7", "2.6" -> "2.6". Anything else
// is returned trimmed but otherwise untouched.
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultVersion
	}
	if strings.HasPrefix(v, "2.") {
		return v
	}
	if isDigits(v) {
		return "2." + v
	}
	return v
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
