package hl7v2

import "strings"

// Default HL7 v2 delimiters. Other encoding characters are not supported.
const (
	SegmentSeparator      = "\r"
	FieldSeparator        = "|"
	ComponentSeparator    = "^"
	RepetitionSeparator   = "~"
	EscapeCharacter       = "\\"
	SubComponentSeparator = "&"

	// EncodingCharacters is MSH-2.
	EncodingCharacters = ComponentSeparator + RepetitionSeparator + EscapeCharacter + SubComponentSeparator
)

var (
	escaper = strings.NewReplacer(
		`\`, `\E\`,
		`|`, `\F\`,
		`^`, `\S\`,
		`~`, `\R\`,
		`&`, `\T\`,
		"\r", `\X0D\`,
		"\n", `\X0A\`,
	)
	unescaper = strings.NewReplacer(
		`\E\`, `\`,
		`\F\`, `|`,
		`\S\`, `^`,
		`\R\`, `~`,
		`\T\`, `&`,
		`\X0D\`, "\r",
		`\X0A\`, "\n",
	)
)

// Escape replaces delimiter characters in a data value with HL7 escape sequences.
func Escape(s string) string {
	if !strings.ContainsAny(s, "\\|^~&\r\n") {
		return s
	}
	return escaper.Replace(s)
}

// Unescape reverses Escape.
func Unescape(s string) string {
	if !strings.Contains(s, EscapeCharacter) {
		return s
	}
	return unescaper.Replace(s)
}
