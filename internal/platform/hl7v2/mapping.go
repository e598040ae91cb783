package hl7v2

import (
	"fmt"
	"strings"

	"github.com/hl7mapper/hl7mapper/internal/platform/definitions"
)

// Upper bounds for mapped positions.
const (
	MaxField     = 999
	MaxComponent = 999
)

// Mapping binds a dotted JSON path to a segment field, or to a component of
// that field when Component is set.
type Mapping struct {
	JSONPath  string `json:"jsonPath" yaml:"jsonPath"`
	Segment   string `json:"segment" yaml:"segment"`
	Field     int    `json:"field" yaml:"field"`
	Component *int   `json:"component,omitempty" yaml:"component,omitempty"`
}

// ComponentIndex returns the 1-based component number, or 0 when the
// mapping targets the whole field.
func (m Mapping) ComponentIndex() int {
	if m.Component == nil || *m.Component < 1 {
		return 0
	}
	return *m.Component
}

// SegmentID returns the uppercased segment identifier.
func (m Mapping) SegmentID() string {
	return strings.ToUpper(strings.TrimSpace(m.Segment))
}

// Validate reports the first missing or out-of-range attribute.
func (m Mapping) Validate() error {
	switch {
	case strings.TrimSpace(m.JSONPath) == "":
		return &definitions.ValidationError{Field: "jsonPath", Message: "is required"}
	case m.SegmentID() == "":
		return &definitions.ValidationError{Field: "segment", Message: "is required"}
	case m.Field < 1:
		return &definitions.ValidationError{Field: "field", Message: "must be a positive integer"}
	case m.Field > MaxField:
		return &definitions.ValidationError{Field: "field", Message: fmt.Sprintf("must not exceed %d", MaxField)}
	case m.Component != nil && *m.Component < 0:
		return &definitions.ValidationError{Field: "component", Message: "must be a positive integer"}
	case m.Component != nil && *m.Component > MaxComponent:
		return &definitions.ValidationError{Field: "component", Message: fmt.Sprintf("must not exceed %d", MaxComponent)}
	}
	return nil
}

// inRange reports whether the target position can be written.
func (m Mapping) inRange() bool {
	return m.Field >= 1 && m.Field <= MaxField && m.ComponentIndex() <= MaxComponent
}

// Component is a convenience for building mappings in code.
func Component(n int) *int { return &n }
