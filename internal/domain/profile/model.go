package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hl7mapper/hl7mapper/internal/platform/definitions"
	"github.com/hl7mapper/hl7mapper/internal/platform/hl7v2"
)

var (
	ErrNotFound      = errors.New("profile not found")
	ErrDuplicateName = errors.New("a profile with this name already exists")
)

// Profile is a named, reusable set of mappings. Version is written to
// MSH-12 when the profile is assembled.
type Profile struct {
	ID          uuid.UUID       `json:"id" yaml:"-"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string          `json:"version" yaml:"version"`
	Mappings    []hl7v2.Mapping `json:"mappings" yaml:"mappings"`
	CreatedAt   time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time       `json:"updated_at" yaml:"-"`
}

// Validate requires a name and at least one mapping, and checks every mapping.
func (p *Profile) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return &definitions.ValidationError{Field: "name", Message: "is required"}
	}
	if len(p.Name) > 200 {
		return &definitions.ValidationError{Field: "name", Message: "must be at most 200 characters"}
	}
	if len(p.Mappings) == 0 {
		return &definitions.ValidationError{Field: "mappings", Message: "at least one mapping is required"}
	}
	for i, m := range p.Mappings {
		if err := m.Validate(); err != nil {
			var vErr *definitions.ValidationError
			if errors.As(err, &vErr) {
				return &definitions.ValidationError{
					Field:   fmt.Sprintf("mappings[%d].%s", i, vErr.Field),
					Message: vErr.Message,
				}
			}
			return err
		}
	}
	return nil
}
