package profile

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists profiles. Implementations return ErrNotFound and
// ErrDuplicateName; names are unique case-insensitively.
type Repository interface {
	Create(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	GetByName(ctx context.Context, name string) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List returns one page ordered by name, plus the total count. A
	// non-empty nameFilter matches names containing it, ignoring case.
	List(ctx context.Context, nameFilter string, limit, offset int) ([]*Profile, int, error)
}
