package profile

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hl7mapper/hl7mapper/internal/platform/hl7v2"
	"github.com/hl7mapper/hl7mapper/pkg/pagination"
)

type memoryRepo struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]*Profile
	now      func() time.Time
}

// NewMemoryRepo returns a process-local Repository. It is used when no
// database is configured.
func NewMemoryRepo() Repository {
	return &memoryRepo{profiles: make(map[uuid.UUID]*Profile), now: time.Now}
}

func clone(p *Profile) *Profile {
	out := *p
	out.Mappings = slices.Clone(p.Mappings)
	for i, m := range out.Mappings {
		if m.Component != nil {
			out.Mappings[i].Component = hl7v2.Component(*m.Component)
		}
	}
	return &out
}

func (r *memoryRepo) nameTaken(name string, except uuid.UUID) bool {
	for id, p := range r.profiles {
		if id != except && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

func (r *memoryRepo) Create(_ context.Context, p *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameTaken(p.Name, uuid.Nil) {
		return ErrDuplicateName
	}
	p.ID = uuid.New()
	p.CreatedAt = r.now().UTC()
	p.UpdatedAt = p.CreatedAt
	r.profiles[p.ID] = clone(p)
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (r *memoryRepo) GetByName(_ context.Context, name string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.profiles {
		if strings.EqualFold(p.Name, name) {
			return clone(p), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRepo) Update(_ context.Context, p *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.profiles[p.ID]
	if !ok {
		return ErrNotFound
	}
	if r.nameTaken(p.Name, p.ID) {
		return ErrDuplicateName
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = r.now().UTC()
	r.profiles[p.ID] = clone(p)
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[id]; !ok {
		return ErrNotFound
	}
	delete(r.profiles, id)
	return nil
}

func (r *memoryRepo) List(_ context.Context, nameFilter string, limit, offset int) ([]*Profile, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filter := strings.ToLower(nameFilter)
	var matched []*Profile
	for _, p := range r.profiles {
		if filter == "" || strings.Contains(strings.ToLower(p.Name), filter) {
			matched = append(matched, p)
		}
	}
	slices.SortFunc(matched, func(a, b *Profile) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	start, end := pagination.New(limit, offset).Window(len(matched))
	page := make([]*Profile, 0, end-start)
	for _, p := range matched[start:end] {
		page = append(page, clone(p))
	}
	return page, len(matched), nil
}
