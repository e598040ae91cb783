package profile

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hl7mapper/hl7mapper/internal/platform/hl7v2"
)

type Service struct {
	repo      Repository
	assembler *hl7v2.Assembler
	logger    zerolog.Logger
}

func NewService(repo Repository, assembler *hl7v2.Assembler, logger zerolog.Logger) *Service {
	return &Service{repo: repo, assembler: assembler, logger: logger}
}

func (s *Service) CreateProfile(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	s.logger.Info().Str("profile_id", p.ID.String()).Str("name", p.Name).Int("mappings", len(p.Mappings)).Msg("profile created")
	return nil
}

func (s *Service) GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetProfileByName(ctx context.Context, name string) (*Profile, error) {
	return s.repo.GetByName(ctx, name)
}

func (s *Service) UpdateProfile(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	s.logger.Info().Str("profile_id", p.ID.String()).Msg("profile updated")
	return nil
}

func (s *Service) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("profile_id", id.String()).Msg("profile deleted")
	return nil
}

func (s *Service) ListProfiles(ctx context.Context, nameFilter string, limit, offset int) ([]*Profile, int, error) {
	return s.repo.List(ctx, nameFilter, limit, offset)
}

// Assemble builds a message from doc with the stored mappings. A non-empty
// version overrides the profile's own.
func (s *Service) Assemble(ctx context.Context, id uuid.UUID, doc []byte, version string) (string, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if version == "" {
		version = p.Version
	}
	return s.assembler.Assemble(doc, p.Mappings, version)
}
