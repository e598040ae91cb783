package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/hl7mapper/hl7mapper/internal/domain/profile"
	"github.com/hl7mapper/hl7mapper/internal/platform/db"
	"github.com/hl7mapper/hl7mapper/internal/platform/hl7v2"
)

func TestProfileCRUD(t *testing.T) {
	ctx := context.Background()
	repo := profile.NewProfileRepoPG(globalPool)

	p := &profile.Profile{
		Name:        uniqueName("adt"),
		Description: "admit feed",
		Version:     "2.5",
		Mappings: []hl7v2.Mapping{
			{JSONPath: "patient.id", Segment: "PID", Field: 3},
			{JSONPath: "patient.ln", Segment: "PID", Field: 5, Component: hl7v2.Component(1)},
		},
	}

	t.Run("Create", func(t *testing.T) {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create profile: %v", err)
		}
		if p.ID == uuid.Nil {
			t.Fatal("expected non-nil ID after create")
		}
		if p.CreatedAt.IsZero() {
			t.Fatal("expected created_at to be set")
		}
	})
	defer deleteProfile(t, ctx, p.ID)

	t.Run("GetByID", func(t *testing.T) {
		got, err := repo.GetByID(ctx, p.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Name != p.Name || got.Description != "admit feed" || got.Version != "2.5" {
			t.Errorf("unexpected profile: %+v", got)
		}
		if len(got.Mappings) != 2 || got.Mappings[1].ComponentIndex() != 1 || got.Mappings[0].Component != nil {
			t.Errorf("mappings did not survive JSONB round trip: %+v", got.Mappings)
		}
	})

	t.Run("GetByName", func(t *testing.T) {
		got, err := repo.GetByName(ctx, p.Name)
		if err != nil {
			t.Fatalf("GetByName: %v", err)
		}
		if got.ID != p.ID {
			t.Errorf("expected %s, got %s", p.ID, got.ID)
		}
	})

	t.Run("DuplicateName", func(t *testing.T) {
		dup := &profile.Profile{Name: p.Name}
		if err := repo.Create(ctx, dup); !errors.Is(err, profile.ErrDuplicateName) {
			t.Errorf("expected ErrDuplicateName, got %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		p.Version = "2.5.1"
		p.Mappings = p.Mappings[:1]
		if err := repo.Update(ctx, p); err != nil {
			t.Fatalf("Update: %v", err)
		}
		got, _ := repo.GetByID(ctx, p.ID)
		if got.Version != "2.5.1" || len(got.Mappings) != 1 {
			t.Errorf("update not persisted: %+v", got)
		}
		if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
			t.Errorf("expected updated_at >= created_at")
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		ghost := &profile.Profile{ID: uuid.New(), Name: uniqueName("ghost")}
		if err := repo.Update(ctx, ghost); !errors.Is(err, profile.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, p.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := repo.GetByID(ctx, p.ID); !errors.Is(err, profile.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestProfileList(t *testing.T) {
	ctx := context.Background()
	repo := profile.NewProfileRepoPG(globalPool)

	prefix := uniqueName("list")
	for _, suffix := range []string{"_c", "_a", "_b"} {
		p := &profile.Profile{Name: prefix + suffix}
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
		defer deleteProfile(t, ctx, p.ID)
	}

	items, total, err := repo.List(ctx, prefix, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("expected 2 of 3, got %d of %d", len(items), total)
	}
	if items[0].Name != prefix+"_a" || items[1].Name != prefix+"_b" {
		t.Errorf("expected name order, got %q, %q", items[0].Name, items[1].Name)
	}

	// underscores in the filter are literal, not LIKE wildcards
	if _, total, _ := repo.List(ctx, prefix+"__", 10, 0); total != 0 {
		t.Errorf("expected escaped filter to match nothing, got %d", total)
	}
}

func TestMigrator_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := db.NewMigrator(globalPool, profile.Migrations())

	n, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no pending migrations, applied %d", n)
	}

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("expected at least one migration")
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("expected migration %d to be applied", s.Version)
		}
	}
}
