package entity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/switch-dimmer/internal/infrastructure/config"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/database"
	"github.com/nerrad567/switch-dimmer/migrations"
)

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()

	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "entity.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	r := NewRegistry(db.DB)
	r.now = func() time.Time { return time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC) }
	return r
}

func TestRegistry_HideIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := setupTestRegistry(t)

	changed, err := r.Hide(ctx, "switch.hall_up")
	if err != nil || !changed {
		t.Fatalf("first Hide() = %v, %v; want true, nil", changed, err)
	}
	changed, err = r.Hide(ctx, "switch.hall_up")
	if err != nil || changed {
		t.Fatalf("second Hide() = %v, %v; want false, nil", changed, err)
	}

	by, err := r.HiddenBy(ctx, "switch.hall_up")
	if err != nil || by != HiddenByIntegration {
		t.Errorf("HiddenBy() = %q, %v; want integration", by, err)
	}
}

func TestRegistry_HideKeepsUserChoice(t *testing.T) {
	ctx := context.Background()
	r := setupTestRegistry(t)

	if err := r.SetHiddenBy(ctx, "switch.hall_up", "user"); err != nil {
		t.Fatal(err)
	}
	changed, err := r.Hide(ctx, "switch.hall_up")
	if err != nil || changed {
		t.Fatalf("Hide() = %v, %v; want false, nil", changed, err)
	}
	if by, _ := r.HiddenBy(ctx, "switch.hall_up"); by != "user" {
		t.Errorf("HiddenBy() = %q, want user", by)
	}
}

func TestRegistry_HideVisibleEntity(t *testing.T) {
	ctx := context.Background()
	r := setupTestRegistry(t)

	// Known but visible.
	if err := r.SetHiddenBy(ctx, "switch.hall_down", ""); err != nil {
		t.Fatal(err)
	}
	changed, err := r.Hide(ctx, "switch.hall_down")
	if err != nil || !changed {
		t.Fatalf("Hide() = %v, %v; want true, nil", changed, err)
	}
}

func TestRegistry_HiddenByUnknown(t *testing.T) {
	by, err := setupTestRegistry(t).HiddenBy(context.Background(), "switch.nope")
	if err != nil || by != "" {
		t.Errorf("HiddenBy() = %q, %v; want empty", by, err)
	}
}

func TestRegistry_ListHidden(t *testing.T) {
	ctx := context.Background()
	r := setupTestRegistry(t)

	for _, id := range []string{"switch.b", "switch.a"} {
		if _, err := r.Hide(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.SetHiddenBy(ctx, "switch.c", ""); err != nil {
		t.Fatal(err)
	}

	got, err := r.ListHidden(ctx)
	if err != nil {
		t.Fatalf("ListHidden() error = %v", err)
	}
	if len(got) != 2 || got[0].EntityID != "switch.a" || got[1].EntityID != "switch.b" {
		t.Fatalf("ListHidden() = %+v", got)
	}
	want := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	if !got[0].UpdatedAt.Equal(want) || got[0].HiddenBy != HiddenByIntegration {
		t.Errorf("entity = %+v", got[0])
	}
}

func TestRegistry_InvalidID(t *testing.T) {
	r := setupTestRegistry(t)
	if _, err := r.Hide(context.Background(), ""); !errors.Is(err, ErrInvalidEntityID) {
		t.Errorf("Hide(\"\") error = %v", err)
	}
	if err := r.SetHiddenBy(context.Background(), "", "user"); !errors.Is(err, ErrInvalidEntityID) {
		t.Errorf("SetHiddenBy(\"\") error = %v", err)
	}
}
