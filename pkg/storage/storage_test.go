package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// backends returns a fresh instance of every Backend implementation so
// the contract tests run against both.
func backends(t *testing.T) map[string]Backend {
	t.Helper()

	sqlite, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
	}
}

func TestSaveAndLoad(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			ctx := context.Background()

			record := &UsageRecord{
				Target:     "fast_group.echelon1",
				Requests:   10,
				Successes:  8,
				Failures:   2,
				TokensUsed: 4096,
			}
			if err := b.Save(ctx, record); err != nil {
				t.Fatalf("Save: %v", err)
			}

			loaded, err := b.Load(ctx, "fast_group.echelon1")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded == nil {
				t.Fatal("Load returned nil for saved record")
			}
			if loaded.Requests != 10 || loaded.Successes != 8 || loaded.Failures != 2 || loaded.TokensUsed != 4096 {
				t.Errorf("loaded = %+v", loaded)
			}
			if loaded.LastUpdated.IsZero() || loaded.CreatedAt.IsZero() {
				t.Error("timestamps not stamped on save")
			}
		})
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()

			record, err := b.Load(context.Background(), "nope")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if record != nil {
				t.Errorf("Load = %+v, want nil", record)
			}
		})
	}
}

func TestSaveUpdatesExisting(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			ctx := context.Background()

			if err := b.Save(ctx, &UsageRecord{Target: "t", Requests: 1}); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if err := b.Save(ctx, &UsageRecord{Target: "t", Requests: 2}); err != nil {
				t.Fatalf("Save: %v", err)
			}

			loaded, err := b.Load(ctx, "t")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.Requests != 2 {
				t.Errorf("Requests = %d, want 2", loaded.Requests)
			}
		})
	}
}

func TestSaveValidation(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			ctx := context.Background()

			if err := b.Save(ctx, nil); err == nil {
				t.Error("expected error for nil record")
			}
			if err := b.Save(ctx, &UsageRecord{}); err == nil {
				t.Error("expected error for empty target")
			}
		})
	}
}

func TestListAndDelete(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			ctx := context.Background()

			for _, target := range []string{"a", "b", "c"} {
				if err := b.Save(ctx, &UsageRecord{Target: target, Requests: 1}); err != nil {
					t.Fatalf("Save(%s): %v", target, err)
				}
			}

			records, err := b.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(records) != 3 {
				t.Fatalf("List = %d records, want 3", len(records))
			}

			if err := b.Delete(ctx, "b"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			records, err = b.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(records) != 2 {
				t.Errorf("List after delete = %d records, want 2", len(records))
			}

			// Deleting something absent is a no-op.
			if err := b.Delete(ctx, "b"); err != nil {
				t.Errorf("Delete absent: %v", err)
			}
		})
	}
}

func TestCleanup(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			ctx := context.Background()

			old := time.Now().Add(-48 * time.Hour)
			if err := b.Save(ctx, &UsageRecord{Target: "stale", LastUpdated: old, CreatedAt: old}); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if err := b.Save(ctx, &UsageRecord{Target: "fresh"}); err != nil {
				t.Fatalf("Save: %v", err)
			}

			removed, err := b.Cleanup(ctx, time.Now().Add(-24*time.Hour))
			if err != nil {
				t.Fatalf("Cleanup: %v", err)
			}
			if removed != 1 {
				t.Errorf("removed = %d, want 1", removed)
			}

			if record, _ := b.Load(ctx, "stale"); record != nil {
				t.Error("stale record survived cleanup")
			}
			if record, _ := b.Load(ctx, "fresh"); record == nil {
				t.Error("fresh record removed by cleanup")
			}
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	if err := b.Save(ctx, &UsageRecord{Target: "t", Requests: 7}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	reopened, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, "t")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil || loaded.Requests != 7 {
		t.Errorf("loaded = %+v, want Requests=7", loaded)
	}
}
