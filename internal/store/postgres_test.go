package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindMigrations_Ordering(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_catalog.up.sql", "001_init.up.sql", "001_init.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := findMigrations(dir)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 up migrations, got %v", got)
	}
	if filepath.Base(got[0]) != "001_init.up.sql" || filepath.Base(got[1]) != "002_catalog.up.sql" {
		t.Errorf("unexpected order: %v", got)
	}
}

func TestFindMigrations_MissingDir(t *testing.T) {
	if _, err := findMigrations(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestRepoMigrationsPresent(t *testing.T) {
	got, err := findMigrations("../../migrations")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one migration in the repository")
	}
}

// Lookups that can never match return before touching the pool, so a store
// without a connection is enough here.
func TestScopedLookups_UnmatchableIDs(t *testing.T) {
	s := &PostgresStore{}
	ctx := context.Background()
	valid := "6f1c2d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f"

	tests := []struct {
		name, tenant, id string
	}{
		{"not a uuid", "tenant-a", "not-a-uuid"},
		{"empty id", "tenant-a", ""},
		{"empty tenant", "", valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := s.GetEvent(ctx, tt.tenant, tt.id)
			if err != nil || event != nil {
				t.Errorf("GetEvent: expected (nil, nil), got (%v, %v)", event, err)
			}
			issue, err := s.GetIssue(ctx, tt.tenant, tt.id)
			if err != nil || issue != nil {
				t.Errorf("GetIssue: expected (nil, nil), got (%v, %v)", issue, err)
			}
		})
	}
}

func TestSnapshotFresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		refreshed time.Time
		ttl       time.Duration
		want      bool
	}{
		{"recent", now.Add(-time.Minute), 5 * time.Minute, true},
		{"expired", now.Add(-6 * time.Minute), 5 * time.Minute, false},
		{"exactly at ttl", now.Add(-5 * time.Minute), 5 * time.Minute, false},
		{"reuse disabled", now, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := snapshotFresh(tt.refreshed, now, tt.ttl); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWithSnapshotTTL(t *testing.T) {
	s := (&PostgresStore{snapshotTTL: defaultSnapshotTTL}).WithSnapshotTTL(time.Minute)
	if s.snapshotTTL != time.Minute {
		t.Errorf("expected 1m snapshot ttl, got %v", s.snapshotTTL)
	}
}
