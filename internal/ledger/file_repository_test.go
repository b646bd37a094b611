package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MikeHennessy/suntrack/internal/domain"
)

func TestFileRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewFileRepository(filepath.Join(t.TempDir(), "state", DefaultFileName))

	want := domain.Positions{1: 15.5, 2: -10.2, 7: 0.1 + 0.2, 9: -1e-9}
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFileRepositoryMissingFile(t *testing.T) {
	repo := NewFileRepository(filepath.Join(t.TempDir(), DefaultFileName))
	got, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty mapping, got %v", got)
	}
}

func TestFileRepositoryFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	repo := NewFileRepository(path)
	if err := repo.Save(context.Background(), domain.Positions{2: -10.2, 1: 15.5}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("ledger is not valid JSON: %v\n%s", err, data)
	}
	if rec.Version != FormatVersion {
		t.Errorf("version = %d, want %d", rec.Version, FormatVersion)
	}
	want := []entryRecord{{ID: 1, PositionMM: 15.5}, {ID: 2, PositionMM: -10.2}}
	if diff := cmp.Diff(want, rec.Actuators); diff != "" {
		t.Errorf("records not sorted by id (-want +got):\n%s", diff)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestFileRepositoryMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"legacy line format", "15.5\n-10.2\n"},
		{"truncated json", `{"version": 1, "actuators": [{"id": 1,`},
		{"wrong version", `{"version": 99, "actuators": []}`},
		{"duplicate id", `{"version": 1, "actuators": [{"id": 1, "position_mm": 1}, {"id": 1, "position_mm": 2}]}`},
		{"id overflow", `{"version": 1, "actuators": [{"id": 300, "position_mm": 1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), DefaultFileName)
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := NewFileRepository(path).Load(context.Background())
			if !errors.Is(err, domain.ErrMalformedLedger) {
				t.Fatalf("Load = %v, want ErrMalformedLedger", err)
			}
		})
	}
}

func TestFileRepositorySaveReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	repo := NewFileRepository(filepath.Join(t.TempDir(), DefaultFileName))

	if err := repo.Save(ctx, domain.Positions{1: 1, 2: 2}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(ctx, domain.Positions{1: 3}); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(domain.Positions{1: 3}, got); diff != "" {
		t.Fatalf("unexpected mapping (-want +got):\n%s", diff)
	}
}
