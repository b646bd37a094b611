package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/MikeHennessy/suntrack/internal/domain"
)

// DefaultFileName is the ledger file name inside the state directory.
const DefaultFileName = "positions.json"

// SimFileName is the ledger file name for simulated runs.
const SimFileName = "positions.sim.json"

type fileRecord struct {
	Version   int           `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
	Actuators []entryRecord `json:"actuators"`
}

type entryRecord struct {
	ID         domain.ActuatorID `json:"id"`
	PositionMM float64           `json:"position_mm"`
}

// FileRepository implements Repository using a JSON file that is replaced
// atomically on every save.
type FileRepository struct {
	path string
}

// NewFileRepository creates a FileRepository for the given file path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// Path returns the ledger file path.
func (r *FileRepository) Path() string { return r.path }

// Load reads the ledger file. A missing file yields an empty mapping.
func (r *FileRepository) Load(ctx context.Context) (domain.Positions, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Positions{}, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrMalformedLedger, r.path, err)
	}
	if rec.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %s: version %d, want %d", domain.ErrMalformedLedger, r.path, rec.Version, FormatVersion)
	}

	positions := make(domain.Positions, len(rec.Actuators))
	for _, e := range rec.Actuators {
		if _, dup := positions[e.ID]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate actuator %d", domain.ErrMalformedLedger, r.path, e.ID)
		}
		positions[e.ID] = e.PositionMM
	}
	return positions, nil
}

// Save writes the mapping to a temporary file in the same directory, syncs
// it and renames it over the ledger, so readers only ever observe a whole
// old or a whole new file.
func (r *FileRepository) Save(ctx context.Context, positions domain.Positions) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	rec := fileRecord{
		Version:   FormatVersion,
		UpdatedAt: time.Now().UTC(),
		Actuators: make([]entryRecord, 0, len(positions)),
	}
	for id, v := range positions {
		rec.Actuators = append(rec.Actuators, entryRecord{ID: id, PositionMM: v})
	}
	sort.Slice(rec.Actuators, func(i, j int) bool { return rec.Actuators[i].ID < rec.Actuators[j].ID })

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp ledger: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	committed = true

	// Persist the rename itself. Not every platform supports syncing a
	// directory, so failures here are ignored.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
