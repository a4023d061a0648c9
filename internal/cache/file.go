package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// fileSnapshot is the serialized form of the cache state.
// Params: JSON-tagged copies of the three state maps.
// Returns: round-trippable snapshot document.
type fileSnapshot struct {
	Expirations map[string]map[string]time.Time `json:"expirations"`
	Teams       map[string]int64                `json:"teams"`
	Gyms        map[string]GymInfo              `json:"gyms"`
}

// File is the snapshot-persisted cache backend.
// Params: embedded volatile state plus snapshot path.
// Returns: dedup state surviving restarts via Save.
type File struct {
	*Memory
	path   string
	logger *slog.Logger
}

// NewFile builds a file-backed cache, loading any prior snapshot.
// Params: snapshot path and logger for corrupt-snapshot warnings.
// Returns: ready cache; a missing snapshot starts empty, a corrupt one
// logs a warning and starts empty rather than failing startup.
func NewFile(path string, logger *slog.Logger) (*File, error) {
	cache := &File{Memory: NewMemory(), path: path, logger: logger}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cache, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache snapshot: %w", err)
	}
	var snap fileSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logger.Warn("cache snapshot is corrupt, starting empty",
			slog.String("path", path), slog.String("error", err.Error()))
		return cache, nil
	}
	cache.restore(snap)
	return cache, nil
}

// Save writes the current state to disk atomically.
// Params: none.
// Returns: write error; the snapshot goes to a temp file first and is
// renamed over the target so readers never observe a partial file.
func (f *File) Save() error {
	raw, err := json.Marshal(f.snapshot())
	if err != nil {
		return fmt.Errorf("encode cache snapshot: %w", err)
	}
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cache snapshot: %w", err)
	}
	return nil
}

// Close saves a final snapshot.
// Params: none.
// Returns: save error.
func (f *File) Close() error {
	return f.Save()
}
