package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/root-talis/ikou/state"
)

// fileStore keeps one marker file per applied unit, named after the
// namespaced key. Each marker is durable on its own, so an interrupted run
// never loses the marks of units that already completed.
type fileStore struct {
	dir string
}

func New(stateDirectory string) state.Store {
	return &fileStore{
		dir: stateDirectory,
	}
}

func (s *fileStore) IsApplied(unitID string) (bool, error) {
	_, err := os.Stat(s.markerPath(unitID))

	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}

	return false, fmt.Errorf("failed to stat marker for unit %s: %w", unitID, err)
}

func (s *fileStore) MarkApplied(unitID string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	path := s.markerPath(unitID)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create marker for unit %s: %w", unitID, err)
	}

	_, err = fmt.Fprintln(file, time.Now().UTC().Format(time.RFC3339))
	if err == nil {
		err = file.Sync()
	}

	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write marker for unit %s: %w", unitID, err)
	}

	return nil
}

func (s *fileStore) Clear(unitID string) error {
	err := os.Remove(s.markerPath(unitID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear marker for unit %s: %w", unitID, err)
	}

	return nil
}

func (s *fileStore) Reset() error {
	dirEntries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state directory: %w", err)
	}

	var errs error
	for _, entry := range dirEntries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), state.Namespace) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if errs != nil {
		return fmt.Errorf("failed to reset migration state: %w", errs)
	}

	return nil
}

func (s *fileStore) markerPath(unitID string) string {
	return filepath.Join(s.dir, state.Key(unitID))
}

// ---

// legacyReader consults the pre-ikou marker location: bare "<unit-id>" files
// without a namespace. Read-only; the engine imports hits into the current
// store instead of ever writing here.
type legacyReader struct {
	dir string
}

func NewLegacyReader(legacyDirectory string) state.Reader {
	return &legacyReader{
		dir: legacyDirectory,
	}
}

func (r *legacyReader) IsApplied(unitID string) (bool, error) {
	_, err := os.Stat(filepath.Join(r.dir, unitID))

	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}

	return false, fmt.Errorf("failed to stat legacy marker for unit %s: %w", unitID, err)
}
