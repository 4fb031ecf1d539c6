package history

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

type Action string

const (
	Applied      Action = "applied"
	Rollback     Action = "rollback"
	ImportLegacy Action = "import-legacy"
)

// ---

type Entry struct {
	Time   time.Time
	Action Action
	UnitID string
}

// Recorder is an append-only audit trail of apply/rollback/import events.
// Engine correctness never depends on it: callers treat Record failures as
// warnings and a corrupt log only degrades reporting.
type Recorder interface {
	Record(action Action, unitID string) error
	Entries() ([]Entry, error)
}

// ---

// fileRecorder appends one whitespace-delimited line per event:
//
//	<RFC3339 timestamp> <action> <unit-id>
type fileRecorder struct {
	path string
}

func NewFileRecorder(path string) Recorder {
	return &fileRecorder{
		path: path,
	}
}

func (r *fileRecorder) Record(action Action, unitID string) error {
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history log: %w", err)
	}

	_, err = fmt.Fprintf(file, "%s %s %s\n", time.Now().UTC().Format(time.RFC3339), action, unitID)
	if err == nil {
		err = file.Sync()
	}

	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	return nil
}

func (r *fileRecorder) Entries() ([]Entry, error) {
	file, err := os.Open(r.path)
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history log: %w", err)
	}
	defer file.Close()

	entries := make([]Entry, 0)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		// Corrupt lines are skipped, not fatal: history is best-effort and
		// only feeds reporting.
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 {
			continue
		}

		at, err := time.Parse(time.RFC3339, fields[0])
		if err != nil {
			continue
		}

		entries = append(entries, Entry{
			Time:   at,
			Action: Action(fields[1]),
			UnitID: fields[2],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history log: %w", err)
	}

	return entries, nil
}

// ---

type discardRecorder struct{}

// NewDiscardRecorder returns a Recorder that keeps nothing. Used when no
// history path is configured.
func NewDiscardRecorder() Recorder {
	return &discardRecorder{}
}

func (r *discardRecorder) Record(action Action, unitID string) error {
	return nil
}

func (r *discardRecorder) Entries() ([]Entry, error) {
	return []Entry{}, nil
}
