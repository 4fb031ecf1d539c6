package ikou_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/root-talis/ikou"
	"github.com/root-talis/ikou/history"
	"github.com/root-talis/ikou/source/script"
	statefiles "github.com/root-talis/ikou/state/files"
	"github.com/root-talis/ikou/unit"
)

// End-to-end over real shell scripts, marker files and a history log:
// apply a and its dependent b, roll b back, re-apply only b.
func TestEndToEnd(t *testing.T) {
	t.Parallel()

	unitsDir := t.TempDir()
	stateDir := t.TempDir()
	workDir := t.TempDir()

	logFile := filepath.Join(workDir, "executions.log")
	historyFile := filepath.Join(workDir, "history.log")

	writeUnit := func(name, content string) {
		assert.NoError(t, os.WriteFile(filepath.Join(unitsDir, name), []byte(content), 0o755))
	}

	writeUnit("20240101_0001_a.sh",
		"#!/bin/sh\n"+
			"echo a >> \""+logFile+"\"\n")
	writeUnit("20240101_0002_b.sh",
		"#!/bin/sh\n"+
			"# Depends: 20240101_0001_a\n"+
			"echo b >> \""+logFile+"\"\n")
	writeUnit("20240101_0002_b.rollback.sh",
		"#!/bin/sh\n"+
			"echo undo-b >> \""+logFile+"\"\n")

	engine := ikou.New(
		script.New(unitsDir),
		statefiles.New(stateDir),
		ikou.WithHistory(history.NewFileRecorder(historyFile)),
	)

	readLog := func() string {
		content, err := os.ReadFile(logFile)
		assert.NoError(t, err)
		return string(content)
	}

	// First run applies a, then b.
	result, err := engine.Apply(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, uint(2), result.ExecutedCount)
	assert.Equal(t, "a\nb\n", readLog())

	validation, err := engine.Validate()
	assert.NoError(t, err)
	assert.Equal(t, uint(2), validation.AppliedCount)
	assert.Equal(t, unit.Applied, validation.Units[0].Status)
	assert.Equal(t, unit.Applied, validation.Units[1].Status)

	// Rollback clears b only, leaving a applied.
	assert.NoError(t, engine.Rollback(context.Background(), "20240101_0002_b"))
	assert.Equal(t, "a\nb\nundo-b\n", readLog())

	validation, err = engine.Validate()
	assert.NoError(t, err)
	assert.Equal(t, uint(1), validation.AppliedCount)
	assert.Equal(t, uint(1), validation.PendingCount)
	assert.Equal(t, unit.Applied, validation.Units[0].Status)
	assert.Equal(t, unit.Pending, validation.Units[1].Status)

	// The next normal run re-executes only b.
	result, err = engine.Apply(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, uint(1), result.ExecutedCount)
	assert.Equal(t, uint(1), result.SkippedCount)
	assert.Equal(t, "a\nb\nundo-b\nb\n", readLog())

	// The audit trail reflects every action in order.
	entries, err := history.NewFileRecorder(historyFile).Entries()
	assert.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Equal(t, history.Applied, entries[0].Action)
	assert.Equal(t, "20240101_0001_a", entries[0].UnitID)
	assert.Equal(t, history.Applied, entries[1].Action)
	assert.Equal(t, "20240101_0002_b", entries[1].UnitID)
	assert.Equal(t, history.Rollback, entries[2].Action)
	assert.Equal(t, history.Applied, entries[3].Action)
}

// A legacy marker left by the previous migration tooling is imported on the
// first run without executing the body.
func TestEndToEndLegacyImport(t *testing.T) {
	t.Parallel()

	unitsDir := t.TempDir()
	stateDir := t.TempDir()
	legacyDir := t.TempDir()
	workDir := t.TempDir()

	logFile := filepath.Join(workDir, "executions.log")

	assert.NoError(t, os.WriteFile(
		filepath.Join(unitsDir, "20240101_0001_a.sh"),
		[]byte("#!/bin/sh\necho a >> \""+logFile+"\"\n"),
		0o755))
	assert.NoError(t, os.WriteFile(
		filepath.Join(legacyDir, "20240101_0001_a"),
		[]byte{},
		0o644))

	engine := ikou.New(
		script.New(unitsDir),
		statefiles.New(stateDir),
		ikou.WithLegacyState(statefiles.NewLegacyReader(legacyDir)),
	)

	result, err := engine.Apply(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, uint(1), result.ImportedCount)
	assert.Equal(t, uint(0), result.ExecutedCount)
	assert.NoFileExists(t, logFile)

	// The imported marker now lives in the current store.
	validation, err := engine.Validate()
	assert.NoError(t, err)
	assert.Equal(t, uint(1), validation.AppliedCount)
}
