package script_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/root-talis/ikou/source"
	"github.com/root-talis/ikou/source/script"
	"github.com/root-talis/ikou/unit"
)

func writeScript(t *testing.T, dir, name, content string) {
	t.Helper()

	err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o755)
	assert.NoError(t, err)
}

// ---

var listUnitsTestsTable = []struct { // nolint:gochecknoglobals
	name          string
	files         map[string]string
	expectedUnits []unit.Description
}{
	/* s0 */ {
		name:          "test s0: should list zero units in an empty store",
		files:         map[string]string{},
		expectedUnits: []unit.Description{},
	},
	/* s1 */ {
		name: "test s1: should list units sorted lexicographically",
		files: map[string]string{
			"20240101_0002_b.sh": "#!/bin/sh\ntrue\n",
			"20240101_0001_a.sh": "#!/bin/sh\ntrue\n",
		},
		expectedUnits: []unit.Description{
			{Unit: unit.Unit{ID: "20240101_0001_a", Dependencies: []string{}}},
			{Unit: unit.Unit{ID: "20240101_0002_b", Dependencies: []string{}}},
		},
	},
	/* s2 */ {
		name: "test s2: should exclude rollback siblings and flag rollback availability",
		files: map[string]string{
			"20240101_0001_a.sh":          "#!/bin/sh\ntrue\n",
			"20240101_0001_a.rollback.sh": "#!/bin/sh\ntrue\n",
			"20240101_0002_b.sh":          "#!/bin/sh\ntrue\n",
		},
		expectedUnits: []unit.Description{
			{Unit: unit.Unit{ID: "20240101_0001_a", Dependencies: []string{}}, CanRollback: true},
			{Unit: unit.Unit{ID: "20240101_0002_b", Dependencies: []string{}}},
		},
	},
	/* s3 */ {
		name: "test s3: should ignore files without the unit suffix",
		files: map[string]string{
			"20240101_0001_a.sh": "#!/bin/sh\ntrue\n",
			"README.md":          "notes\n",
			"helper.sh.bak":      "true\n",
		},
		expectedUnits: []unit.Description{
			{Unit: unit.Unit{ID: "20240101_0001_a", Dependencies: []string{}}},
		},
	},
	/* s4 */ {
		name: "test s4: should parse Depends directives from the leading comment block",
		files: map[string]string{
			"20240101_0001_a.sh": "#!/bin/sh\ntrue\n",
			"20240101_0002_b.sh": "#!/bin/sh\n" +
				"# Depends: 20240101_0001_a\n" +
				"true\n",
		},
		expectedUnits: []unit.Description{
			{Unit: unit.Unit{ID: "20240101_0001_a", Dependencies: []string{}}},
			{Unit: unit.Unit{ID: "20240101_0002_b", Dependencies: []string{"20240101_0001_a"}}},
		},
	},
	/* s5 */ {
		name: "test s5: should tolerate blank lines inside the leading comment block",
		files: map[string]string{
			"20240101_0001_a.sh": "#!/bin/sh\n" +
				"\n" +
				"# Depends: x\n" +
				"# Depends: y\n" +
				"\n" +
				"true\n",
		},
		expectedUnits: []unit.Description{
			{Unit: unit.Unit{ID: "20240101_0001_a", Dependencies: []string{"x", "y"}}},
		},
	},
	/* s6 */ {
		name: "test s6: should ignore directives after the first executable line",
		files: map[string]string{
			"20240101_0001_a.sh": "#!/bin/sh\n" +
				"# Depends: early\n" +
				"true\n" +
				"# Depends: late\n",
		},
		expectedUnits: []unit.Description{
			{Unit: unit.Unit{ID: "20240101_0001_a", Dependencies: []string{"early"}}},
		},
	},
	/* s7 */ {
		name: "test s7: should ignore malformed directive lines",
		files: map[string]string{
			"20240101_0001_a.sh": "#!/bin/sh\n" +
				"# Depends:\n" +
				"# Depends: one two\n" +
				"# Dependencies: x\n" +
				"# Depends: good\n" +
				"true\n",
		},
		expectedUnits: []unit.Description{
			{Unit: unit.Unit{ID: "20240101_0001_a", Dependencies: []string{"good"}}},
		},
	},
	/* s8 */ {
		name: "test s8: should keep duplicate directives in declaration order",
		files: map[string]string{
			"20240101_0001_a.sh": "# Depends: x\n" +
				"# Depends: x\n" +
				"true\n",
		},
		expectedUnits: []unit.Description{
			{Unit: unit.Unit{ID: "20240101_0001_a", Dependencies: []string{"x", "x"}}},
		},
	},
}

func TestListUnits(t *testing.T) {
	t.Parallel()
	t.Logf("Should discover unit bodies and their declared dependencies.")

	for _, test := range listUnitsTestsTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			for name, content := range test.files {
				writeScript(t, dir, name, content)
			}

			src := script.New(dir)

			units, err := src.ListUnits()
			assert.NoError(t, err)
			assert.Equal(t, test.expectedUnits, units)
		})
	}
}

func TestListUnitsUnreadableDirectory(t *testing.T) {
	t.Parallel()
	t.Logf("Should degrade to zero units when the store directory does not exist.")

	src := script.New(filepath.Join(t.TempDir(), "does-not-exist"))

	units, err := src.ListUnits()
	assert.NoError(t, err)
	assert.Empty(t, units)
}

// ---

func TestActionForward(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sentinel := filepath.Join(dir, "sentinel")
	writeScript(t, dir, "20240101_0001_a.sh", "#!/bin/sh\ntouch \""+sentinel+"\"\n")

	src := script.New(dir)

	action, err := src.Action("20240101_0001_a", unit.Forward)
	assert.NoError(t, err)

	assert.NoError(t, action.Run(context.Background()))
	assert.FileExists(t, sentinel)
}

func TestActionForwardFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScript(t, dir, "20240101_0001_a.sh", "#!/bin/sh\nexit 3\n")

	src := script.New(dir)

	action, err := src.Action("20240101_0001_a", unit.Forward)
	assert.NoError(t, err)
	assert.Error(t, action.Run(context.Background()))
}

func TestActionUnknownUnit(t *testing.T) {
	t.Parallel()

	src := script.New(t.TempDir())

	_, err := src.Action("20240101_0001_a", unit.Forward)
	assert.True(t, errors.Is(err, source.ErrUnknownUnit))
}

func TestActionMissingRollbackArtifact(t *testing.T) {
	t.Parallel()
	t.Logf("Should fail naming the expected rollback artifact location.")

	dir := t.TempDir()
	writeScript(t, dir, "20240101_0001_a.sh", "#!/bin/sh\ntrue\n")

	src := script.New(dir)

	_, err := src.Action("20240101_0001_a", unit.Rollback)
	assert.True(t, errors.Is(err, source.ErrNoRollbackArtifact))
	assert.Contains(t, err.Error(), filepath.Join(dir, "20240101_0001_a.rollback.sh"))
}

func TestActionRollback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sentinel := filepath.Join(dir, "sentinel")
	writeScript(t, dir, "20240101_0001_a.sh", "#!/bin/sh\ntrue\n")
	writeScript(t, dir, "20240101_0001_a.rollback.sh", "#!/bin/sh\ntouch \""+sentinel+"\"\n")

	src := script.New(dir)

	action, err := src.Action("20240101_0001_a", unit.Rollback)
	assert.NoError(t, err)

	assert.NoError(t, action.Run(context.Background()))
	assert.FileExists(t, sentinel)
}

// ---

var normalizeIDTestsTable = []struct { // nolint:gochecknoglobals
	name     string
	input    string
	expected string
}{
	/* s0 */ {"test s0: bare id", "20240101_0001_a", "20240101_0001_a"},
	/* s1 */ {"test s1: body file name", "20240101_0001_a.sh", "20240101_0001_a"},
	/* s2 */ {"test s2: rollback file name", "20240101_0001_a.rollback.sh", "20240101_0001_a"},
	/* s3 */ {"test s3: body path", "/etc/ikou/units/20240101_0001_a.sh", "20240101_0001_a"},
	/* s4 */ {"test s4: rollback path", "units/20240101_0001_a.rollback.sh", "20240101_0001_a"},
}

func TestNormalizeID(t *testing.T) {
	t.Parallel()

	for _, test := range normalizeIDTestsTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, test.expected, script.NormalizeID(test.input))
		})
	}
}
