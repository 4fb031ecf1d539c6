package script

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/root-talis/ikou/source"
	"github.com/root-talis/ikou/unit"
)

// Unit file naming convention: a unit is any regular file "<id>.sh" whose
// name does not end in the rollback suffix; its optional rollback sibling is
// "<id>.rollback.sh" in the same directory.
const (
	Suffix         = ".sh"
	RollbackSuffix = ".rollback.sh"

	defaultShell = "/bin/sh"
)

var dependsPattern = regexp.MustCompile(`^#\s*Depends:\s*(\S+)\s*$`)

// ---

type scriptSource struct {
	dir    string
	shell  string
	logger *zap.Logger
}

type Option func(*scriptSource)

// WithShell overrides the interpreter used to run unit bodies.
func WithShell(shell string) Option {
	return func(s *scriptSource) {
		s.shell = shell
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *scriptSource) {
		s.logger = logger
	}
}

func New(unitsDirectory string, opts ...Option) source.Source {
	src := &scriptSource{
		dir:    unitsDirectory,
		shell:  defaultShell,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(src)
	}

	return src
}

// ---

func (src *scriptSource) ListUnits() ([]unit.Description, error) {
	dirEntries, err := os.ReadDir(src.dir)
	if err != nil {
		// A missing or unreadable unit store degrades to "no units" so that
		// a freshly provisioned host is a no-op rather than a crash.
		src.logger.Warn("unit store directory is not readable; treating as empty",
			zap.String("dir", src.dir),
			zap.Error(err))
		return []unit.Description{}, nil
	}

	result := make([]unit.Description, 0, len(dirEntries))
	for _, entry := range dirEntries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}

		fileName := entry.Name()
		if !strings.HasSuffix(fileName, Suffix) || strings.HasSuffix(fileName, RollbackSuffix) {
			continue
		}

		id := strings.TrimSuffix(fileName, Suffix)

		deps, err := src.parseDependencies(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse dependencies of unit %s: %w", id, err)
		}

		result = append(result, unit.Description{
			Unit: unit.Unit{
				ID:           id,
				Dependencies: deps,
			},
			CanRollback: src.hasRollbackArtifact(id),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// parseDependencies extracts every "# Depends: <id>" directive from the
// leading comment block of the unit body. Blank lines inside the block are
// tolerated; the first non-blank non-comment line terminates the scan.
// Declaration order is preserved and duplicates are kept (they collapse to
// the same graph edge later). Malformed directive lines are ignored.
func (src *scriptSource) parseDependencies(id string) ([]string, error) {
	file, err := os.Open(src.forwardPath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to open unit body: %w", err)
	}
	defer file.Close()

	deps := make([]string, 0)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}

		if match := dependsPattern.FindStringSubmatch(line); match != nil {
			deps = append(deps, match[1])
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read unit body: %w", err)
	}

	return deps, nil
}

func (src *scriptSource) Action(id string, direction unit.Direction) (unit.Action, error) {
	var path string

	switch direction {
	case unit.Forward:
		path = src.forwardPath(id)
		if !isRegularFile(path) {
			return nil, fmt.Errorf("%w: %s", source.ErrUnknownUnit, path)
		}
	case unit.Rollback:
		path = src.rollbackPath(id)
		if !isRegularFile(path) {
			return nil, fmt.Errorf("%w: expected %s", source.ErrNoRollbackArtifact, path)
		}
	default:
		return nil, fmt.Errorf("unknown direction %q", direction)
	}

	return &scriptAction{
		shell: src.shell,
		path:  path,
	}, nil
}

func (src *scriptSource) forwardPath(id string) string {
	return filepath.Join(src.dir, id+Suffix)
}

func (src *scriptSource) rollbackPath(id string) string {
	return filepath.Join(src.dir, id+RollbackSuffix)
}

func (src *scriptSource) hasRollbackArtifact(id string) bool {
	return isRegularFile(src.rollbackPath(id))
}

func isRegularFile(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && stat.Mode().IsRegular()
}

// ---

// NormalizeID reduces operator input to a bare unit ID: it strips any leading
// directories and the ".rollback.sh" / ".sh" suffixes, so a unit name, a body
// path or a rollback artifact path all resolve to the same ID.
func NormalizeID(raw string) string {
	id := filepath.Base(raw)
	id = strings.TrimSuffix(id, RollbackSuffix)
	id = strings.TrimSuffix(id, Suffix)
	return id
}

// ---

type scriptAction struct {
	shell string
	path  string
}

func (a *scriptAction) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, a.shell, a.path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("script %s failed: %w", a.path, err)
	}

	return nil
}
