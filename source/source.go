package source

import (
	"errors"

	"github.com/root-talis/ikou/unit"
)

// Source enumerates the migration units available in the unit store and
// resolves their runnable bodies.
type Source interface {
	// ListUnits returns every discovered unit, rollback siblings excluded,
	// sorted lexicographically by ID.
	ListUnits() ([]unit.Description, error)

	// Action resolves the runnable body of the given unit in the given
	// direction.
	Action(id string, direction unit.Direction) (unit.Action, error)
}

var (
	ErrUnknownUnit        = errors.New("unknown migration unit")
	ErrNoRollbackArtifact = errors.New("migration unit has no rollback artifact")
)
