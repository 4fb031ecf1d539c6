package state

import "errors"

// Namespace prefixes every durable marker key so migration state never
// collides with unrelated keys the host may track in the same store.
const Namespace = "migration:"

func Key(unitID string) string {
	return Namespace + unitID
}

// ---

// Reader is the queryable half of the tracker. The legacy marker location is
// exposed through this interface only, read-only, for import compatibility.
type Reader interface {
	IsApplied(unitID string) (bool, error)
}

// Store tracks which units have been applied. One durable record per key:
// each completed unit's marker survives independently of whether later units
// fail mid-run. No locking — the engine is single-threaded and sequential.
type Store interface {
	Reader

	MarkApplied(unitID string) error
	Clear(unitID string) error

	// Reset removes every marker in the migration namespace.
	Reset() error
}

var ErrInvalidStore = errors.New("migration state store is invalid")
