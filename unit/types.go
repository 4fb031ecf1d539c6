package unit

import "context"

type Direction rune

const (
	Forward  Direction = 'f'
	Rollback Direction = 'r'
)

// ---

// Unit is a single one-time change unit discovered in the unit store.
// ID doubles as its state-tracking key and must sort in creation order
// (timestamp-prefixed by convention).
type Unit struct {
	ID           string
	Dependencies []string
}

// ---

type Status uint

const (
	Pending Status = iota
	Applied
)

// ---

type Edge struct {
	Dependent  string
	Dependency string
}

// ---

type Description struct {
	Unit
	CanRollback bool
}

type State struct {
	Description
	Status Status
}

// ---

// Action is a runnable unit body. Concrete implementations may shell out,
// call a library function or run in-process.
type Action interface {
	Run(ctx context.Context) error
}
