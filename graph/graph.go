package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/root-talis/ikou/unit"
)

// ---

// CycleError reports a dependency cycle. Remaining holds every unit that
// could not be scheduled; Unsatisfied holds the edges still blocking them.
type CycleError struct {
	Remaining   []string
	Unsatisfied []unit.Edge
}

func (e *CycleError) Error() string {
	var sb strings.Builder

	sb.WriteString("dependency cycle detected; unresolved units: ")
	sb.WriteString(strings.Join(e.Remaining, ", "))

	if len(e.Unsatisfied) > 0 {
		sb.WriteString("; unsatisfied edges:")
		for _, edge := range e.Unsatisfied {
			sb.WriteString(fmt.Sprintf(" %s->%s", edge.Dependent, edge.Dependency))
		}
	}

	return sb.String()
}

// ---

// Resolution is the product of a successful resolve: a full linear order over
// the unit set, plus any edges that referenced unknown units and were dropped.
type Resolution struct {
	Order   []string
	Dropped []unit.Edge
}

// ---

// Resolve produces a dependency-respecting execution order over units using
// Kahn's algorithm. Ties break lexicographically, so the order is fully
// deterministic for a fixed unit set. Edges naming a unit outside the set do
// not constrain the order; they come back in Resolution.Dropped so the caller
// can warn about them. A cycle fails the whole resolution with *CycleError.
func Resolve(units []string, edges []unit.Edge) (*Resolution, error) {
	known := make(map[string]bool, len(units))
	for _, id := range units {
		known[id] = true
	}

	// Duplicate declarations collapse to a single edge.
	valid := make([]unit.Edge, 0, len(edges))
	seen := make(map[unit.Edge]bool, len(edges))
	dropped := make([]unit.Edge, 0)

	for _, edge := range edges {
		if !known[edge.Dependent] || !known[edge.Dependency] {
			dropped = append(dropped, edge)
			continue
		}
		if seen[edge] {
			continue
		}
		seen[edge] = true
		valid = append(valid, edge)
	}

	inDegree := make(map[string]int, len(units))
	dependents := make(map[string][]string, len(units))

	for _, id := range units {
		inDegree[id] = 0
	}
	for _, edge := range valid {
		inDegree[edge.Dependent]++
		dependents[edge.Dependency] = append(dependents[edge.Dependency], edge.Dependent)
	}

	ready := make([]string, 0, len(units))
	for _, id := range units {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(units))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}

	if len(order) < len(units) {
		return nil, makeCycleError(inDegree, valid)
	}

	return &Resolution{
		Order:   order,
		Dropped: dropped,
	}, nil
}

func insertSorted(ready []string, id string) []string {
	at := sort.SearchStrings(ready, id)

	ready = append(ready, "")
	copy(ready[at+1:], ready[at:])
	ready[at] = id

	return ready
}

func makeCycleError(inDegree map[string]int, edges []unit.Edge) *CycleError {
	remaining := make([]string, 0)
	stuck := make(map[string]bool)

	for id, degree := range inDegree {
		if degree > 0 {
			remaining = append(remaining, id)
			stuck[id] = true
		}
	}
	sort.Strings(remaining)

	unsatisfied := make([]unit.Edge, 0)
	for _, edge := range edges {
		if stuck[edge.Dependent] && stuck[edge.Dependency] {
			unsatisfied = append(unsatisfied, edge)
		}
	}

	return &CycleError{
		Remaining:   remaining,
		Unsatisfied: unsatisfied,
	}
}
