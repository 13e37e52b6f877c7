// Package jobs matches unemployed residents to nearby vacancies.
package jobs

import (
	"math/rand/v2"

	"github.com/zyedidia/generic/mapset"

	"github.com/talgya/tilecity/internal/contracts"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/pathfind"
)

// DefaultMaxVisits bounds how many cells one search may expand.
const DefaultMaxVisits = 100

// Matcher runs a randomized breadth-first search outward from a house.
type Matcher struct {
	Grid      *grid.Grid
	Graph     pathfind.Graph // Used to price the commute
	Rand      *rand.Rand
	MaxVisits int
}

// FindJob searches from the employee's cell for the first cell with a vacancy
// and returns an unregistered contract for it. Frontier cells are taken in
// uniformly random order rather than FIFO, which spreads hires across
// equally reachable offices. The caller records the contract.
//
// Returns false when the visit budget runs out or the frontier empties;
// that is an ordinary outcome, the resident stays unemployed.
func (m *Matcher) FindJob(employee grid.Coord) (*contracts.Contract, bool) {
	if !m.Grid.InBounds(employee) {
		return nil, false
	}
	budget := m.MaxVisits
	if budget <= 0 {
		budget = DefaultMaxVisits
	}

	visited := mapset.New[grid.Coord]()
	visited.Put(employee)
	frontier := []grid.Coord{employee}

	for expanded := 0; len(frontier) > 0 && expanded < budget; expanded++ {
		n := m.Rand.IntN(len(frontier))
		cur := frontier[n]
		last := len(frontier) - 1
		frontier[n] = frontier[last]
		frontier = frontier[:last]

		if m.Grid.Cell(cur).Vacancies() > 0 {
			return m.contract(employee, cur), true
		}

		for _, next := range cur.Neighbors() {
			if !m.Grid.InBounds(next) || visited.Has(next) {
				continue
			}
			visited.Put(next)
			frontier = append(frontier, next)
		}
	}
	return nil, false
}

func (m *Matcher) contract(employee, employer grid.Coord) *contracts.Contract {
	k := &contracts.Contract{Employee: employee, Employer: employer}
	if route, ok := pathfind.Find(m.Graph, employee, employer); ok {
		k.CommuteTime = route.Time
	}
	return k
}
