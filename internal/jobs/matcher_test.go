package jobs

import (
	"math/rand/v2"
	"testing"

	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/pathfind"
)

func newMatcher(g *grid.Grid, seed uint64) *Matcher {
	return &Matcher{
		Grid:  g,
		Graph: pathfind.GridGraph{Grid: g, Travel: grid.DefaultTravel()},
		Rand:  rand.New(rand.NewPCG(seed, seed)),
	}
}

func TestFindsAdjacentOffice(t *testing.T) {
	g := grid.New(3)
	house, office := grid.Coord{I: 1, J: 1}, grid.Coord{I: 1, J: 2}
	*g.Cell(house) = grid.Cell{Type: grid.House, Stage: 1, Population: 1}
	*g.Cell(office) = grid.Cell{Type: grid.Office, Stage: 1}

	for seed := uint64(0); seed < 10; seed++ {
		k, ok := newMatcher(g, seed).FindJob(house)
		if !ok {
			t.Fatalf("seed %d: no job found", seed)
		}
		if k.Employee != house || k.Employer != office {
			t.Fatalf("seed %d: contract %s", seed, k)
		}
		// One step across two walked cells.
		if k.CommuteTime != grid.DefaultTravel().WalkTime {
			t.Errorf("seed %d: commute %v", seed, k.CommuteTime)
		}
	}
}

func TestNoVacancy(t *testing.T) {
	g := grid.New(5)
	house := grid.Coord{I: 2, J: 2}
	*g.Cell(house) = grid.Cell{Type: grid.House, Stage: 1, Population: 1}
	full := grid.Coord{I: 0, J: 0}
	*g.Cell(full) = grid.Cell{Type: grid.Office, Stage: 1, Employees: grid.JobStages[1]}

	if k, ok := newMatcher(g, 1).FindJob(house); ok {
		t.Fatalf("found %s in a city with no vacancies", k)
	}
	if _, ok := newMatcher(g, 1).FindJob(grid.Coord{I: -1, J: 0}); ok {
		t.Fatal("search from off the grid succeeded")
	}
}

func TestVisitBudget(t *testing.T) {
	g := grid.New(30)
	house := grid.Coord{I: 0, J: 0}
	*g.Cell(house) = grid.Cell{Type: grid.House, Stage: 1, Population: 1}
	far := grid.Coord{I: 29, J: 29}
	*g.Cell(far) = grid.Cell{Type: grid.Office, Stage: 1}

	m := newMatcher(g, 3)
	m.MaxVisits = 10
	if _, ok := m.FindJob(house); ok {
		t.Fatal("search reached an office beyond its budget")
	}
	m.MaxVisits = g.Len()
	if k, ok := m.FindJob(house); !ok || k.Employer != far {
		t.Fatalf("unbounded search = %v, %v", k, ok)
	}
}

func TestDeterministicUnderSeed(t *testing.T) {
	g := grid.New(9)
	house := grid.Coord{I: 4, J: 4}
	*g.Cell(house) = grid.Cell{Type: grid.House, Stage: 1, Population: 1}
	for _, c := range []grid.Coord{{I: 0, J: 4}, {I: 8, J: 4}, {I: 4, J: 0}, {I: 4, J: 8}} {
		*g.Cell(c) = grid.Cell{Type: grid.Office, Stage: 1}
	}

	a, _ := newMatcher(g, 99).FindJob(house)
	b, _ := newMatcher(g, 99).FindJob(house)
	if a.Employer != b.Employer {
		t.Fatalf("same seed chose %v and %v", a.Employer, b.Employer)
	}

	// Across seeds the random frontier should not always pick the same office.
	picked := map[grid.Coord]bool{}
	for seed := uint64(0); seed < 40; seed++ {
		k, ok := newMatcher(g, seed).FindJob(house)
		if !ok {
			t.Fatalf("seed %d found nothing", seed)
		}
		picked[k.Employer] = true
	}
	if len(picked) < 2 {
		t.Errorf("40 seeds all picked %v", picked)
	}
}
