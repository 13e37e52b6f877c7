// Package pathfind finds minimum travel-time routes across the grid with A*.
package pathfind

import (
	"github.com/zyedidia/generic/heap"
	"github.com/zyedidia/generic/mapset"

	"github.com/talgya/tilecity/internal/grid"
)

// Graph is the weighted grid A* searches. TravelTime must never return less
// than grid.MinTravelTime, or the Manhattan heuristic stops being admissible.
type Graph interface {
	InBounds(c grid.Coord) bool
	TravelTime(c grid.Coord) float64
}

// Route is a path from its first to its last coordinate and the time to walk it.
type Route struct {
	Path []grid.Coord `json:"path"`
	Time float64      `json:"time"`
}

// Len returns the number of cells on the route.
func (r Route) Len() int {
	return len(r.Path)
}

type node struct {
	coord grid.Coord
	g     float64 // Best known cost from the start
	f     float64 // g + heuristic
	seq   int     // Push order, breaks f ties
}

// Find returns the cheapest route from `from` to `to`. Moving between two
// adjacent cells costs the mean of their travel times. Ties on f go to the
// node pushed first, so results are deterministic for a given grid state.
// Returns false only if an endpoint is off the grid or `to` is unreachable.
func Find(g Graph, from, to grid.Coord) (Route, bool) {
	if !g.InBounds(from) || !g.InBounds(to) {
		return Route{}, false
	}
	if from == to {
		return Route{Path: []grid.Coord{from}}, true
	}

	open := heap.New(func(a, b node) bool {
		if a.f != b.f {
			return a.f < b.f
		}
		return a.seq < b.seq
	})
	closed := mapset.New[grid.Coord]()
	gScore := map[grid.Coord]float64{from: 0}
	cameFrom := make(map[grid.Coord]grid.Coord)

	seq := 0
	open.Push(node{coord: from, g: 0, f: heuristic(from, to), seq: seq})

	for open.Size() > 0 {
		cur, _ := open.Pop()
		// Stale heap entry: a cheaper one was pushed later.
		if closed.Has(cur.coord) || cur.g > gScore[cur.coord] {
			continue
		}
		if cur.coord == to {
			return Route{Path: reconstruct(cameFrom, from, to), Time: cur.g}, true
		}
		closed.Put(cur.coord)

		curTime := g.TravelTime(cur.coord)
		for _, next := range cur.coord.Neighbors() {
			if !g.InBounds(next) || closed.Has(next) {
				continue
			}
			tentative := cur.g + (curTime+g.TravelTime(next))/2
			if best, seen := gScore[next]; seen && tentative >= best {
				continue
			}
			gScore[next] = tentative
			cameFrom[next] = cur.coord
			seq++
			open.Push(node{coord: next, g: tentative, f: tentative + heuristic(next, to), seq: seq})
		}
	}

	return Route{}, false
}

func heuristic(a, b grid.Coord) float64 {
	return float64(grid.Manhattan(a, b)) * grid.MinTravelTime
}

func reconstruct(cameFrom map[grid.Coord]grid.Coord, from, to grid.Coord) []grid.Coord {
	path := []grid.Coord{to}
	for cur := to; cur != from; {
		cur = cameFrom[cur]
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// GridGraph weighs a grid with a travel model.
type GridGraph struct {
	Grid   *grid.Grid
	Travel grid.Travel
}

// InBounds implements Graph.
func (gg GridGraph) InBounds(c grid.Coord) bool {
	return gg.Grid.InBounds(c)
}

// TravelTime implements Graph.
func (gg GridGraph) TravelTime(c grid.Coord) float64 {
	return gg.Travel.Time(gg.Grid.Cell(c))
}
