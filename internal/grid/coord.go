// Package grid provides the square tile grid, cell state, and travel-time model.
// Coordinates are plain values: two equal (i, j) pairs are the same map key.
package grid

import (
	"fmt"
	"strconv"
	"strings"
)

// Coord is a position on the grid. Off-grid values are valid Coords;
// lookups against a Grid simply fail for them.
type Coord struct {
	I int `json:"i"`
	J int `json:"j"`
}

// Directions are the four neighbor offsets, in the fixed order used by every
// search in the simulation.
var Directions = [4]Coord{
	{I: -1, J: 0},
	{I: 0, J: 1},
	{I: 1, J: 0},
	{I: 0, J: -1},
}

// Offset returns the coordinate shifted by (di, dj).
func (c Coord) Offset(di, dj int) Coord {
	return Coord{I: c.I + di, J: c.J + dj}
}

// Neighbors returns the four adjacent coordinates, on-grid or not.
func (c Coord) Neighbors() [4]Coord {
	var result [4]Coord
	for n, dir := range Directions {
		result[n] = c.Offset(dir.I, dir.J)
	}
	return result
}

// Key returns the row-major integer key i*stride+j.
func (c Coord) Key(stride int) int {
	return c.I*stride + c.J
}

// String returns the canonical "i,j" form.
func (c Coord) String() string {
	return strconv.Itoa(c.I) + "," + strconv.Itoa(c.J)
}

// ParseCoord parses the canonical "i,j" form.
func ParseCoord(s string) (Coord, error) {
	is, js, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Coord{}, fmt.Errorf("coord %q: missing comma", s)
	}
	i, err := strconv.Atoi(strings.TrimSpace(is))
	if err != nil {
		return Coord{}, fmt.Errorf("coord %q: %w", s, err)
	}
	j, err := strconv.Atoi(strings.TrimSpace(js))
	if err != nil {
		return Coord{}, fmt.Errorf("coord %q: %w", s, err)
	}
	return Coord{I: i, J: j}, nil
}

// Manhattan returns the 4-connected grid distance between two coordinates.
func Manhattan(a, b Coord) int {
	return abs(a.I-b.I) + abs(a.J-b.J)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
