package grid

import "fmt"

// Grid holds a fixed size×size square of cells in row-major order.
type Grid struct {
	size  int
	cells []Cell
}

// New creates an all-grass grid.
func New(size int) *Grid {
	if size < 1 {
		size = 1
	}
	return &Grid{
		size:  size,
		cells: make([]Cell, size*size),
	}
}

// Size returns the side length.
func (g *Grid) Size() int {
	return g.size
}

// InBounds reports whether the coordinate lies on the grid.
func (g *Grid) InBounds(c Coord) bool {
	return c.I >= 0 && c.I < g.size && c.J >= 0 && c.J < g.size
}

// Cell returns the cell at c, or nil if c is off the grid.
func (g *Grid) Cell(c Coord) *Cell {
	if !g.InBounds(c) {
		return nil
	}
	return &g.cells[c.Key(g.size)]
}

// CellOrDefault returns a copy of the cell at c, or DefaultCell off the grid.
func (g *Grid) CellOrDefault(c Coord) Cell {
	if cell := g.Cell(c); cell != nil {
		return *cell
	}
	return DefaultCell
}

// At returns the coordinate of the n-th cell in row-major order.
func (g *Grid) At(n int) Coord {
	return Coord{I: n / g.size, J: n % g.size}
}

// Len returns the number of cells.
func (g *Grid) Len() int {
	return len(g.cells)
}

// Each calls fn for every cell in row-major order.
func (g *Grid) Each(fn func(c Coord, cell *Cell)) {
	for n := range g.cells {
		fn(g.At(n), &g.cells[n])
	}
}

// Counts returns the number of cells of each type.
func (g *Grid) Counts() map[CellType]int {
	counts := make(map[CellType]int)
	for n := range g.cells {
		counts[g.cells[n].Type]++
	}
	return counts
}

// String returns a summary of the grid.
func (g *Grid) String() string {
	return fmt.Sprintf("Grid(size=%d, cells=%d)", g.size, len(g.cells))
}
