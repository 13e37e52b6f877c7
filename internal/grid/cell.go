package grid

import (
	"fmt"
	"strings"
)

// CellType is what occupies a tile.
type CellType uint8

const (
	Grass  CellType = iota // Empty land, the only buildable state
	House                  // Residential, holds population
	Office                 // Commercial, holds jobs
	Road                   // Fast travel, carries traffic
	Trees                  // Decorative forest
)

var cellTypeNames = [...]string{"grass", "house", "office", "road", "trees"}

var cellTypeSymbols = [...]byte{'.', 'h', 'o', '#', 't'}

// String returns the lowercase name used in JSON, YAML, and the API.
func (t CellType) String() string {
	if int(t) < len(cellTypeNames) {
		return cellTypeNames[t]
	}
	return fmt.Sprintf("CellType(%d)", uint8(t))
}

// Symbol returns the one-character map glyph for t.
func (t CellType) Symbol() byte {
	if t.Valid() {
		return cellTypeSymbols[t]
	}
	return '?'
}

// Valid reports whether t is one of the known cell types.
func (t CellType) Valid() bool {
	return int(t) < len(cellTypeNames)
}

// ParseCellType converts a name back to its CellType.
func ParseCellType(s string) (CellType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range cellTypeNames {
		if name == s {
			return CellType(i), nil
		}
	}
	return Grass, fmt.Errorf("unknown cell type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t CellType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid cell type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *CellType) UnmarshalText(text []byte) error {
	parsed, err := ParseCellType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MaxStage is the highest growth stage a cell can reach.
const MaxStage = 7

// PopulationStages is the resident capacity of a house at each stage.
var PopulationStages = [MaxStage + 1]int{0, 4, 8, 16, 32, 64, 128, 256}

// JobStages is the job capacity of an office at each stage.
var JobStages = [MaxStage + 1]int{0, 8, 16, 32, 64, 128, 256, 512}

// Cell is the mutable state of one tile.
type Cell struct {
	Type  CellType `json:"type"`
	Stage int      `json:"stage"` // 0..MaxStage, never decreases while built

	Population int `json:"population"` // Residents (houses only)
	Employers  int `json:"employers"`  // Contracts with this cell as the employee side
	Employees  int `json:"employees"`  // Contracts with this cell as the employer side

	// Road usage: TrafficSamples is a decaying count of sampled routes that
	// crossed this cell, Traffic is the commuter estimate derived from it.
	TrafficSamples float64 `json:"traffic_samples"`
	Traffic        float64 `json:"traffic"`

	// Environmental fields, all decaying and diffusing every tick.
	Pollution  float64 `json:"pollution"`
	Houseness  float64 `json:"houseness"`
	Officeness float64 `json:"officeness"`

	HouseDesirability  float64 `json:"house_desirability"`  // -1..1
	OfficeDesirability float64 `json:"office_desirability"` // -1..1

	CommuteTime float64 `json:"commute_time"` // Mean over this house's contracts
	Cars        uint8   `json:"cars"`         // Cosmetic lane occupancy, one bit per direction
}

// DefaultCell is what lies beyond the edge of the map.
var DefaultCell = Cell{Type: Grass}

// MaxPopulation returns the resident capacity at the current stage.
func (c *Cell) MaxPopulation() int {
	if c.Type != House {
		return 0
	}
	return PopulationStages[c.Stage]
}

// MaxJobs returns the job capacity at the current stage.
func (c *Cell) MaxJobs() int {
	if c.Type != Office {
		return 0
	}
	return JobStages[c.Stage]
}

// Vacancies returns unfilled jobs.
func (c *Cell) Vacancies() int {
	return c.MaxJobs() - c.Employees
}

// Unemployed returns residents without a contract.
func (c *Cell) Unemployed() int {
	return c.Population - c.Employers
}

// Reset reverts the cell to empty grass. Environmental fields are kept,
// they fade on their own.
func (c *Cell) Reset() {
	c.Type = Grass
	c.Stage = 0
	c.Population = 0
	c.Employers = 0
	c.Employees = 0
	c.CommuteTime = 0
	c.Cars = 0
}
