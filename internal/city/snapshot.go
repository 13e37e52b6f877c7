package city

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/talgya/tilecity/internal/contracts"
	"github.com/talgya/tilecity/internal/grid"
)

// SnapshotVersion is bumped whenever the snapshot layout changes.
const SnapshotVersion = 1

// ErrInvalidSnapshot is wrapped by every Restore failure.
var ErrInvalidSnapshot = errors.New("invalid city snapshot")

// Snapshot is the complete, typed state of a City. Restoring it yields a city
// that behaves exactly like the one it was taken from, random draws included.
type Snapshot struct {
	Version        int             `json:"version"`
	CityID         string          `json:"city_id"`
	Config         Config          `json:"config"`
	RNG            []byte          `json:"rng"` // PCG state
	NextContractID uint64          `json:"next_contract_id"`
	Stats          Stats           `json:"stats"`
	Cells          []CellState     `json:"cells"`
	Contracts      []ContractState `json:"contracts"` // Registry order
}

// CellState is one cell and its position.
type CellState struct {
	I int `json:"i"`
	J int `json:"j"`
	grid.Cell
}

// ContractState is one contract with "i,j" coordinates.
type ContractState struct {
	ID          uint64  `json:"id"`
	Employee    string  `json:"employee"`
	Employer    string  `json:"employer"`
	CommuteTime float64 `json:"commute_time"`
}

// Snapshot captures the city's full state.
func (c *City) Snapshot() *Snapshot {
	rngState, err := c.src.MarshalBinary()
	if err != nil {
		// PCG marshaling cannot fail.
		panic(fmt.Errorf("city: marshal rng: %w", err))
	}

	cfg := c.cfg
	cfg.HouseStageMinHouses = append([]int(nil), c.cfg.HouseStageMinHouses...)
	cfg.OfficeStageMinOffices = append([]int(nil), c.cfg.OfficeStageMinOffices...)

	snap := &Snapshot{
		Version:        SnapshotVersion,
		CityID:         c.id,
		Config:         cfg,
		RNG:            rngState,
		NextContractID: c.contracts.NextID(),
		Stats:          c.stats,
		Cells:          make([]CellState, 0, c.grid.Len()),
		Contracts:      make([]ContractState, 0, c.contracts.Len()),
	}
	c.grid.Each(func(coord grid.Coord, cell *grid.Cell) {
		snap.Cells = append(snap.Cells, CellState{I: coord.I, J: coord.J, Cell: *cell})
	})
	for _, k := range c.contracts.All() {
		snap.Contracts = append(snap.Contracts, ContractState{
			ID:          k.ID,
			Employee:    k.Employee.String(),
			Employer:    k.Employer.String(),
			CommuteTime: k.CommuteTime,
		})
	}
	return snap
}

// Restore rebuilds a City from a snapshot. Cells are copied field by field,
// the contract registry's indexes are rebuilt from the flat list, and every
// cross-reference is checked. Aggregates are taken as saved, not recomputed,
// since recomputing them would advance the environmental fields.
func Restore(snap *Snapshot) (*City, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidSnapshot)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrInvalidSnapshot, snap.Version, SnapshotVersion)
	}
	if err := snap.Config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	size := snap.Config.Size
	g := grid.New(size)
	if len(snap.Cells) != g.Len() {
		return nil, fmt.Errorf("%w: %d cells for a %d×%d grid", ErrInvalidSnapshot, len(snap.Cells), size, size)
	}
	seen := make([]bool, g.Len())
	for _, cs := range snap.Cells {
		coord := grid.Coord{I: cs.I, J: cs.J}
		cell := g.Cell(coord)
		if cell == nil {
			return nil, fmt.Errorf("%w: cell %s out of range", ErrInvalidSnapshot, coord)
		}
		if seen[coord.Key(size)] {
			return nil, fmt.Errorf("%w: cell %s listed twice", ErrInvalidSnapshot, coord)
		}
		seen[coord.Key(size)] = true
		if err := checkCell(cs.Cell); err != nil {
			return nil, fmt.Errorf("%w: cell %s: %w", ErrInvalidSnapshot, coord, err)
		}
		*cell = cs.Cell
	}

	list := make([]*contracts.Contract, 0, len(snap.Contracts))
	employers := make(map[grid.Coord]int)
	employees := make(map[grid.Coord]int)
	for _, ks := range snap.Contracts {
		k, err := parseContract(g, ks)
		if err != nil {
			return nil, fmt.Errorf("%w: contract %d: %w", ErrInvalidSnapshot, ks.ID, err)
		}
		list = append(list, k)
		employers[k.Employee]++
		employees[k.Employer]++
	}
	reg := contracts.NewRegistry()
	if err := reg.Load(list, snap.NextContractID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if err := reg.Check(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	// Cell counters must agree with the contracts that reference them.
	var mismatch error
	g.Each(func(coord grid.Coord, cell *grid.Cell) {
		if mismatch != nil {
			return
		}
		if cell.Employers != employers[coord] || cell.Employees != employees[coord] {
			mismatch = fmt.Errorf("%w: cell %s counts %d/%d contracts, registry has %d/%d",
				ErrInvalidSnapshot, coord, cell.Employers, cell.Employees, employers[coord], employees[coord])
		}
	})
	if mismatch != nil {
		return nil, mismatch
	}

	src := newSource(0)
	if err := src.UnmarshalBinary(snap.RNG); err != nil {
		return nil, fmt.Errorf("%w: rng: %w", ErrInvalidSnapshot, err)
	}

	cfg := snap.Config
	cfg.HouseStageMinHouses = append([]int(nil), snap.Config.HouseStageMinHouses...)
	cfg.OfficeStageMinOffices = append([]int(nil), snap.Config.OfficeStageMinOffices...)

	c := newCity(snap.CityID, cfg, g, reg, src)
	c.stats = snap.Stats

	slog.Info("city restored",
		"id", c.id,
		"tick", c.stats.Tick,
		"population", c.stats.Population,
		"contracts", reg.Len(),
	)
	return c, nil
}

func checkCell(cell grid.Cell) error {
	if !cell.Type.Valid() {
		return fmt.Errorf("type %d", uint8(cell.Type))
	}
	if cell.Stage < 0 || cell.Stage > grid.MaxStage {
		return fmt.Errorf("stage %d outside 0..%d", cell.Stage, grid.MaxStage)
	}
	if cell.Population < 0 || cell.Population > cell.MaxPopulation() {
		return fmt.Errorf("population %d outside 0..%d", cell.Population, cell.MaxPopulation())
	}
	if cell.Employees < 0 || cell.Employees > cell.MaxJobs() {
		return fmt.Errorf("employees %d outside 0..%d", cell.Employees, cell.MaxJobs())
	}
	if cell.Employers < 0 || cell.Employers > cell.Population {
		return fmt.Errorf("employers %d outside 0..%d", cell.Employers, cell.Population)
	}
	return nil
}

func parseContract(g *grid.Grid, ks ContractState) (*contracts.Contract, error) {
	employee, err := grid.ParseCoord(ks.Employee)
	if err != nil {
		return nil, fmt.Errorf("employee: %w", err)
	}
	employer, err := grid.ParseCoord(ks.Employer)
	if err != nil {
		return nil, fmt.Errorf("employer: %w", err)
	}
	if g.CellOrDefault(employee).Type != grid.House {
		return nil, fmt.Errorf("employee %s is not a house", employee)
	}
	if g.CellOrDefault(employer).Type != grid.Office {
		return nil, fmt.Errorf("employer %s is not an office", employer)
	}
	return &contracts.Contract{
		ID:          ks.ID,
		Employee:    employee,
		Employer:    employer,
		CommuteTime: ks.CommuteTime,
	}, nil
}

// Encode writes the snapshot as JSON.
func (s *Snapshot) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(s)
}

// DecodeSnapshot reads a JSON snapshot. The result still has to go through
// Restore to be checked.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
