// Package city runs the tile simulation: construction, growth, job matching,
// commuting, and the aggregate economy that feeds back into growth.
//
// A City is not safe for concurrent use. Whoever drives it must serialize
// Tick, Build, Destroy and every query.
package city

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/talgya/tilecity/internal/contracts"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/jobs"
	"github.com/talgya/tilecity/internal/pathfind"
)

// Stats are the city-wide aggregates, recomputed every tick.
type Stats struct {
	Tick    uint64  `json:"tick"`
	Cash    int64   `json:"cash"`
	TaxRate float64 `json:"tax_rate"`

	Population  int `json:"population"`
	Jobs        int `json:"jobs"` // Capacity, not occupancy
	Employments int `json:"employments"`
	Houses      int `json:"houses"`
	Offices     int `json:"offices"`
	Roads       int `json:"roads"`
	Trees       int `json:"trees"`

	HousingDemand float64 `json:"housing_demand"` // -1..1
	OfficeDemand  float64 `json:"office_demand"`  // -1..1
	Pollution     float64 `json:"pollution"`      // Mean over houses and offices
	CommuteTime   float64 `json:"commute_time"`   // Mean over houses
	Unemployment  float64 `json:"unemployment"`   // 1 - employments/population

	TaxIncome       int64 `json:"tax_income"`       // Per month at current employment
	RoadMaintenance int64 `json:"road_maintenance"` // Per month
	Cashflow        int64 `json:"cashflow"`
}

// City owns the grid, the contract registry and the economy.
type City struct {
	id  string
	cfg Config

	grid      *grid.Grid
	contracts *contracts.Registry

	src *rand.PCG
	rng *rand.Rand

	graph   pathfind.GridGraph
	matcher *jobs.Matcher

	stats Stats
}

// New creates an all-grass city, seeded with forests if the config asks for
// them. Every random draw the city ever makes comes from cfg.Seed.
func New(cfg Config) (*City, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := newCity(uuid.NewString(), cfg, grid.New(cfg.Size), contracts.NewRegistry(), newSource(cfg.Seed))
	c.stats.Cash = cfg.StartingCash
	c.stats.TaxRate = cfg.TaxRate

	planted := grid.SeedForests(c.grid, cfg.Seed, cfg.Forest)
	c.updateStats()

	slog.Info("city founded",
		"id", c.id,
		"size", cfg.Size,
		"seed", cfg.Seed,
		"trees", planted,
	)
	return c, nil
}

func newSource(seed int64) *rand.PCG {
	return rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)
}

func newCity(id string, cfg Config, g *grid.Grid, reg *contracts.Registry, src *rand.PCG) *City {
	c := &City{
		id:        id,
		cfg:       cfg,
		grid:      g,
		contracts: reg,
		src:       src,
		rng:       rand.New(src),
	}
	c.graph = pathfind.GridGraph{Grid: g, Travel: cfg.Travel}
	c.matcher = &jobs.Matcher{
		Grid:      g,
		Graph:     c.graph,
		Rand:      c.rng,
		MaxVisits: cfg.MaxJobSearch,
	}
	return c
}

// ID returns the city's unique identifier.
func (c *City) ID() string {
	return c.id
}

// Config returns the tuning the city runs with.
func (c *City) Config() Config {
	return c.cfg
}

// Size returns the grid side length.
func (c *City) Size() int {
	return c.grid.Size()
}

// Stats returns a copy of the aggregates.
func (c *City) Stats() Stats {
	return c.stats
}

// TickCount returns the number of ticks run so far.
func (c *City) TickCount() uint64 {
	return c.stats.Tick
}

// Cash returns the treasury balance.
func (c *City) Cash() int64 {
	return c.stats.Cash
}

// Cell returns the live cell at coord, or nil off the grid. Callers must not
// change it; use Build and Destroy.
func (c *City) Cell(coord grid.Coord) *grid.Cell {
	return c.grid.Cell(coord)
}

// CellOrDefault returns a copy of the cell at coord, or a grass cell off the grid.
func (c *City) CellOrDefault(coord grid.Coord) grid.Cell {
	return c.grid.CellOrDefault(coord)
}

// EachCell calls fn for every cell in row-major order.
func (c *City) EachCell(fn func(coord grid.Coord, cell grid.Cell)) {
	c.grid.Each(func(coord grid.Coord, cell *grid.Cell) {
		fn(coord, *cell)
	})
}

// Contracts returns every contract; the pointers are live.
func (c *City) Contracts() []*contracts.Contract {
	return c.contracts.All()
}

// ContractsOf returns copies of the contracts touching coord on either side.
func (c *City) ContractsOf(coord grid.Coord) []contracts.Contract {
	employed, hired := c.contracts.ByEmployee(coord), c.contracts.ByEmployer(coord)
	out := make([]contracts.Contract, 0, len(employed)+len(hired))
	for _, k := range employed {
		out = append(out, *k)
	}
	for _, k := range hired {
		out = append(out, *k)
	}
	return out
}

// ShortestPath returns the fastest route between two cells at current traffic.
func (c *City) ShortestPath(from, to grid.Coord) (pathfind.Route, bool) {
	return pathfind.Find(c.graph, from, to)
}

// SetTaxRate changes the tax rate. Rates outside [0, 1] are refused.
func (c *City) SetTaxRate(rate float64) bool {
	if rate < 0 || rate > 1 {
		return false
	}
	c.stats.TaxRate = rate
	return true
}

// Build places t on a grass cell and charges its cost. Returns false, changing
// nothing, if the cell is not grass, t is not buildable, or cash is short.
func (c *City) Build(coord grid.Coord, t grid.CellType) bool {
	cell := c.grid.Cell(coord)
	if cell == nil || cell.Type != grid.Grass {
		return false
	}
	cost, ok := c.cfg.Costs.Build(t)
	if !ok || c.stats.Cash < cost {
		return false
	}
	c.stats.Cash -= cost
	cell.Type = t
	cell.Stage = 0
	slog.Debug("built", "coord", coord.String(), "type", t.String(), "cost", cost)
	return true
}

// Destroy reverts a built cell to grass, ending every contract on either side
// of it. Returns false if the cell is already grass or cash is short.
func (c *City) Destroy(coord grid.Coord) bool {
	cell := c.grid.Cell(coord)
	if cell == nil || cell.Type == grid.Grass {
		return false
	}
	if c.stats.Cash < c.cfg.Costs.Destroy {
		return false
	}
	c.stats.Cash -= c.cfg.Costs.Destroy

	// Firing edits the buckets, so walk copies.
	employed := append([]*contracts.Contract(nil), c.contracts.ByEmployee(coord)...)
	hired := append([]*contracts.Contract(nil), c.contracts.ByEmployer(coord)...)
	for _, k := range employed {
		c.fire(k)
	}
	for _, k := range hired {
		c.fire(k)
	}

	old := cell.Type
	cell.Reset()
	slog.Debug("destroyed", "coord", coord.String(), "type", old.String(), "contracts_ended", len(employed)+len(hired))
	return true
}

// FindJob runs one job search for a resident of the house at coord and
// records the contract if a vacancy turns up.
func (c *City) FindJob(coord grid.Coord) bool {
	cell := c.grid.Cell(coord)
	if cell == nil || cell.Type != grid.House || cell.Unemployed() <= 0 {
		return false
	}
	k, ok := c.matcher.FindJob(coord)
	if !ok {
		return false
	}
	c.hire(k)
	return true
}

func (c *City) hire(k *contracts.Contract) {
	if err := c.contracts.Add(k); err != nil {
		panic(fmt.Errorf("city: hire: %w", err))
	}
	c.grid.Cell(k.Employee).Employers++
	c.grid.Cell(k.Employer).Employees++
}

// fire ends a contract. A registry failure means the city's state no longer
// agrees with itself, which no caller can recover from.
func (c *City) fire(k *contracts.Contract) {
	if err := c.contracts.Remove(k); err != nil {
		slog.Error("contract registry corrupted", "contract", k.String(), "error", err)
		panic(fmt.Errorf("city: fire: %w", err))
	}
	c.grid.Cell(k.Employee).Employers--
	c.grid.Cell(k.Employer).Employees--
}
