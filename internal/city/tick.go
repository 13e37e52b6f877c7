package city

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/talgya/tilecity/internal/contracts"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/pathfind"
)

// Tick advances the simulation by one step. It does not know about wall
// time; the driver decides how many ticks make a second.
func (c *City) Tick() {
	c.stats.Tick++

	c.TickCell(c.grid.At(c.rng.IntN(c.grid.Len())))
	c.tickContract()
	c.updateStats()

	if c.cfg.CarsEvery > 0 && c.stats.Tick%uint64(c.cfg.CarsEvery) == 0 {
		c.updateCars()
	}
	if c.cfg.MonthTicks > 0 && c.stats.Tick%uint64(c.cfg.MonthTicks) == 0 {
		c.payday()
	}
}

// TickCell applies the per-type growth rule to one cell. Tick calls it on a
// random cell; it is exported for debugging tools and tests.
func (c *City) TickCell(coord grid.Coord) {
	cell := c.grid.Cell(coord)
	if cell == nil {
		return
	}
	switch cell.Type {
	case grid.House:
		c.tickHouse(coord, cell)
	case grid.Office:
		c.tickOffice(coord, cell)
	}
}

func (c *City) tickHouse(coord grid.Coord, cell *grid.Cell) {
	demand := c.stats.HousingDemand * cell.HouseDesirability
	sumDemand := c.stats.HousingDemand + cell.HouseDesirability

	if sumDemand > 1 &&
		cell.Population == cell.MaxPopulation() &&
		cell.Stage < grid.MaxStage &&
		c.stats.Houses >= c.cfg.HouseStageMinHouses[cell.Stage+1] {
		cell.Stage++
	}

	if demand > 0 {
		room := cell.MaxPopulation() - cell.Population
		grow := int(math.Ceil(float64(room) * demand))
		cell.Population = min(cell.Population+grow, cell.MaxPopulation())
	} else if sumDemand < 0 {
		leaving := int(math.Ceil(float64(cell.Population) * math.Min(-sumDemand, 1) * c.cfg.ShrinkRate))
		remaining := max(cell.Population-leaving, 0)
		// The most recently hired leave first.
		for cell.Employers > remaining {
			bucket := c.contracts.ByEmployee(coord)
			c.fire(bucket[len(bucket)-1])
		}
		cell.Population = remaining
	}

	// Attrition: any job may simply end.
	for _, k := range append([]*contracts.Contract(nil), c.contracts.ByEmployee(coord)...) {
		if c.rng.Float64() < c.cfg.AttritionChance {
			c.fire(k)
		}
	}

	for n := cell.Unemployed(); n > 0; n-- {
		c.FindJob(coord)
	}

	c.updateCommute(coord, cell)
}

// tickOffice grows offices. Offices never shrink: staff only leave through
// attrition on the house side or demolition.
// TODO: shed jobs when office demand stays negative; needs a layoff order
// that keeps the employer buckets consistent with house attrition.
func (c *City) tickOffice(coord grid.Coord, cell *grid.Cell) {
	sumDemand := c.stats.OfficeDemand + cell.OfficeDesirability
	if sumDemand > 1 &&
		cell.Employees >= cell.MaxJobs() &&
		cell.Stage < grid.MaxStage &&
		c.stats.Offices >= c.cfg.OfficeStageMinOffices[cell.Stage+1] {
		cell.Stage++
	}
}

func (c *City) updateCommute(coord grid.Coord, cell *grid.Cell) {
	list := c.contracts.ByEmployee(coord)
	if len(list) == 0 {
		cell.CommuteTime = 0
		return
	}
	total := 0.0
	for _, k := range list {
		total += k.CommuteTime
	}
	cell.CommuteTime = total / float64(len(list))
}

// tickContract re-routes one random commuter and records the route as a
// traffic sample. Older samples fade on every call.
func (c *City) tickContract() {
	if c.contracts.Len() == 0 {
		return
	}
	k := c.contracts.At(c.rng.IntN(c.contracts.Len()))

	decay := c.cfg.TrafficDecay
	c.grid.Each(func(_ grid.Coord, cell *grid.Cell) {
		cell.TrafficSamples *= decay
	})

	route, ok := pathfind.Find(c.graph, k.Employee, k.Employer)
	if !ok {
		return
	}
	k.CommuteTime = route.Time
	for _, p := range route.Path {
		c.grid.Cell(p).TrafficSamples++
	}
}

// updateCars redraws the cosmetic car bitmask: bit d is set when the road
// continues toward Directions[d] and a car happens to be there.
func (c *City) updateCars() {
	c.grid.Each(func(coord grid.Coord, cell *grid.Cell) {
		if cell.Type != grid.Road {
			cell.Cars = 0
			return
		}
		load := c.cfg.Travel.Load(cell)
		var cars uint8
		for d, next := range coord.Neighbors() {
			if c.grid.CellOrDefault(next).Type != grid.Road {
				continue
			}
			if c.rng.Float64() < load {
				cars |= 1 << d
			}
		}
		cell.Cars = cars
	})
}

// payday books one month of cash flow.
func (c *City) payday() {
	c.stats.Cash += c.stats.Cashflow

	slog.Info("monthly report",
		"tick", c.stats.Tick,
		"month", c.stats.Tick/uint64(c.cfg.MonthTicks),
		"population", c.stats.Population,
		"jobs", c.stats.Jobs,
		"employments", c.stats.Employments,
		"tax_income", humanize.Comma(c.stats.TaxIncome),
		"road_maintenance", humanize.Comma(c.stats.RoadMaintenance),
		"cash", humanize.Comma(c.stats.Cash),
		"housing_demand", fmt.Sprintf("%.3f", c.stats.HousingDemand),
		"office_demand", fmt.Sprintf("%.3f", c.stats.OfficeDemand),
	)
}
