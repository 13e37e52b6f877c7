package city

import (
	"math"

	"github.com/talgya/tilecity/internal/grid"
)

// updateStats recomputes the aggregates from the whole grid and advances the
// environmental fields by one step.
func (c *City) updateStats() {
	cfg := &c.cfg
	s := &c.stats
	employments := c.contracts.Len()

	population, jobs := 0, 0
	houses, offices, roads, trees := 0, 0, 0, 0
	pollution, commute := 0.0, 0.0

	// Each sampled route adds one to every cell on it, and one contract is
	// sampled per tick, so samples*(1-decay) is the share of all commuters
	// crossing the cell.
	trafficScale := (1 - cfg.TrafficDecay) * float64(employments)

	c.grid.Each(func(_ grid.Coord, cell *grid.Cell) {
		population += cell.Population
		jobs += cell.MaxJobs()
		switch cell.Type {
		case grid.House:
			houses++
			pollution += cell.Pollution
			commute += cell.CommuteTime
		case grid.Office:
			offices++
			pollution += cell.Pollution
		case grid.Road:
			roads++
		case grid.Trees:
			trees++
		}
		if cell.Type == grid.Road {
			cell.Traffic = cell.TrafficSamples * trafficScale
		} else {
			cell.Traffic = 0
		}
	})

	s.Population = population
	s.Jobs = jobs
	s.Employments = employments
	s.Houses = houses
	s.Offices = offices
	s.Roads = roads
	s.Trees = trees
	s.Pollution = mean(pollution, houses+offices)
	s.CommuteTime = mean(commute, houses)
	s.Unemployment = 0
	if population > 0 {
		s.Unemployment = 1 - float64(employments)/float64(population)
	}

	c.updateFields()
	c.updateDemand()

	s.RoadMaintenance = int64(roads) * cfg.RoadUpkeep
	s.TaxIncome = int64(math.Round(s.TaxRate * cfg.Wage * float64(employments)))
	s.Cashflow = s.TaxIncome - s.RoadMaintenance
}

// updateFields blends each cell's houseness, officeness and pollution toward
// its local source, diffuses them, then derives desirability.
func (c *City) updateFields() {
	cfg := &c.cfg

	c.grid.Each(func(_ grid.Coord, cell *grid.Cell) {
		house, office := 0.0, 0.0
		switch cell.Type {
		case grid.House:
			house = 1
		case grid.Office:
			office = 1
		}
		cell.Houseness += cfg.FieldMix * (house - cell.Houseness)
		cell.Officeness += cfg.FieldMix * (office - cell.Officeness)
		cell.Pollution += cfg.PollutionMix * (c.pollutionSource(cell) - cell.Pollution)
		if cell.Type == grid.Trees {
			cell.Pollution *= 1 - cfg.TreeCleansing
		}
	})

	c.diffuse()

	c.grid.Each(func(_ grid.Coord, cell *grid.Cell) {
		cell.HouseDesirability = clamp(1-cfg.HouseOfficeWeight*cell.Officeness-cfg.HousePollutionWeight*cell.Pollution, -1, 1)
		cell.OfficeDesirability = clamp(1-cfg.OfficeHouseWeight*cell.Houseness-cfg.OfficePollutionWeight*cell.Pollution, -1, 1)
	})
}

func (c *City) pollutionSource(cell *grid.Cell) float64 {
	switch cell.Type {
	case grid.House:
		return c.cfg.HousePollution * float64(cell.Population)
	case grid.Office:
		return c.cfg.OfficePollution * float64(cell.Employees)
	case grid.Road:
		return c.cfg.TrafficPollution * c.cfg.Travel.Load(cell)
	}
	return 0
}

// diffuse exchanges field values between neighbors in two checkerboard
// passes: cells with even i+j trade with all their neighbors, then odd
// cells do. Neither pass sees a half-updated cell of its own parity.
func (c *City) diffuse() {
	d := c.cfg.Diffusion
	if d == 0 {
		return
	}
	for parity := 0; parity < 2; parity++ {
		c.grid.Each(func(coord grid.Coord, cell *grid.Cell) {
			if (coord.I+coord.J)%2 != parity {
				return
			}
			for _, next := range coord.Neighbors() {
				nb := c.grid.Cell(next)
				if nb == nil {
					continue
				}
				exchange(&cell.Houseness, &nb.Houseness, d)
				exchange(&cell.Officeness, &nb.Officeness, d)
				exchange(&cell.Pollution, &nb.Pollution, d)
			}
		})
	}
}

// exchange moves a share of the difference from the larger to the smaller.
func exchange(a, b *float64, share float64) {
	flow := share * (*b - *a)
	*a += flow
	*b -= flow
}

// updateDemand derives the city-wide housing and office demand signals.
func (c *City) updateDemand() {
	cfg := &c.cfg
	s := &c.stats

	scale := math.Max(float64(s.Population+s.Jobs), cfg.DemandFloor)
	jobSurplus := float64(s.Jobs-s.Population) / scale

	s.HousingDemand = clamp(
		cfg.HousingBase+
			cfg.JobSurplusWeight*jobSurplus-
			cfg.HousingTaxWeight*s.TaxRate-
			cfg.CommuteWeight*s.CommuteTime,
		-1, 1)
	s.OfficeDemand = clamp(
		cfg.OfficeBase+
			cfg.WorkerSurplusWeight*-jobSurplus+
			cfg.UnemploymentWeight*s.Unemployment-
			cfg.OfficeTaxWeight*s.TaxRate,
		-1, 1)
}

func mean(total float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
