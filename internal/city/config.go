package city

import (
	"errors"
	"fmt"

	"github.com/talgya/tilecity/internal/grid"
)

// Costs are what the treasury pays for construction and demolition.
type Costs struct {
	House   int64 `yaml:"house" json:"house"`
	Office  int64 `yaml:"office" json:"office"`
	Road    int64 `yaml:"road" json:"road"`
	Trees   int64 `yaml:"trees" json:"trees"`
	Destroy int64 `yaml:"destroy" json:"destroy"` // Flat, whatever is torn down
}

// Build returns the cost of building t and whether t can be built at all.
func (c Costs) Build(t grid.CellType) (int64, bool) {
	switch t {
	case grid.House:
		return c.House, true
	case grid.Office:
		return c.Office, true
	case grid.Road:
		return c.Road, true
	case grid.Trees:
		return c.Trees, true
	}
	return 0, false
}

// Config holds every tuning constant of the simulation. None of these are
// structural: any valid combination yields a working city.
type Config struct {
	Size         int     `yaml:"size" json:"size"`
	Seed         int64   `yaml:"seed" json:"seed"`
	StartingCash int64   `yaml:"starting_cash" json:"starting_cash"`
	TaxRate      float64 `yaml:"tax_rate" json:"tax_rate"`

	Costs  Costs             `yaml:"costs" json:"costs"`
	Travel grid.Travel       `yaml:"travel" json:"travel"`
	Forest grid.ForestConfig `yaml:"forest" json:"forest"`

	// Schedule, in ticks.
	MonthTicks int `yaml:"month_ticks" json:"month_ticks"` // Cash flow is booked once a month
	CarsEvery  int `yaml:"cars_every" json:"cars_every"`   // Road car bitmask refresh

	// Economy. Tax is levied on Wage per employed resident per month.
	Wage       float64 `yaml:"wage" json:"wage"`
	RoadUpkeep int64   `yaml:"road_upkeep" json:"road_upkeep"` // Per road per month

	// Jobs.
	MaxJobSearch    int     `yaml:"max_job_search" json:"max_job_search"`     // Cells one search may expand
	AttritionChance float64 `yaml:"attrition_chance" json:"attrition_chance"` // Per contract per house tick
	ShrinkRate      float64 `yaml:"shrink_rate" json:"shrink_rate"`           // Share of residents leaving at full negative demand

	// Growth ladders: a cell may enter stage s only when the city already has
	// this many houses (or offices).
	HouseStageMinHouses   []int `yaml:"house_stage_min_houses" json:"house_stage_min_houses"`
	OfficeStageMinOffices []int `yaml:"office_stage_min_offices" json:"office_stage_min_offices"`

	// Traffic sample decay applied to every cell each time a route is sampled.
	TrafficDecay float64 `yaml:"traffic_decay" json:"traffic_decay"`

	// Environmental fields.
	FieldMix         float64 `yaml:"field_mix" json:"field_mix"`                 // Houseness/officeness blend toward source
	PollutionMix     float64 `yaml:"pollution_mix" json:"pollution_mix"`         // Pollution blend toward source
	Diffusion        float64 `yaml:"diffusion" json:"diffusion"`                 // Exchange with each neighbor per pass
	OfficePollution  float64 `yaml:"office_pollution" json:"office_pollution"`   // Per employee
	HousePollution   float64 `yaml:"house_pollution" json:"house_pollution"`     // Per resident
	TrafficPollution float64 `yaml:"traffic_pollution" json:"traffic_pollution"` // At full road load
	TreeCleansing    float64 `yaml:"tree_cleansing" json:"tree_cleansing"`       // Share of pollution a tree cell removes

	// Desirability weights.
	HouseOfficeWeight     float64 `yaml:"house_office_weight" json:"house_office_weight"`
	HousePollutionWeight  float64 `yaml:"house_pollution_weight" json:"house_pollution_weight"`
	OfficeHouseWeight     float64 `yaml:"office_house_weight" json:"office_house_weight"`
	OfficePollutionWeight float64 `yaml:"office_pollution_weight" json:"office_pollution_weight"`

	// Demand signals.
	HousingBase         float64 `yaml:"housing_base" json:"housing_base"`
	OfficeBase          float64 `yaml:"office_base" json:"office_base"`
	JobSurplusWeight    float64 `yaml:"job_surplus_weight" json:"job_surplus_weight"`
	WorkerSurplusWeight float64 `yaml:"worker_surplus_weight" json:"worker_surplus_weight"`
	UnemploymentWeight  float64 `yaml:"unemployment_weight" json:"unemployment_weight"`
	HousingTaxWeight    float64 `yaml:"housing_tax_weight" json:"housing_tax_weight"`
	OfficeTaxWeight     float64 `yaml:"office_tax_weight" json:"office_tax_weight"`
	CommuteWeight       float64 `yaml:"commute_weight" json:"commute_weight"` // Per unit of mean commute time
	DemandFloor         float64 `yaml:"demand_floor" json:"demand_floor"`     // Keeps ratios calm in tiny cities
}

// DefaultConfig returns the stock 20×20 city.
func DefaultConfig() Config {
	return Config{
		Size:         20,
		Seed:         0,
		StartingCash: 10000,
		TaxRate:      0.1,

		Costs: Costs{
			House:   100,
			Office:  200,
			Road:    10,
			Trees:   5,
			Destroy: 5,
		},
		Travel: grid.DefaultTravel(),
		Forest: grid.DefaultForestConfig(),

		MonthTicks: 500,
		CarsEvery:  200,

		Wage:       100,
		RoadUpkeep: 1,

		MaxJobSearch:    100,
		AttritionChance: 0.01,
		ShrinkRate:      0.5,

		HouseStageMinHouses:   []int{0, 0, 2, 4, 8, 16, 32, 64},
		OfficeStageMinOffices: []int{0, 0, 1, 2, 4, 8, 16, 32},

		TrafficDecay: 0.995,

		FieldMix:         0.1,
		PollutionMix:     0.05,
		Diffusion:        0.1,
		OfficePollution:  0.01,
		HousePollution:   0.001,
		TrafficPollution: 0.5,
		TreeCleansing:    0.2,

		HouseOfficeWeight:     0.5,
		HousePollutionWeight:  0.5,
		OfficeHouseWeight:     0.3,
		OfficePollutionWeight: 0.1,

		HousingBase:         0.5,
		OfficeBase:          0.3,
		JobSurplusWeight:    1.0,
		WorkerSurplusWeight: 1.0,
		UnemploymentWeight:  0.5,
		HousingTaxWeight:    2.0,
		OfficeTaxWeight:     1.0,
		CommuteWeight:       0.01,
		DemandFloor:         20,
	}
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid city config")

// Validate checks ranges that the simulation relies on.
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	if c.Size < 1 || c.Size > 1024 {
		return fail("size %d outside 1..1024", c.Size)
	}
	if c.TaxRate < 0 || c.TaxRate > 1 {
		return fail("tax_rate %v outside 0..1", c.TaxRate)
	}
	if c.Costs.House < 0 || c.Costs.Office < 0 || c.Costs.Road < 0 || c.Costs.Trees < 0 || c.Costs.Destroy < 0 {
		return fail("negative cost")
	}
	if c.Travel.WalkTime < grid.MinTravelTime {
		return fail("travel.walk_time %v below %v", c.Travel.WalkTime, grid.MinTravelTime)
	}
	if c.MonthTicks < 0 || c.CarsEvery < 0 || c.MaxJobSearch < 0 {
		return fail("negative schedule or search budget")
	}
	for name, p := range map[string]float64{
		"attrition_chance": c.AttritionChance,
		"shrink_rate":      c.ShrinkRate,
		"field_mix":        c.FieldMix,
		"pollution_mix":    c.PollutionMix,
		"tree_cleansing":   c.TreeCleansing,
	} {
		if p < 0 || p > 1 {
			return fail("%s %v outside 0..1", name, p)
		}
	}
	if c.TrafficDecay < 0 || c.TrafficDecay >= 1 {
		return fail("traffic_decay %v outside 0..1", c.TrafficDecay)
	}
	// Each cell exchanges with up to four neighbors per pass.
	if c.Diffusion < 0 || c.Diffusion > 0.25 {
		return fail("diffusion %v outside 0..0.25", c.Diffusion)
	}
	if len(c.HouseStageMinHouses) != grid.MaxStage+1 {
		return fail("house_stage_min_houses needs %d entries, has %d", grid.MaxStage+1, len(c.HouseStageMinHouses))
	}
	if len(c.OfficeStageMinOffices) != grid.MaxStage+1 {
		return fail("office_stage_min_offices needs %d entries, has %d", grid.MaxStage+1, len(c.OfficeStageMinOffices))
	}
	if c.DemandFloor < 1 {
		return fail("demand_floor %v below 1", c.DemandFloor)
	}
	return nil
}
