package grid

import "math"

// MinTravelTime is the floor on any cell's travel time. The A* heuristic
// counts one unit per step, so no cell may be cheaper than this.
const MinTravelTime = 1.0

// Travel is the per-cell travel-time model.
type Travel struct {
	WalkTime       float64 `yaml:"walk_time" json:"walk_time"`             // Any non-road cell
	RoadTime       float64 `yaml:"road_time" json:"road_time"`             // Empty road
	CongestionTime float64 `yaml:"congestion_time" json:"congestion_time"` // Added at full capacity
	RoadCapacity   float64 `yaml:"road_capacity" json:"road_capacity"`     // Commuters a road carries comfortably
}

// DefaultTravel returns the stock travel model.
func DefaultTravel() Travel {
	return Travel{
		WalkTime:       10,
		RoadTime:       1,
		CongestionTime: 4,
		RoadCapacity:   32,
	}
}

// Time returns the cost of crossing the cell. Road cost rises with the
// square root of its load ratio, capped at full capacity, and is kept
// within [MinTravelTime, WalkTime]. Congestion makes a road slower: more
// traffic means a higher cost, never a lower one.
func (t Travel) Time(c *Cell) float64 {
	walk := math.Max(t.WalkTime, MinTravelTime)
	if c == nil || c.Type != Road {
		return walk
	}
	return math.Min(math.Max(t.RoadTime+t.CongestionTime*math.Sqrt(t.Load(c)), MinTravelTime), walk)
}

// Load returns the road's traffic-to-capacity ratio clamped to [0, 1].
func (t Travel) Load(c *Cell) float64 {
	if c == nil || c.Type != Road || t.RoadCapacity <= 0 {
		return 0
	}
	return math.Min(math.Max(c.Traffic/t.RoadCapacity, 0), 1)
}
