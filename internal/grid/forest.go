// Decorative forest seeding using layered simplex noise.
package grid

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// ForestConfig controls how much of a new map starts wooded.
type ForestConfig struct {
	Threshold float64 `yaml:"threshold" json:"threshold"` // Noise level above which trees grow (0 disables)
	Frequency float64 `yaml:"frequency" json:"frequency"` // Base noise frequency per cell
	Octaves   int     `yaml:"octaves" json:"octaves"`
}

// DefaultForestConfig returns a sparse scattering of woods.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Threshold: 0.68,
		Frequency: 0.15,
		Octaves:   3,
	}
}

// SeedForests turns grass cells into trees where the noise field is high.
// Returns the number of cells planted.
func SeedForests(g *Grid, seed int64, cfg ForestConfig) int {
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return 0
	}
	noise := opensimplex.NewNormalized(seed)
	octaves := cfg.Octaves
	if octaves < 1 {
		octaves = 1
	}

	planted := 0
	g.Each(func(c Coord, cell *Cell) {
		if cell.Type != Grass {
			return
		}
		if octaveNoise(noise, float64(c.I), float64(c.J), octaves, cfg.Frequency, 0.5) > cfg.Threshold {
			cell.Type = Trees
			planted++
		}
	})
	return planted
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
