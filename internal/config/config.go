package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

var ErrInvalidConfig = errors.New("invalid simulation config")

const (
	// EdgeMargin is the widest band along the world edge that agents and
	// food keep out of. Small worlds shrink it to a tenth of their size.
	EdgeMargin = 20.0
	// RespawnMinDistance is how close to the nest a replacement food source
	// may appear.
	RespawnMinDistance = 150.0
)

// ChannelRates carries one rate per pheromone channel.
type ChannelRates struct {
	Food  float64 `json:"food"`
	Nest  float64 `json:"nest"`
	Alarm float64 `json:"alarm"`
}

// Placement is a world-space point used for fixed food sources.
type Placement struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ObstacleSpec describes one static circular obstacle.
type ObstacleSpec struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// SimConfig is the flat record consumed at startup. Nothing reloads it while a
// world is running.
type SimConfig struct {
	WorldSize   float64 `json:"world_size"`
	CellSize    float64 `json:"cell_size"`
	InitialAnts int     `json:"initial_ants"`
	FoodSources int     `json:"food_sources"`
	FoodAmount  float64 `json:"food_amount"`

	// Random food placement band, measured from the nest.
	FoodMinDistance float64 `json:"food_min_distance"`
	FoodMaxDistance float64 `json:"food_max_distance"`
	// FixedFood replaces random placement of the first len(FixedFood) sources.
	FixedFood []Placement `json:"fixed_food,omitempty"`

	Evaporation ChannelRates `json:"evaporation"`
	Diffusion   ChannelRates `json:"diffusion"`

	ExplorationNoise   float64 `json:"exploration_noise"`
	FollowGain         float64 `json:"follow_gain"`
	LayRateFood        float64 `json:"lay_rate_food"`
	LayRateNest        float64 `json:"lay_rate_nest"`
	FoodQualityWeight  float64 `json:"food_quality_weight"`
	DetectionThreshold float64 `json:"detection_threshold"`
	SaturationLimit    float64 `json:"saturation_limit"`

	// Simulated seconds per tick.
	TickSeconds float64 `json:"tick_seconds"`
	// Run horizon in simulated seconds; the monitor terminates past it.
	HorizonSeconds   float64 `json:"horizon_seconds"`
	OscillationLimit int     `json:"oscillation_limit"`
	LostCarrierLimit int     `json:"lost_carrier_limit"`

	Obstacles []ObstacleSpec `json:"obstacles,omitempty"`

	Seed    int64 `json:"seed"`
	Workers int   `json:"workers"`
}

func Default() SimConfig {
	return SimConfig{
		WorldSize:   1000,
		CellSize:    1,
		InitialAnts: 50,
		FoodSources: 10,
		FoodAmount:  100,

		FoodMinDistance: 333,
		FoodMaxDistance: 480,

		Evaporation: ChannelRates{Food: 0.00012, Nest: 0.0005, Alarm: 0.01},
		Diffusion:   ChannelRates{Food: 0.12, Nest: 0.05, Alarm: 0.2},

		ExplorationNoise:   0.03,
		FollowGain:         2.5,
		LayRateFood:        40,
		LayRateNest:        50,
		FoodQualityWeight:  1,
		DetectionThreshold: 0.001,
		SaturationLimit:    10,

		TickSeconds:      1.0 / 60.0,
		HorizonSeconds:   90,
		OscillationLimit: 20,
		LostCarrierLimit: 10,

		Seed:    1,
		Workers: 4,
	}
}

// GridSide returns the number of cells along each axis of the field, or 0
// when the cell size does not tile the world exactly.
func (c SimConfig) GridSide() int {
	if c.CellSize <= 0 || c.WorldSize <= 0 {
		return 0
	}
	ratio := c.WorldSize / c.CellSize
	side := math.Round(ratio)
	if math.Abs(ratio-side) > 1e-9*math.Max(1, ratio) {
		return 0
	}
	return int(side)
}

// Bound is the half-extent of the square that agents and food stay inside.
func (c SimConfig) Bound() float64 {
	return math.Max(c.WorldSize/2-math.Min(EdgeMargin, c.WorldSize/10), 0)
}

// reach is the farthest a point inside Bound can lie from the nest.
func (c SimConfig) reach() float64 {
	return math.Sqrt2 * c.Bound()
}

// Validate rejects configurations that cannot produce a working world. It is
// meant to run once at startup so that a misconfigured world fails fast.
func (c SimConfig) Validate() error {
	switch {
	case c.WorldSize <= 0:
		return fmt.Errorf("%w: world size must be > 0", ErrInvalidConfig)
	case c.CellSize <= 0:
		return fmt.Errorf("%w: cell size must be > 0", ErrInvalidConfig)
	case c.GridSide() == 0:
		return fmt.Errorf("%w: cell size %g does not tile world size %g", ErrInvalidConfig, c.CellSize, c.WorldSize)
	case c.GridSide() < 3:
		return fmt.Errorf("%w: grid must be at least 3 cells per side, got %d", ErrInvalidConfig, c.GridSide())
	case c.InitialAnts < 0:
		return fmt.Errorf("%w: initial ants must be >= 0", ErrInvalidConfig)
	case c.FoodSources < 0:
		return fmt.Errorf("%w: food sources must be >= 0", ErrInvalidConfig)
	case len(c.FixedFood) > c.FoodSources:
		return fmt.Errorf("%w: %d fixed food placements exceed food source count %d", ErrInvalidConfig, len(c.FixedFood), c.FoodSources)
	case c.FoodSources > 0 && c.FoodAmount <= 0:
		return fmt.Errorf("%w: food amount must be > 0", ErrInvalidConfig)
	case c.FoodMinDistance < 0 || c.FoodMaxDistance < c.FoodMinDistance:
		return fmt.Errorf("%w: food distance band [%g, %g] is invalid", ErrInvalidConfig, c.FoodMinDistance, c.FoodMaxDistance)
	case c.FoodSources > len(c.FixedFood) && c.FoodMinDistance >= c.reach():
		return fmt.Errorf("%w: food min distance %g does not fit inside the world (reach %g)", ErrInvalidConfig, c.FoodMinDistance, c.reach())
	case c.FoodSources > 0 && RespawnMinDistance >= c.reach():
		return fmt.Errorf("%w: world size %g leaves no room to respawn food %g from the nest", ErrInvalidConfig, c.WorldSize, RespawnMinDistance)
	case c.TickSeconds <= 0:
		return fmt.Errorf("%w: tick seconds must be > 0", ErrInvalidConfig)
	case c.DetectionThreshold <= 0:
		return fmt.Errorf("%w: detection threshold must be > 0", ErrInvalidConfig)
	case c.SaturationLimit <= 0:
		return fmt.Errorf("%w: saturation limit must be > 0", ErrInvalidConfig)
	}
	for name, r := range map[string]ChannelRates{"evaporation": c.Evaporation, "diffusion": c.Diffusion} {
		for _, v := range []float64{r.Food, r.Nest, r.Alarm} {
			if v < 0 || v > 1 {
				return fmt.Errorf("%w: %s rates must be in [0, 1]", ErrInvalidConfig, name)
			}
		}
	}
	for i, o := range c.Obstacles {
		if o.Radius <= 0 {
			return fmt.Errorf("%w: obstacle %d radius must be > 0", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Load reads a JSON config file on top of Default. Unknown keys are rejected
// so that typos do not silently fall back to defaults.
func Load(path string) (SimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SimConfig{}, err
	}
	return Decode(data)
}

func Decode(data []byte) (SimConfig, error) {
	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return SimConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
