package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"stigmergy/internal/config"
)

// simFlags are the run flags that override fields of the loaded config.
type simFlags struct {
	configPath *string
	seed       *int64
	workers    *int
	agents     *int
	food       *int
	worldSize  *float64
	cellSize   *float64
	horizon    *float64
}

func registerSimFlags(fs *flag.FlagSet) simFlags {
	return simFlags{
		configPath: fs.String("config", "", "optional simulation config JSON path (keys override defaults)"),
		seed:       fs.Int64("seed", 1, "rng seed"),
		workers:    fs.Int("workers", 4, "worker count"),
		agents:     fs.Int("agents", 50, "initial agent count"),
		food:       fs.Int("food", 10, "food source count"),
		worldSize:  fs.Float64("world-size", 1000, "world side length"),
		cellSize:   fs.Float64("cell-size", 1, "pheromone cell size in world units"),
		horizon:    fs.Float64("horizon", 90, "run horizon in simulated seconds (0 disables)"),
	}
}

// resolve loads the config file (or defaults) and applies only the flags the
// user set explicitly, so a config file is never clobbered by flag defaults.
func (f simFlags) resolve(fs *flag.FlagSet) (config.SimConfig, error) {
	cfg := config.Default()
	if *f.configPath != "" {
		loaded, err := config.Load(*f.configPath)
		if err != nil {
			return config.SimConfig{}, fmt.Errorf("load config %s: %w", *f.configPath, err)
		}
		cfg = loaded
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "seed":
			cfg.Seed = *f.seed
		case "workers":
			cfg.Workers = *f.workers
		case "agents":
			cfg.InitialAnts = *f.agents
		case "food":
			cfg.FoodSources = *f.food
		case "world-size":
			cfg.WorldSize = *f.worldSize
		case "cell-size":
			cfg.CellSize = *f.cellSize
		case "horizon":
			cfg.HorizonSeconds = *f.horizon
		}
	})
	if err := cfg.Validate(); err != nil {
		return config.SimConfig{}, err
	}
	return cfg, nil
}

func writeDefaultConfig(path string) error {
	if path == "" {
		return errors.New("config path is required")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing config %s", path)
	}
	data, err := json.MarshalIndent(config.Default(), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
