// Package colony runs the foraging simulation: agents, food, the nest and
// obstacles around a shared pheromone field.
package colony

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"stigmergy/internal/config"
	"stigmergy/internal/geom"
	"stigmergy/internal/monitor"
	"stigmergy/internal/pheromone"
	"stigmergy/internal/swarm"
)

const (
	spawnRadius = 50.0
	startupMin  = 2.0
	startupSpan = 3.5
	spawnSweep  = 72
)

// params are the per-run constants agents read while deciding.
type params struct {
	detection  float64
	saturation float64
	noise      float64
	turn       float64
	layFood    float64
	layNest    float64
	quality    float64
	emission   float64
}

func newParams(cfg config.SimConfig) params {
	return params{
		detection:  cfg.DetectionThreshold,
		saturation: cfg.SaturationLimit,
		noise:      cfg.ExplorationNoise,
		turn:       geom.Clamp(cfg.FollowGain*0.1, 0.05, 1),
		layFood:    cfg.LayRateFood,
		layNest:    cfg.LayRateNest,
		quality:    cfg.FoodQualityWeight,
		emission:   emissionShare * cfg.LayRateFood,
	}
}

// env is the read-only view an agent decides against.
type env struct {
	field     *pheromone.Field
	snap      *swarm.Snapshot
	nest      geom.Vec
	obstacles []Obstacle
	params    params
	now       float64
	dt        float64
	half      float64
	bound     float64
}

// FieldView is the read-only face of the pheromone field handed to renderers.
type FieldView interface {
	Side() int
	CellSize() float64
	WorldSize() float64
	CellCenter(idx int) geom.Vec
	At(p geom.Vec, ch pheromone.Channel) float64
	CopyValues(ch pheromone.Channel, dst []float64) []float64
	Max(ch pheromone.Channel) float64
	Sum(ch pheromone.Channel) float64
}

type Option func(*World)

// WithLogger routes world events to l.
func WithLogger(l *slog.Logger) Option {
	return func(w *World) {
		if l != nil {
			w.log = l
		}
	}
}

// World owns every piece of simulation state. It is not safe for concurrent
// use; Step parallelises internally.
type World struct {
	cfg    config.SimConfig
	params params
	evap   pheromone.Rates
	diff   pheromone.Rates
	log    *slog.Logger

	field     *pheromone.Field
	nest      Nest
	agents    []*Agent
	food      []*FoodSource
	obstacles []Obstacle
	snap      *swarm.Snapshot
	mon       *monitor.Monitor
	rng       *rand.Rand

	bound      float64
	now        float64
	tick       int
	nextFoodID int
	reason     monitor.Termination
}

// New validates cfg and builds a populated world. A misconfigured world fails
// here rather than during the run.
func New(cfg config.SimConfig, opts ...Option) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	field, err := pheromone.New(pheromone.Config{
		WorldSize: cfg.WorldSize,
		CellSize:  cfg.CellSize,
		Workers:   cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("create pheromone field: %w", err)
	}

	th := monitor.DefaultThresholds()
	th.HorizonSeconds = cfg.HorizonSeconds
	th.OscillationCeiling = cfg.OscillationLimit
	th.LostCarrierCeiling = cfg.LostCarrierLimit

	w := &World{
		cfg:    cfg,
		params: newParams(cfg),
		evap:   pheromone.NewRates(cfg.Evaporation.Food, cfg.Evaporation.Nest, cfg.Evaporation.Alarm),
		diff:   pheromone.NewRates(cfg.Diffusion.Food, cfg.Diffusion.Nest, cfg.Diffusion.Alarm),
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		field:  field,
		mon:    monitor.New(th),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		bound:  cfg.Bound(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.populate()
	return w, nil
}

// populate creates the nest, obstacles, food and agents from the config.
func (w *World) populate() {
	w.nest = Nest{Capacity: nestCapacity}

	w.obstacles = w.obstacles[:0]
	for _, o := range w.cfg.Obstacles {
		w.obstacles = append(w.obstacles, Obstacle{Position: geom.V(o.X, o.Y), Radius: o.Radius})
	}

	w.food = w.food[:0]
	for i := 0; i < w.cfg.FoodSources; i++ {
		var p geom.Vec
		if i < len(w.cfg.FixedFood) {
			p = geom.V(w.cfg.FixedFood[i].X, w.cfg.FixedFood[i].Y)
		} else {
			p = w.randomFoodPosition(w.cfg.FoodMinDistance, w.cfg.FoodMaxDistance)
		}
		w.food = append(w.food, w.newFoodSource(p))
	}

	w.agents = w.agents[:0]
	n := w.cfg.InitialAnts
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		pos := w.spawnPosition(angle)
		startup := startupMin + startupSpan*float64(i)/float64(max(n, 1))
		rng := rand.New(rand.NewSource(w.rng.Int63()))
		w.agents = append(w.agents, newAgent(i, pos, rng.Float64()*2*math.Pi, startup, rng, w.params.detection))
	}
	w.rebuildSnapshot()
}

// spawnPosition walks outward from the nest along angle until the agent is
// clear of every obstacle. When the whole ray is covered it tries the other
// headings, nearest first, and falls back to the nest itself.
func (w *World) spawnPosition(angle float64) geom.Vec {
	start := math.Min(spawnRadius, w.bound/2)
	for k := 0; k <= spawnSweep; k++ {
		turn := float64((k+1)/2) * 2 * math.Pi / spawnSweep
		if k%2 == 1 {
			turn = -turn
		}
		dir := geom.FromAngle(angle + turn)
		for r := start; r <= w.bound; r += agentHalfWidth {
			pos := w.nest.Position.Add(dir.Scale(r))
			if math.Abs(pos.X) > w.bound || math.Abs(pos.Y) > w.bound {
				break
			}
			if !blocked(w.obstacles, pos, agentHalfWidth) {
				return pos
			}
		}
	}
	w.log.Warn("no obstacle-free spawn point", "angle", angle)
	return w.nest.Position
}

// Restart zeroes the field and metrics and respawns everything from the
// original configuration. Obstacles are rebuilt from the same specs.
func (w *World) Restart() {
	w.field.Reset()
	w.mon.Reset()
	w.now = 0
	w.tick = 0
	w.reason = monitor.Running
	w.populate()
	w.log.Info("world restarted", "agents", len(w.agents), "food_sources", len(w.food))
}

// Step advances the simulation by one tick and reports whether the run
// should stop. Phase order: decide and move, deposit, evaporate and diffuse,
// foraging transitions, swarm snapshot, performance counters.
func (w *World) Step() monitor.Termination {
	e := &env{
		field:     w.field,
		snap:      w.snap,
		nest:      w.nest.Position,
		obstacles: w.obstacles,
		params:    w.params,
		now:       w.now,
		dt:        w.cfg.TickSeconds,
		half:      w.cfg.WorldSize / 2,
		bound:     w.bound,
	}
	w.eachAgent(func(a *Agent) {
		a.decide(e)
		a.move(e)
	})

	for _, a := range w.agents {
		a.deposit(w.field, w.params)
	}
	for _, s := range w.food {
		s.emit(w.field, w.params.emission)
	}
	w.field.Update(w.evap, w.diff)

	w.forage()
	w.rebuildSnapshot()

	w.tick++
	w.now += w.cfg.TickSeconds
	w.reason = w.mon.Observe(w.tick, w.now, w.samples())
	return w.reason
}

// eachAgent runs fn over every agent on a bounded worker pool. fn may only
// touch the agent it is given.
func (w *World) eachAgent(fn func(a *Agent)) {
	workerCount := w.cfg.Workers
	if workerCount > len(w.agents) {
		workerCount = len(w.agents)
	}
	if workerCount <= 1 {
		for _, a := range w.agents {
			fn(a)
		}
		return
	}

	jobs := make(chan *Agent)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for a := range jobs {
				fn(a)
			}
		}()
	}
	for _, a := range w.agents {
		jobs <- a
	}
	close(jobs)
	wg.Wait()
}

func (w *World) rebuildSnapshot() {
	entries := make([]swarm.Entry, len(w.agents))
	for i, a := range w.agents {
		entries[i] = swarm.Entry{Position: a.Position, Carrying: a.Carrying, Deliveries: a.Deliveries}
	}
	w.snap = swarm.Build(entries, neighbourRadius)
}

func (w *World) samples() []monitor.AgentSample {
	out := make([]monitor.AgentSample, len(w.agents))
	for i, a := range w.agents {
		out[i] = monitor.AgentSample{
			StuckSeconds:     a.StuckTimer,
			DirectionChanges: a.DirectionChanges,
			HasFoundFood:     a.HasFoundFood,
			InStartup:        a.InStartup(),
			Carrying:         a.Carrying,
			CarryStart:       a.CarryStartTime,
			LastGoal:         a.LastGoalTime,
			Active:           a.ActiveTime,
		}
	}
	return out
}

func (w *World) Config() config.SimConfig { return w.cfg }
func (w *World) Field() FieldView         { return w.field }
func (w *World) Nest() Nest               { return w.nest }
func (w *World) Metrics() monitor.Metrics { return w.mon.Metrics() }
func (w *World) Elapsed() float64         { return w.now }
func (w *World) Ticks() int               { return w.tick }

// Reason is the termination verdict of the last Step.
func (w *World) Reason() monitor.Termination { return w.reason }

// Agents returns a copy of every agent's observable state.
func (w *World) Agents() []AgentStatus {
	out := make([]AgentStatus, len(w.agents))
	for i, a := range w.agents {
		out[i] = a.status()
	}
	return out
}

// FoodSources returns copies of the live food sources.
func (w *World) FoodSources() []FoodSource {
	out := make([]FoodSource, len(w.food))
	for i, s := range w.food {
		out[i] = *s
	}
	return out
}

func (w *World) Obstacles() []Obstacle {
	return append([]Obstacle(nil), w.obstacles...)
}
