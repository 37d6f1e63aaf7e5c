package colony

import (
	"math"

	"stigmergy/internal/geom"
	"stigmergy/internal/pheromone"
)

const (
	depositSpacing = 0.8
	foodFade       = 0.01

	carrierNestShare  = 0.5
	nestNearRadius    = 200.0
	historyBoost      = 0.1
	historyCap        = 10
	explorerNestShare = 0.05
	explorerNestFade  = 0.003

	emissionRadius = 30.0
	emissionShare  = 0.005
)

// deposit lays this tick's pheromone along the segment the agent just
// travelled.
func (a *Agent) deposit(f *pheromone.Field, p params) {
	if a.InStartup() {
		return
	}
	if a.pendingAlarm {
		f.Deposit(a.Position, pheromone.Alarm, alarmDeposit)
		a.pendingAlarm = false
	}

	var food, nest float64
	switch {
	case a.Carrying:
		food = p.layFood * p.quality * math.Exp(-foodFade*a.DistanceSinceFood)
		near := geom.Clamp(1-a.DistanceFromNest/nestNearRadius, 0, 1)
		history := 1 + historyBoost*float64(min(a.Deliveries, historyCap))
		nest = p.layNest * carrierNestShare * (1 + 2*near) * history
	case a.Deliveries >= 1:
		// Only agents that have delivered mark the way home.
		nest = p.layNest * explorerNestShare * math.Exp(-explorerNestFade*a.DistanceFromNest)
	}
	if food <= 0 && nest <= 0 {
		return
	}
	layAlong(f, a.LastPosition, a.Position, food, nest)
}

// layAlong splits the amounts over points spaced at most depositSpacing apart
// on (from, to], so a fast agent leaves no gaps.
func layAlong(f *pheromone.Field, from, to geom.Vec, food, nest float64) {
	n := int(math.Ceil(to.Dist(from) / depositSpacing))
	if n < 1 {
		n = 1
	}
	share := 1 / float64(n)
	for i := 1; i <= n; i++ {
		p := from.Lerp(to, float64(i)*share)
		f.Deposit(p, pheromone.Food, food*share)
		f.Deposit(p, pheromone.Nest, nest*share)
	}
}

// emit writes the source's passive scent in concentric rings whose strength
// falls off as 1-(r/R)^2, scaled by how much food is left.
func (s *FoodSource) emit(f *pheromone.Field, strength float64) {
	if s.Amount <= 0 || s.MaxAmount <= 0 || strength <= 0 {
		return
	}
	scale := strength * s.Amount / s.MaxAmount
	step := f.CellSize()
	f.Deposit(s.Position, pheromone.Food, scale)
	for r := step; r < emissionRadius; r += step {
		k := r / emissionRadius
		w := scale * (1 - k*k)
		n := int(math.Ceil(2 * math.Pi * r / step))
		for i := 0; i < n; i++ {
			f.Deposit(s.Position.Add(geom.FromAngle(2*math.Pi*float64(i)/float64(n)).Scale(r)), pheromone.Food, w)
		}
	}
}
