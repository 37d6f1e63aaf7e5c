package colony

import (
	"math"

	"stigmergy/internal/config"
	"stigmergy/internal/geom"
)

const (
	pickupRadius      = 25.0
	collectSeconds    = 0.3
	takeAmount        = 1.0
	deliveryRadius    = 40.0
	placementAttempts = 64
	sweepSteps        = 360
	nestCapacity      = 10000.0
)

// FoodSource is a finite pile of food.
type FoodSource struct {
	ID        int      `json:"id"`
	Position  geom.Vec `json:"position"`
	Amount    float64  `json:"amount"`
	MaxAmount float64  `json:"max_amount"`
	Taken     float64  `json:"taken"`
}

// Nest is the colony's single drop-off point.
type Nest struct {
	Position geom.Vec `json:"position"`
	Capacity float64  `json:"capacity"`
	Stored   float64  `json:"stored"`
}

// forage evaluates pickup and delivery transitions for every agent, then
// replaces depleted sources.
func (w *World) forage() {
	for _, a := range w.agents {
		if a.InStartup() {
			continue
		}
		switch {
		case a.Carrying:
			if a.Position.Dist(w.nest.Position) < deliveryRadius {
				w.deliver(a)
			}
		case a.CollectTimer > 0:
			a.Velocity = geom.Zero
			a.CollectTimer -= w.cfg.TickSeconds
			if a.CollectTimer <= 0 {
				a.CollectTimer = 0
				w.completePickup(a)
			}
		default:
			if w.sourceNear(a.Position) != nil {
				a.CollectTimer = collectSeconds
				a.PickupTime = w.now
				a.Velocity = geom.Zero
			}
		}
	}
	w.replaceDepleted()
}

func (w *World) sourceNear(p geom.Vec) *FoodSource {
	for _, s := range w.food {
		if s.Amount > 0 && p.Dist(s.Position) < pickupRadius {
			return s
		}
	}
	return nil
}

func (w *World) completePickup(a *Agent) {
	src := w.sourceNear(a.Position)
	if src == nil {
		w.mon.RecordFailedAttempt()
		a.SensingTimer = 0
		return
	}
	take := math.Min(takeAmount, src.Amount)
	src.Amount -= take
	src.Taken += take
	w.mon.RecordPickup(take)

	a.Carrying = true
	a.load = take
	a.HasFoundFood = true
	a.CarryStartTime = w.now
	a.LastGoalTime = w.now
	a.DistanceSinceFood = 0
	a.FollowingTime = 0
	a.State = Following
	if dir, ok := w.nest.Position.Sub(a.Position).Normalize(); ok {
		a.turnTo(dir.Angle())
	}
	a.SensingTimer = 0
}

func (w *World) deliver(a *Agent) {
	a.Carrying = false
	w.nest.Stored += a.load
	a.load = 0
	a.Deliveries++
	a.DeliveryAttempts++
	a.LastGoalTime = w.now
	w.mon.RecordDelivery(w.now, w.now-a.PickupTime, w.now-a.CarryStartTime)

	a.State = Exploring
	a.TrailStrength = 0
	a.FollowingTime = 0
	a.HysteresisThreshold = w.params.detection
	a.SensingTimer = carrierSensing
	a.turnTo(a.randomHeading())
	a.setSpeed(exploreSpeed)
}

func (w *World) replaceDepleted() {
	for i, s := range w.food {
		if s.Amount > 0 {
			continue
		}
		maxDist := math.Max(w.cfg.FoodMaxDistance, config.RespawnMinDistance)
		w.food[i] = w.newFoodSource(w.randomFoodPosition(config.RespawnMinDistance, maxDist))
		w.log.Debug("food source replaced",
			"depleted_id", s.ID,
			"new_id", w.food[i].ID,
			"x", w.food[i].Position.X,
			"y", w.food[i].Position.Y,
		)
	}
}

func (w *World) newFoodSource(p geom.Vec) *FoodSource {
	w.nextFoodID++
	return &FoodSource{
		ID:        w.nextFoodID,
		Position:  p,
		Amount:    w.cfg.FoodAmount,
		MaxAmount: w.cfg.FoodAmount,
	}
}

// randomFoodPosition draws a point in the distance band around the nest that
// is inside the world and clear of obstacles. The distance is drawn only over
// the part of the band the chosen ray can reach, so the band is never bent to
// fit the world.
func (w *World) randomFoodPosition(minDist, maxDist float64) geom.Vec {
	for attempt := 0; attempt < placementAttempts; attempt++ {
		angle := w.rng.Float64() * 2 * math.Pi
		hi := math.Min(maxDist, w.rayReach(angle))
		if hi < minDist {
			continue
		}
		p := w.nest.Position.Add(geom.FromAngle(angle).Scale(minDist + w.rng.Float64()*(hi-minDist)))
		if !blocked(w.obstacles, p, pickupRadius+agentHalfWidth) {
			return p
		}
	}

	// Sweep the compass, then the diagonals, which reach farthest.
	start := w.rng.Float64() * 2 * math.Pi
	angles := make([]float64, 0, sweepSteps+4)
	for k := 0; k < sweepSteps; k++ {
		angles = append(angles, start+2*math.Pi*float64(k)/sweepSteps)
	}
	for k := 0; k < 4; k++ {
		angles = append(angles, math.Pi/4+float64(k)*math.Pi/2)
	}
	best, bestReach := w.nest.Position, -1.0
	for _, angle := range angles {
		dir := geom.FromAngle(angle)
		reach := w.rayReach(angle)
		if reach > bestReach {
			best, bestReach = w.nest.Position.Add(dir.Scale(math.Min(minDist, reach))), reach
		}
		hi := math.Min(maxDist, reach)
		if hi < minDist {
			continue
		}
		for _, t := range [...]float64{0, 0.5, 1} {
			p := w.nest.Position.Add(dir.Scale(minDist + t*(hi-minDist)))
			if !blocked(w.obstacles, p, pickupRadius+agentHalfWidth) {
				return p
			}
		}
	}
	w.log.Warn("no clear food position in distance band", "min", minDist, "max", maxDist)
	return best
}

// rayReach is how far from the nest a point along angle stays inside the
// world bound.
func (w *World) rayReach(angle float64) float64 {
	dir := geom.FromAngle(angle)
	reach := math.Inf(1)
	for _, axis := range [...][2]float64{{w.nest.Position.X, dir.X}, {w.nest.Position.Y, dir.Y}} {
		origin, d := axis[0], axis[1]
		switch {
		case d > 1e-12:
			reach = math.Min(reach, (w.bound-origin)/d)
		case d < -1e-12:
			reach = math.Min(reach, (-w.bound-origin)/d)
		}
	}
	return reach
}
