package colony

import (
	"math"

	"stigmergy/internal/geom"
	"stigmergy/internal/pheromone"
)

const (
	agentHalfWidth         = 6.0
	pathLookAhead          = 30.0
	safetyMargin           = 15.0
	collisionWindowSeconds = 2.0
	collisionAlarm         = 3
	alarmDeposit           = 5.0

	alarmPenalty   = 0.5
	nestBonus      = 0.1
	pathMomentum   = 0.3
	carrierSensing = 0.3
)

// Obstacle is a static disc agents may not enter.
type Obstacle struct {
	Position geom.Vec `json:"position"`
	Radius   float64  `json:"radius"`
}

// Blocks reports whether p lies closer than Radius+margin to the centre.
func (o Obstacle) Blocks(p geom.Vec, margin float64) bool {
	return p.Dist(o.Position) < o.Radius+margin
}

func blocked(obstacles []Obstacle, p geom.Vec, margin float64) bool {
	for _, o := range obstacles {
		if o.Blocks(p, margin) {
			return true
		}
	}
	return false
}

// carrierOffsets are tried around the straight bearing to the nest.
var carrierOffsets = [...]float64{
	0,
	math.Pi / 8, -math.Pi / 8,
	math.Pi / 4, -math.Pi / 4,
	3 * math.Pi / 8, -3 * math.Pi / 8,
	math.Pi / 2, -math.Pi / 2,
	3 * math.Pi / 4, -3 * math.Pi / 4,
}

// carrierHeading scores candidate headings around the nest bearing and
// returns the best one that keeps the look-ahead point clear of obstacles.
func carrierHeading(a *Agent, e *env) float64 {
	toNest := e.nest.Sub(a.Position)
	dist := toNest.Len()
	if dist < 1e-9 {
		return a.Heading
	}
	bearing := toNest.Angle()

	best := math.Inf(-1)
	heading := geom.WrapAngle(bearing + math.Pi/2)
	for _, off := range carrierOffsets {
		cand := bearing + off
		look := a.Position.Add(geom.FromAngle(cand).Scale(pathLookAhead))
		if blocked(e.obstacles, look, safetyMargin) {
			continue
		}
		score := math.Cos(off) +
			pathMomentum*math.Cos(geom.AngleDiff(a.Heading, cand)) +
			(dist-look.Dist(e.nest))/pathLookAhead -
			alarmPenalty*e.field.At(look, pheromone.Alarm)/e.params.saturation +
			nestBonus*geom.Clamp(e.field.At(look, pheromone.Nest)/e.params.saturation, 0, 1)
		if score > best {
			best = score
			heading = geom.WrapAngle(cand)
		}
	}
	return heading
}

// recordCollision counts a rejected step. Enough rejections inside the
// window raise an alarm deposit for the next deposit phase.
func (a *Agent) recordCollision() {
	if a.collisions == 0 {
		a.collisionWindow = 0
	}
	a.collisions++
	if a.collisions >= collisionAlarm {
		a.pendingAlarm = true
		a.collisions = 0
	}
}

func (a *Agent) ageCollisions(dt float64) {
	if a.collisions == 0 {
		return
	}
	a.collisionWindow += dt
	if a.collisionWindow > collisionWindowSeconds {
		a.collisions = 0
		a.collisionWindow = 0
	}
}
