package colony

import (
	"math"

	"stigmergy/internal/geom"
	"stigmergy/internal/pheromone"
	"stigmergy/internal/swarm"
)

const (
	exploreSpeed = 50.0
	followSpeed  = 65.0
	carrySpeed   = 60.0

	lookAheadSpread    = math.Pi / 4
	abandonRatio       = 0.4
	qualityFloor       = 0.01
	qualityGrace       = 1.0
	momentumSeconds    = 3.0
	momentumProgress   = 0.95
	memoryWeight       = 0.2
	plateauTolerance   = 0.05
	trackingCompetitor = 1.5
	trackingClarity    = 1.5
	trackingInterval   = 0.5
	strengthDecay      = 0.9
	clarityScale       = 0.5

	momentumBonus    = 0.3
	persistenceBonus = 0.2
	risingBonus      = 0.3
	fallingPenalty   = 0.2
	gradientBand     = 0.05
	qualityBonus     = 0.2
	consensusBonus   = 0.3
	failurePenalty   = 0.2

	stuckDisplacement     = 0.05
	stuckSeconds          = 2.0
	reversalAngle         = math.Pi / 2
	reversalWindowSeconds = 5.0

	loopBreakAfter  = 15.0
	loopBreakChance = 0.01

	neighbourRadius      = 60.0
	tightRadius          = 20.0
	swarmTightCount      = 3
	swarmFollowSeconds   = 3.0
	swarmDiscount        = 0.7
	swarmJitter          = 0.3
	consensusFailureRate = 0.6
	consensusDensity     = 4
	crowdDensity         = 6

	searchRampSeconds = 60.0
	wanderMinRange    = 1.2
	wanderMaxRange    = 2.2
	senseSlow         = 0.6
	senseFast         = 0.3
	senseJitter       = 0.2
)

var scanAngles = func() (out [pheromone.DirectionCount]float64) {
	for i := range out {
		out[i] = pheromone.DirectionAngle(i)
	}
	return out
}()

// ComputeHeading turns directional strengths into a heading. Each direction
// contributes its unit vector weighted by the squared strength; the resulting
// direction is blended 80/20 with the trail-memory mean. It fails when no
// strength is positive or the contributions cancel.
func ComputeHeading(angles, strengths []float64, memory float64, hasMemory bool) (float64, bool) {
	n := min(len(angles), len(strengths))
	sum := geom.Zero
	for i := 0; i < n; i++ {
		s := strengths[i]
		if s <= 0 {
			continue
		}
		sum = sum.Add(geom.FromAngle(angles[i]).Scale(s * s))
	}
	dir, ok := sum.Normalize()
	if !ok {
		return 0, false
	}
	if hasMemory {
		blended := dir.Scale(1 - memoryWeight).Add(geom.FromAngle(memory).Scale(memoryWeight))
		if b, ok := blended.Normalize(); ok {
			dir = b
		}
	}
	return geom.WrapAngle(dir.Angle()), true
}

// scanContext carries what the bonus terms need about the scanning agent.
type scanContext struct {
	here      float64
	heading   float64
	following bool
	quality   float64
	detection float64
	nb        swarm.Neighborhood
}

// effective writes the bonus-adjusted strength of every sample into out.
// Bonuses are scaled by the peak sample and only touch samples at or above
// the detection threshold, so an empty direction never wins on bonuses alone.
func (c scanContext) effective(angles, samples, out []float64) {
	peak := 0.0
	for _, s := range samples {
		peak = math.Max(peak, s)
	}
	consensus := c.nb.FailureRate > consensusFailureRate && c.nb.Density >= consensusDensity
	for i, s := range samples {
		out[i] = s
		if s < c.detection {
			continue
		}
		bonus := momentumBonus * (1 - math.Abs(geom.AngleDiff(c.heading, angles[i]))/math.Pi)
		if c.following {
			bonus += persistenceBonus
		}
		switch {
		case s > c.here*(1+gradientBand):
			bonus += risingBonus
		case s < c.here*(1-gradientBand):
			bonus -= fallingPenalty
		}
		bonus += qualityBonus * c.quality
		if consensus {
			bonus += consensusBonus*c.nb.SuccessAlignment(angles[i]) - failurePenalty*c.nb.FailureAlignment(angles[i])
		}
		out[i] = math.Max(0, s+bonus*peak)
	}
}

// scanQuality scores a set of samples in [0, 1] as consistency times
// saturating strength times gradient clarity.
func scanQuality(samples []float64, detection, saturation float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	peak, sum := 0.0, 0.0
	for _, s := range samples {
		peak = math.Max(peak, s)
		sum += s
	}
	mean := sum / float64(len(samples))
	if peak <= 0 || mean <= 0 {
		return 0
	}
	variance := 0.0
	for _, s := range samples {
		variance += (s - mean) * (s - mean)
	}
	std := math.Sqrt(variance / float64(len(samples)))

	consistency := geom.Clamp(1-std/peak, 0, 1)
	strength := geom.Clamp(math.Log1p(peak/detection)/math.Log1p(saturation/detection), 0, 1)
	clarity := geom.Clamp((peak/mean-1)/clarityScale, 0, 1)
	return consistency * strength * clarity
}

func (a *Agent) updateQuality(score float64) {
	a.TrailQuality = 0.7*a.TrailQuality + 0.3*score
}

func (a *Agent) setSpeed(speed float64) {
	a.Velocity = geom.FromAngle(a.Heading).Scale(speed)
}

// decide runs the agent's controller for one tick. It reads the field and
// the previous tick's snapshot and writes only to a.
func (a *Agent) decide(e *env) {
	a.Swarming = false
	a.EdgeProximity = e.half - math.Max(math.Abs(a.Position.X), math.Abs(a.Position.Y))
	if a.LastGoalTime >= 0 {
		a.TimeSinceProgress = e.now - a.LastGoalTime
	} else {
		a.TimeSinceProgress = math.Max(0, e.now-a.ActiveTime)
	}
	a.reversalWindow += e.dt
	if a.reversalWindow > reversalWindowSeconds {
		a.reversalWindow = 0
		a.DirectionChanges = 0
	}

	if a.InStartup() {
		a.StartupTimer = math.Max(0, a.StartupTimer-e.dt)
		a.Velocity = geom.Zero
		return
	}
	if a.CollectTimer > 0 {
		a.Velocity = geom.Zero
		return
	}

	a.SensingTimer -= e.dt
	if a.MomentumTimer > 0 {
		a.MomentumTimer -= e.dt
	}
	if a.State == Following || a.State == Tracking {
		a.FollowingTime += e.dt
	} else {
		a.FollowingTime = 0
	}

	if a.Carrying {
		a.carry(e)
		return
	}
	switch a.State {
	case Following:
		a.follow(e)
	case Tracking:
		a.track(e)
	default:
		a.explore(e)
	}
}

func (a *Agent) carry(e *env) {
	a.State = Following
	if a.SensingTimer <= 0 {
		a.turnTo(carrierHeading(a, e))
		a.remember(a.Heading)
		a.SensingTimer = carrierSensing
	}
	a.setSpeed(carrySpeed)
}

func (a *Agent) explore(e *env) {
	a.State = Exploring
	a.Heading = geom.WrapAngle(a.Heading + (a.rng.Float64()*2-1)*e.params.noise)
	if a.SensingTimer > 0 {
		a.setSpeed(exploreSpeed)
		return
	}
	a.scan(e)
}

func (a *Agent) track(e *env) {
	if a.SensingTimer > 0 {
		a.setSpeed(followSpeed)
		return
	}
	a.scan(e)
}

// scan is the full 8-direction evaluation. The agent sits in Sensing while it
// runs and leaves in Exploring, Following or Tracking.
func (a *Agent) scan(e *env) {
	prev := a.State
	a.State = Sensing

	samples := e.field.SampleAllDirections(a.Position, pheromone.Food)
	nb := e.snap.Analyze(a.ID, a.Position, neighbourRadius, tightRadius)
	a.NearbyAgents = nb.Density
	a.updateQuality(scanQuality(samples[:], e.params.detection, e.params.saturation))

	peak, sum := 0.0, 0.0
	for _, s := range samples {
		peak = math.Max(peak, s)
		sum += s
	}
	a.noteTrailDistance(e, peak)

	ctx := scanContext{
		here:      e.field.SampleDirectional(a.Position, 0, 0, pheromone.Food),
		heading:   a.Heading,
		following: prev == Tracking,
		quality:   a.TrailQuality,
		detection: e.params.detection,
		nb:        nb,
	}
	var eff [pheromone.DirectionCount]float64
	ctx.effective(scanAngles[:], samples[:], eff[:])

	if prev == Tracking {
		mean := sum / float64(len(samples))
		competing := peak >= trackingCompetitor*a.TrailStrength
		sharp := mean > 0 && peak/mean >= trackingClarity
		switch {
		case peak < a.HysteresisThreshold:
			a.wander(e, nb)
		case competing || sharp:
			a.beginFollowing(e, scanAngles[:], eff[:], peak, nb)
		default:
			a.State = Tracking
			a.SensingTimer = trackingInterval
			a.setSpeed(followSpeed)
		}
		return
	}

	if peak >= e.params.detection {
		a.beginFollowing(e, scanAngles[:], eff[:], peak, nb)
		return
	}
	a.wander(e, nb)
}

func (a *Agent) noteTrailDistance(e *env, peak float64) {
	switch {
	case e.field.At(a.Position, pheromone.Food) >= e.params.detection:
		a.DistanceToTrail = 0
	case peak >= e.params.detection:
		a.DistanceToTrail = e.field.SenseDistance()
	default:
		a.DistanceToTrail = -1
	}
}

func (a *Agent) beginFollowing(e *env, angles, eff []float64, peak float64, nb swarm.Neighborhood) {
	mem, ok := a.memoryMean()
	heading, found := ComputeHeading(angles, eff, mem, ok)
	if !found {
		a.wander(e, nb)
		return
	}
	a.State = Following
	a.turnTo(heading)
	a.remember(a.Heading)
	a.TrailStrength = peak
	a.lastSample = peak
	a.HysteresisThreshold = abandonRatio * peak
	a.MomentumTimer = momentumSeconds
	a.SensingTimer = a.followInterval(e, peak)
	a.setSpeed(followSpeed)
}

// followInterval lengthens the sensing interval on strong trails.
func (a *Agent) followInterval(e *env, strength float64) float64 {
	f := geom.Clamp(math.Log1p(strength/e.params.detection)/math.Log1p(e.params.saturation/e.params.detection), 0, 1)
	return 0.2 + 0.6*f
}

// wander is the no-trail outcome: a perturbation whose range grows with the
// time since the agent last reached a goal, or a redirect to the emptiest
// sector when the neighbourhood is crowded.
func (a *Agent) wander(e *env, nb swarm.Neighborhood) {
	a.State = Exploring
	a.TrailStrength = 0
	a.lastSample = 0
	a.HysteresisThreshold = e.params.detection

	search := geom.Clamp(a.TimeSinceProgress/searchRampSeconds, 0, 1)
	if nb.Density >= crowdDensity {
		a.turnTo(nb.LeastTrafficSector(a.Heading) + (a.rng.Float64()-0.5)*0.2)
	} else {
		spread := wanderMinRange + (wanderMaxRange-wanderMinRange)*search
		a.turnTo(a.Heading + (a.rng.Float64()-0.5)*spread)
	}
	if e.field.SampleDirectional(a.Position, a.Heading, e.field.SenseDistance(), pheromone.Alarm) >= e.params.detection {
		side := 1.0
		if a.rng.Intn(2) == 0 {
			side = -1
		}
		a.turnTo(a.Heading + side*math.Pi/2)
	}
	a.remember(a.Heading)
	a.SensingTimer = senseSlow - (senseSlow-senseFast)*search + a.rng.Float64()*senseJitter
	a.setSpeed(exploreSpeed)
}

// follow re-senses a committed trail with a 3-way look-ahead.
func (a *Agent) follow(e *env) {
	if a.SensingTimer > 0 {
		a.setSpeed(followSpeed)
		return
	}

	angles := [3]float64{a.Heading, a.Heading + lookAheadSpread, a.Heading - lookAheadSpread}
	var samples [3]float64
	strength, lowest := 0.0, math.Inf(1)
	for i, ang := range angles {
		samples[i] = e.field.SampleDirectional(a.Position, ang, e.field.SenseDistance(), pheromone.Food)
		strength = math.Max(strength, samples[i])
		lowest = math.Min(lowest, samples[i])
	}
	peak := strength
	nb := e.snap.Analyze(a.ID, a.Position, neighbourRadius, tightRadius)
	a.NearbyAgents = nb.Density
	all := e.field.SampleAllDirections(a.Position, pheromone.Food)
	a.updateQuality(scanQuality(all[:], e.params.detection, e.params.saturation))
	a.noteTrailDistance(e, peak)

	if nb.TightCount >= swarmTightCount && a.FollowingTime > swarmFollowSeconds {
		a.Swarming = true
		strength *= swarmDiscount
		a.turnTo(a.Heading + (a.rng.Float64()*2-1)*swarmJitter)
	}

	if strength >= a.lastSample*momentumProgress {
		a.MomentumTimer = momentumSeconds
	}
	a.lastSample = strength

	switch {
	case strength < abandonRatio*a.TrailStrength,
		a.FollowingTime > qualityGrace && a.TrailQuality < qualityFloor,
		a.MomentumTimer <= 0:
		a.wander(e, nb)
		return
	case a.FollowingTime > loopBreakAfter && a.rng.Float64() < loopBreakChance:
		a.wander(e, nb)
		a.turnTo(a.randomHeading())
		a.setSpeed(exploreSpeed)
		return
	}

	if strength > a.TrailStrength {
		a.TrailStrength = strength
	} else {
		a.TrailStrength = strengthDecay*a.TrailStrength + (1-strengthDecay)*strength
	}
	a.HysteresisThreshold = abandonRatio * a.TrailStrength
	a.SensingTimer = a.followInterval(e, strength)

	if peak-lowest <= plateauTolerance*peak {
		a.State = Tracking
		a.SensingTimer = trackingInterval
		a.setSpeed(followSpeed)
		return
	}

	ctx := scanContext{
		here:      e.field.SampleDirectional(a.Position, 0, 0, pheromone.Food),
		heading:   a.Heading,
		following: true,
		quality:   a.TrailQuality,
		detection: e.params.detection,
		nb:        nb,
	}
	var eff [3]float64
	ctx.effective(angles[:], samples[:], eff[:])
	mem, ok := a.memoryMean()
	if target, found := ComputeHeading(angles[:], eff[:], mem, ok); found {
		a.turnTo(a.Heading + geom.AngleDiff(a.Heading, target)*e.params.turn)
		a.remember(a.Heading)
	}
	a.setSpeed(followSpeed)
}

// move integrates velocity, rejects steps into obstacles, keeps the agent
// inside the world, and runs stuck recovery.
func (a *Agent) move(e *env) {
	prev := a.Position
	a.LastPosition = prev
	a.ageCollisions(e.dt)

	next := prev.Add(a.Velocity.Scale(e.dt))
	if next.X > e.bound || next.X < -e.bound {
		next.X = geom.Clamp(next.X, -e.bound, e.bound)
		a.Heading = geom.WrapAngle(math.Pi - a.Heading)
	}
	if next.Y > e.bound || next.Y < -e.bound {
		next.Y = geom.Clamp(next.Y, -e.bound, e.bound)
		a.Heading = geom.WrapAngle(-a.Heading)
	}
	if blocked(e.obstacles, next, agentHalfWidth) {
		next = prev
		a.recordCollision()
		a.SensingTimer = 0
	}
	a.Position = next

	step := next.Dist(prev)
	if a.Carrying {
		a.DistanceSinceFood += step
	}
	a.DistanceFromNest = next.Dist(e.nest)

	if a.InStartup() || a.CollectTimer > 0 {
		a.StuckTimer = 0
		return
	}
	if step >= stuckDisplacement {
		a.StuckTimer = 0
		return
	}
	a.StuckTimer += e.dt
	if a.StuckTimer > stuckSeconds {
		a.turnTo(a.randomHeading())
		a.State = Exploring
		a.TrailStrength = 0
		a.HysteresisThreshold = e.params.detection
		a.StuckTimer = 0
		a.SensingTimer = senseSlow
		a.setSpeed(exploreSpeed)
	}
}
