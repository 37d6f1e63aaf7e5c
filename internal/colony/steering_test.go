package colony

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stigmergy/internal/geom"
	"stigmergy/internal/pheromone"
	"stigmergy/internal/swarm"
)

// constSource makes every draw from a rand.Rand return the same value.
type constSource int64

func (s constSource) Int63() int64 { return int64(s) }
func (constSource) Seed(int64)     {}

// snapshotAround puts the agent under test at entry 0, which Analyze skips
// for agent ID 0.
func snapshotAround(self geom.Vec, neighbours ...swarm.Entry) *swarm.Snapshot {
	return swarm.Build(append([]swarm.Entry{{Position: self}}, neighbours...), neighbourRadius)
}

func steadyFollower(rng *rand.Rand, followingTime float64) *Agent {
	a := newAgent(0, geom.Zero, 0, 0, rng, 0.001)
	a.State = Following
	a.TrailStrength = 1
	a.lastSample = 1
	a.TrailQuality = 1
	a.HysteresisThreshold = abandonRatio
	a.MomentumTimer = momentumSeconds
	a.FollowingTime = followingTime
	a.SensingTimer = 0
	return a
}

func TestFollowSwarmingDiscountsStrength(t *testing.T) {
	tight := []swarm.Entry{
		{Position: geom.V(5, 0), Deliveries: 1},
		{Position: geom.V(0, 5), Deliveries: 1},
		{Position: geom.V(-5, 0), Deliveries: 1},
	}

	e := newTestEnv(t, 200, 1)
	fillUniform(e.field, pheromone.Food, 1)
	e.snap = snapshotAround(geom.Zero, tight...)
	a := steadyFollower(rand.New(rand.NewSource(9)), swarmFollowSeconds+1)
	a.follow(e)

	assert.True(t, a.Swarming)
	assert.InDelta(t, swarmDiscount, a.lastSample, 1e-9)
	assert.InDelta(t, strengthDecay+(1-strengthDecay)*swarmDiscount, a.TrailStrength, 1e-9)
	assert.LessOrEqual(t, math.Abs(geom.AngleDiff(0, a.Heading)), swarmJitter+1e-9)
	assert.Equal(t, Tracking, a.State, "a flat field still reads as a plateau")

	// A recent follower in the same crowd is not swarming yet.
	a = steadyFollower(rand.New(rand.NewSource(9)), swarmFollowSeconds-1)
	a.follow(e)
	assert.False(t, a.Swarming)
	assert.InDelta(t, 1, a.lastSample, 1e-9)

	// Nor is a long follower with the crowd out of tight range.
	e.snap = snapshotAround(geom.Zero,
		swarm.Entry{Position: geom.V(40, 0)},
		swarm.Entry{Position: geom.V(0, 40)},
		swarm.Entry{Position: geom.V(-40, 0)},
	)
	a = steadyFollower(rand.New(rand.NewSource(9)), swarmFollowSeconds+1)
	a.follow(e)
	assert.False(t, a.Swarming)
	assert.Equal(t, 0.0, geom.AngleDiff(0, a.Heading))
}

func TestEffectiveConsensusBias(t *testing.T) {
	const (
		east  = 0
		north = 2
		west  = 4
	)
	require.InDelta(t, math.Pi/2, scanAngles[north], 1e-12)
	require.InDelta(t, math.Pi, scanAngles[west], 1e-12)

	failing := []swarm.Entry{
		{Position: geom.V(-10, 0)},
		{Position: geom.V(-10, 2)},
		{Position: geom.V(-10, -2)},
		{Position: geom.V(-12, 0)},
	}
	samples := make([]float64, pheromone.DirectionCount)
	for i := range samples {
		samples[i] = 1
	}
	effective := func(snap *swarm.Snapshot) []float64 {
		nb := snap.Analyze(0, geom.Zero, neighbourRadius, tightRadius)
		out := make([]float64, len(samples))
		scanContext{here: 1, heading: scanAngles[east], detection: 0.001, nb: nb}.effective(scanAngles[:], samples, out)
		return out
	}

	plain := effective(snapshotAround(geom.Zero))
	biased := effective(snapshotAround(geom.Zero, append(failing, swarm.Entry{Position: geom.V(0, 10), Deliveries: 1})...))

	// North gains success alignment; west points at the failing crowd.
	assert.InDelta(t, plain[north]+consensusBonus-failurePenalty*0.5, biased[north], 1e-9)
	assert.InDelta(t, plain[west]+consensusBonus*0.5-failurePenalty, biased[west], 1e-9)
	assert.Greater(t, biased[north], plain[north])
	assert.Less(t, biased[west], plain[west])

	// Three neighbours are too few for consensus even at a 100% failure rate.
	sparse := effective(snapshotAround(geom.Zero, failing[:3]...))
	assert.Equal(t, plain, sparse)

	// Four neighbours with a 50% failure rate are below the failure bar.
	mixed := effective(snapshotAround(geom.Zero,
		failing[0], failing[1],
		swarm.Entry{Position: geom.V(0, 10), Deliveries: 1},
		swarm.Entry{Position: geom.V(0, -10), Deliveries: 2},
	))
	assert.Equal(t, plain, mixed)
}

func TestWanderRedirectsCrowdToLeastTrafficSector(t *testing.T) {
	e := newTestEnv(t, 200, 1)
	var crowd []swarm.Entry
	for i := 0; i < crowdDensity; i++ {
		crowd = append(crowd, swarm.Entry{Position: geom.FromAngle(swarm.SectorAngle(i)).Scale(30)})
	}
	e.snap = snapshotAround(geom.Zero, crowd...)
	nb := e.snap.Analyze(0, geom.Zero, neighbourRadius, tightRadius)
	require.Equal(t, crowdDensity, nb.Density)

	a := newTestAgent(geom.Zero, 0)
	a.State = Following
	a.TrailStrength = 3
	a.wander(e, nb)

	// Sectors 6 and 7 are empty; 7 is the smaller turn from heading 0.
	assert.Equal(t, Exploring, a.State)
	assert.Equal(t, 0.0, a.TrailStrength)
	assert.LessOrEqual(t, math.Abs(geom.AngleDiff(swarm.SectorAngle(7), a.Heading)), 0.1+1e-9)
	assert.InDelta(t, exploreSpeed, a.Velocity.Len(), 1e-9)
}

func TestTrackingTransitions(t *testing.T) {
	tracker := func(level float64) *Agent {
		e := newTestEnv(t, 200, 1)
		fillUniform(e.field, pheromone.Food, level)
		a := newTestAgent(geom.Zero, 0)
		a.State = Tracking
		a.TrailStrength = 0.1
		a.HysteresisThreshold = abandonRatio * a.TrailStrength
		a.scan(e)
		return a
	}

	a := tracker(0.2)
	assert.Equal(t, Following, a.State, "a trail 1.5x stronger wins")
	assert.InDelta(t, 0.2, a.TrailStrength, 1e-9)
	assert.InDelta(t, abandonRatio*0.2, a.HysteresisThreshold, 1e-9)

	a = tracker(0.12)
	assert.Equal(t, Tracking, a.State, "a flat, slightly stronger trail keeps tracking")
	assert.InDelta(t, trackingInterval, a.SensingTimer, 1e-12)

	a = tracker(0.01)
	assert.Equal(t, Exploring, a.State, "signal below the hysteresis threshold is dropped")
	assert.Equal(t, 0.0, a.TrailStrength)
}

func TestFollowLoopBreak(t *testing.T) {
	run := func(src rand.Source, followingTime float64) *Agent {
		e := newTestEnv(t, 200, 1)
		fillUniform(e.field, pheromone.Food, 1)
		a := steadyFollower(rand.New(src), followingTime)
		a.follow(e)
		return a
	}

	// A zero draw is under the break chance.
	a := run(constSource(0), loopBreakAfter+1)
	assert.Equal(t, Exploring, a.State)
	assert.Equal(t, 0.0, a.TrailStrength)
	assert.Equal(t, 0.0, a.Heading)
	assert.InDelta(t, exploreSpeed, a.Velocity.Len(), 1e-9)

	a = run(constSource(0), loopBreakAfter-1)
	assert.Equal(t, Tracking, a.State, "short follows never break")

	a = run(constSource(1<<62), loopBreakAfter+1)
	assert.Equal(t, Tracking, a.State, "a draw above the chance keeps following")
}

func TestFollowQualityUsesAllDirections(t *testing.T) {
	e := newTestEnv(t, 200, 1)
	fillUniform(e.field, pheromone.Food, 0.01)
	e.field.Deposit(geom.FromAngle(math.Pi).Scale(e.field.SenseDistance()), pheromone.Food, 5)

	a := newTestAgent(geom.Zero, 0)
	a.State = Following
	a.TrailStrength = 0.01
	a.lastSample = 0.01
	a.MomentumTimer = momentumSeconds
	a.SensingTimer = 0
	a.TrailQuality = 0

	ahead := [3]float64{}
	for i, ang := range []float64{0, lookAheadSpread, -lookAheadSpread} {
		ahead[i] = e.field.SampleDirectional(a.Position, ang, e.field.SenseDistance(), pheromone.Food)
	}
	require.InDelta(t, 0.0, scanQuality(ahead[:], e.params.detection, e.params.saturation), 1e-9, "look-ahead alone sees a flat trail")

	all := e.field.SampleAllDirections(a.Position, pheromone.Food)
	want := scanQuality(all[:], e.params.detection, e.params.saturation)
	require.Greater(t, want, 0.0)

	a.follow(e)
	assert.InDelta(t, 0.3*want, a.TrailQuality, 1e-12)
}
