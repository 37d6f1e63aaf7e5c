package colony

import (
	"fmt"
	"math"
	"math/rand"

	"stigmergy/internal/geom"
)

// BehaviorState is an agent's navigation mode.
type BehaviorState int

const (
	Exploring BehaviorState = iota
	// Sensing is transient: an agent is only in this state while a full scan
	// is being evaluated, and leaves it within the same tick.
	Sensing
	Following
	Tracking
)

func (s BehaviorState) String() string {
	switch s {
	case Exploring:
		return "exploring"
	case Sensing:
		return "sensing"
	case Following:
		return "following"
	case Tracking:
		return "tracking"
	default:
		return fmt.Sprintf("behavior(%d)", int(s))
	}
}

// Valid reports whether s is one of the four named states.
func (s BehaviorState) Valid() bool {
	return s >= Exploring && s <= Tracking
}

const trailMemorySize = 5

// Agent is one forager. Only the goroutine that owns the agent during the
// decide phase may touch it; the rest of the tick is sequential.
type Agent struct {
	ID       int
	Position geom.Vec
	Velocity geom.Vec
	Heading  float64
	State    BehaviorState

	SensingTimer  float64
	StartupTimer  float64
	StuckTimer    float64
	MomentumTimer float64
	CollectTimer  float64

	Carrying            bool
	load                float64
	TrailQuality        float64
	TrailStrength       float64
	HysteresisThreshold float64
	lastSample          float64

	trailMemory [trailMemorySize]float64
	memoryIndex int

	LastPosition     geom.Vec
	DirectionChanges int
	reversalWindow   float64

	NearbyAgents      int
	Swarming          bool
	DistanceToTrail   float64
	EdgeProximity     float64
	TimeSinceProgress float64
	FollowingTime     float64

	Deliveries       int
	DeliveryAttempts int
	PickupTime       float64
	CarryStartTime   float64
	// LastGoalTime is negative until the first pickup or delivery.
	LastGoalTime float64
	// ActiveTime is when the startup grace ended.
	ActiveTime   float64
	HasFoundFood bool

	DistanceSinceFood float64
	DistanceFromNest  float64

	collisions      int
	collisionWindow float64
	pendingAlarm    bool

	rng *rand.Rand
}

func newAgent(id int, pos geom.Vec, heading, startup float64, rng *rand.Rand, detection float64) *Agent {
	a := &Agent{
		ID:                  id,
		Position:            pos,
		LastPosition:        pos,
		Heading:             geom.WrapAngle(heading),
		State:               Exploring,
		SensingTimer:        rng.Float64() * 2,
		StartupTimer:        startup,
		HysteresisThreshold: detection,
		LastGoalTime:        -1,
		ActiveTime:          startup,
		DistanceToTrail:     -1,
		rng:                 rng,
	}
	for i := range a.trailMemory {
		a.trailMemory[i] = a.Heading
	}
	return a
}

// InStartup reports whether the agent is still waiting out its staggered
// start.
func (a *Agent) InStartup() bool { return a.StartupTimer > 0 }

func (a *Agent) remember(heading float64) {
	a.trailMemory[a.memoryIndex] = heading
	a.memoryIndex = (a.memoryIndex + 1) % trailMemorySize
}

// memoryMean is the circular mean of the remembered headings. It fails when
// the headings cancel out.
func (a *Agent) memoryMean() (float64, bool) {
	sum := geom.Zero
	for _, h := range a.trailMemory {
		sum = sum.Add(geom.FromAngle(h))
	}
	dir, ok := sum.Normalize()
	if !ok {
		return 0, false
	}
	return dir.Angle(), true
}

// turnTo sets a new heading and counts sharp reversals within the rolling
// window.
func (a *Agent) turnTo(heading float64) {
	heading = geom.WrapAngle(heading)
	if math.Abs(geom.AngleDiff(a.Heading, heading)) > reversalAngle {
		a.DirectionChanges++
	}
	a.Heading = heading
}

func (a *Agent) randomHeading() float64 {
	return a.rng.Float64() * 2 * math.Pi
}

// AgentStatus is a read-only copy of an agent for overlays and inspection.
type AgentStatus struct {
	ID                int           `json:"id"`
	Position          geom.Vec      `json:"position"`
	Heading           float64       `json:"heading"`
	State             BehaviorState `json:"state"`
	Carrying          bool          `json:"carrying"`
	Collecting        bool          `json:"collecting"`
	TrailQuality      float64       `json:"trail_quality"`
	TrailStrength     float64       `json:"trail_strength"`
	Hysteresis        float64       `json:"hysteresis"`
	DirectionChanges  int           `json:"direction_changes"`
	StuckSeconds      float64       `json:"stuck_seconds"`
	NearbyAgents      int           `json:"nearby_agents"`
	Swarming          bool          `json:"swarming"`
	DistanceToTrail   float64       `json:"distance_to_trail"`
	EdgeProximity     float64       `json:"edge_proximity"`
	TimeSinceProgress float64       `json:"time_since_progress"`
	Deliveries        int           `json:"deliveries"`
	DeliveryAttempts  int           `json:"delivery_attempts"`
	HasFoundFood      bool          `json:"has_found_food"`
}

func (a *Agent) status() AgentStatus {
	return AgentStatus{
		ID:                a.ID,
		Position:          a.Position,
		Heading:           a.Heading,
		State:             a.State,
		Carrying:          a.Carrying,
		Collecting:        a.CollectTimer > 0,
		TrailQuality:      a.TrailQuality,
		TrailStrength:     a.TrailStrength,
		Hysteresis:        a.HysteresisThreshold,
		DirectionChanges:  a.DirectionChanges,
		StuckSeconds:      a.StuckTimer,
		NearbyAgents:      a.NearbyAgents,
		Swarming:          a.Swarming,
		DistanceToTrail:   a.DistanceToTrail,
		EdgeProximity:     a.EdgeProximity,
		TimeSinceProgress: a.TimeSinceProgress,
		Deliveries:        a.Deliveries,
		DeliveryAttempts:  a.DeliveryAttempts,
		HasFoundFood:      a.HasFoundFood,
	}
}
