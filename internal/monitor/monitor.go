// Package monitor aggregates colony-wide performance counters and decides
// when a run should stop.
package monitor

import "fmt"

// Termination explains why a run stopped.
type Termination int

const (
	Running Termination = iota
	TooManyOscillating
	TooManyLostCarriers
	HorizonReached
)

func (t Termination) String() string {
	switch t {
	case Running:
		return "running"
	case TooManyOscillating:
		return "too_many_oscillating"
	case TooManyLostCarriers:
		return "too_many_lost_carriers"
	case HorizonReached:
		return "horizon_reached"
	default:
		return fmt.Sprintf("termination(%d)", int(t))
	}
}

// Thresholds are the cutoffs used when classifying agents.
type Thresholds struct {
	StuckSeconds       float64
	OscillationChanges int
	OscillationStuck   float64
	LostElapsedFloor   float64
	LostCarrierSeconds float64
	OscillationCeiling int
	LostCarrierCeiling int
	HorizonSeconds     float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		StuckSeconds:       1.0,
		OscillationChanges: 5,
		OscillationStuck:   0.5,
		LostElapsedFloor:   45,
		LostCarrierSeconds: 30,
		OscillationCeiling: 20,
		LostCarrierCeiling: 10,
		HorizonSeconds:     90,
	}
}

// AgentSample is what the monitor needs to know about one agent.
type AgentSample struct {
	StuckSeconds     float64
	DirectionChanges int
	HasFoundFood     bool
	InStartup        bool
	Carrying         bool
	CarryStart       float64
	// LastGoal is the elapsed time of the last pickup or delivery; negative
	// when the agent has not reached a goal yet.
	LastGoal float64
	// Active is when the agent left its startup grace.
	Active float64
}

// Metrics is the performance record exposed to overlays and the run ledger.
type Metrics struct {
	Ticks                int     `json:"ticks"`
	Elapsed              float64 `json:"elapsed"`
	SuccessfulDeliveries int     `json:"successful_deliveries"`
	FailedAttempts       int     `json:"failed_attempts"`
	TotalFoodCollected   float64 `json:"total_food_collected"`
	AverageDeliveryTime  float64 `json:"average_delivery_time"`
	AverageReturnTime    float64 `json:"average_return_time"`
	LastDeliveryTime     float64 `json:"last_delivery_time"`
	Stuck                int     `json:"stuck"`
	Oscillating          int     `json:"oscillating"`
	Lost                 int     `json:"lost"`
	LostCarriers         int     `json:"lost_carriers"`
	AverageTimeSinceGoal float64 `json:"average_time_since_goal"`
}

// Monitor owns the Metrics record. It is driven from the single simulation
// goroutine and is not safe for concurrent use.
type Monitor struct {
	th      Thresholds
	metrics Metrics

	deliverySamples int
	returnSamples   int
}

func New(th Thresholds) *Monitor {
	return &Monitor{th: th}
}

func (m *Monitor) Thresholds() Thresholds { return m.th }

// Metrics returns a copy of the current record.
func (m *Monitor) Metrics() Metrics { return m.metrics }

// Reset clears every counter.
func (m *Monitor) Reset() {
	m.metrics = Metrics{}
	m.deliverySamples = 0
	m.returnSamples = 0
}

// RecordPickup counts food debited from a source.
func (m *Monitor) RecordPickup(amount float64) {
	m.metrics.TotalFoodCollected += amount
}

// RecordFailedAttempt counts a collection that ended without food.
func (m *Monitor) RecordFailedAttempt() {
	m.metrics.FailedAttempts++
}

// RecordDelivery folds one drop-off into the running means.
func (m *Monitor) RecordDelivery(now, deliveryTime, returnTime float64) {
	m.metrics.SuccessfulDeliveries++
	m.metrics.LastDeliveryTime = now

	m.deliverySamples++
	m.metrics.AverageDeliveryTime += (deliveryTime - m.metrics.AverageDeliveryTime) / float64(m.deliverySamples)
	m.returnSamples++
	m.metrics.AverageReturnTime += (returnTime - m.metrics.AverageReturnTime) / float64(m.returnSamples)
}

// Observe recomputes the per-agent counters for the current tick and returns
// whether the run should stop.
func (m *Monitor) Observe(tick int, elapsed float64, agents []AgentSample) Termination {
	m.metrics.Ticks = tick
	m.metrics.Elapsed = elapsed

	stuck, oscillating, lost, lostCarriers := 0, 0, 0, 0
	sinceGoal := 0.0
	active := 0
	for _, a := range agents {
		if a.StuckSeconds > m.th.StuckSeconds {
			stuck++
		}
		if a.DirectionChanges > m.th.OscillationChanges && a.StuckSeconds > m.th.OscillationStuck {
			oscillating++
		}
		if !a.HasFoundFood && !a.InStartup && elapsed > m.th.LostElapsedFloor {
			lost++
		}
		if a.Carrying && elapsed-a.CarryStart > m.th.LostCarrierSeconds {
			lostCarriers++
		}
		if a.InStartup {
			continue
		}
		active++
		if a.LastGoal >= 0 {
			sinceGoal += elapsed - a.LastGoal
		} else if elapsed > a.Active {
			sinceGoal += elapsed - a.Active
		}
	}

	m.metrics.Stuck = stuck
	m.metrics.Oscillating = oscillating
	m.metrics.Lost = lost
	m.metrics.LostCarriers = lostCarriers
	m.metrics.AverageTimeSinceGoal = 0
	if active > 0 {
		m.metrics.AverageTimeSinceGoal = sinceGoal / float64(active)
	}

	switch {
	case m.th.OscillationCeiling > 0 && oscillating >= m.th.OscillationCeiling:
		return TooManyOscillating
	case m.th.LostCarrierCeiling > 0 && lostCarriers >= m.th.LostCarrierCeiling:
		return TooManyLostCarriers
	case m.th.HorizonSeconds > 0 && elapsed >= m.th.HorizonSeconds:
		return HorizonReached
	default:
		return Running
	}
}
