// Package swarm builds the once-per-tick view of every agent that the
// navigation engine consults for neighbourhood statistics. Agents never read
// each other directly; they read the previous tick's Snapshot.
package swarm

import (
	"math"

	"stigmergy/internal/geom"
)

const sectorCount = 8

// Entry is the frozen state of one agent.
type Entry struct {
	Position   geom.Vec
	Carrying   bool
	Deliveries int
}

// Snapshot is immutable once built and safe for concurrent readers.
type Snapshot struct {
	entries  []Entry
	cellSize float64
	buckets  map[[2]int][]int
}

// Build copies entries into a bucketed snapshot. cellSize should be at least
// the largest query radius so a query touches at most 3x3 buckets.
func Build(entries []Entry, cellSize float64) *Snapshot {
	if cellSize <= 0 {
		cellSize = 50
	}
	s := &Snapshot{
		entries:  append([]Entry(nil), entries...),
		cellSize: cellSize,
		buckets:  make(map[[2]int][]int, len(entries)),
	}
	for i, e := range s.entries {
		key := s.bucket(e.Position)
		s.buckets[key] = append(s.buckets[key], i)
	}
	return s
}

func (s *Snapshot) bucket(p geom.Vec) [2]int {
	return [2]int{int(math.Floor(p.X / s.cellSize)), int(math.Floor(p.Y / s.cellSize))}
}

// Len reports how many agents the snapshot holds.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entry returns the frozen state of agent i.
func (s *Snapshot) Entry(i int) Entry { return s.entries[i] }

// Neighborhood summarises the agents around one query point.
type Neighborhood struct {
	// Density counts neighbours within the query radius.
	Density int
	// TightCount counts neighbours within the tight radius.
	TightCount int
	// FailureRate is the fraction of neighbours that have never delivered.
	FailureRate float64
	// FailedBearing is the mean bearing toward failing neighbours; valid only
	// when HasFailedBearing is set.
	FailedBearing    float64
	HasFailedBearing bool
	// SuccessBearings point toward neighbours with at least one delivery.
	SuccessBearings []float64
	// SectorTraffic counts neighbours per compass sector.
	SectorTraffic [sectorCount]int
}

// Analyze scans the snapshot around pos, skipping entry self (pass -1 to
// include every entry).
func (s *Snapshot) Analyze(self int, pos geom.Vec, radius, tightRadius float64) Neighborhood {
	var n Neighborhood
	if s == nil || radius <= 0 {
		return n
	}

	span := int(math.Ceil(radius / s.cellSize))
	center := s.bucket(pos)
	failed := geom.Zero
	failures := 0
	for by := center[1] - span; by <= center[1]+span; by++ {
		for bx := center[0] - span; bx <= center[0]+span; bx++ {
			for _, i := range s.buckets[[2]int{bx, by}] {
				if i == self {
					continue
				}
				e := s.entries[i]
				offset := e.Position.Sub(pos)
				d := offset.Len()
				if d > radius {
					continue
				}
				n.Density++
				if d <= tightRadius {
					n.TightCount++
				}
				// Co-located neighbours carry no bearing.
				dir, ok := offset.Normalize()
				if e.Deliveries == 0 {
					failures++
					if ok {
						failed = failed.Add(dir)
					}
				} else if ok {
					n.SuccessBearings = append(n.SuccessBearings, dir.Angle())
				}
				if ok {
					n.SectorTraffic[sectorOf(dir.Angle())]++
				}
			}
		}
	}

	if n.Density > 0 {
		n.FailureRate = float64(failures) / float64(n.Density)
	}
	if _, ok := failed.Normalize(); ok {
		n.FailedBearing = failed.Angle()
		n.HasFailedBearing = true
	}
	return n
}

func sectorOf(angle float64) int {
	return int(math.Round(geom.WrapAngle(angle)/(2*math.Pi/sectorCount))) % sectorCount
}

// SectorAngle returns the centre heading of compass sector i.
func SectorAngle(i int) float64 {
	return float64(i) * 2 * math.Pi / sectorCount
}

// LeastTrafficSector returns the heading of the emptiest sector, preferring
// the one closest to current on ties.
func (n Neighborhood) LeastTrafficSector(current float64) float64 {
	best := -1
	bestTurn := 0.0
	for i, count := range n.SectorTraffic {
		turn := math.Abs(geom.AngleDiff(current, SectorAngle(i)))
		if best < 0 || count < n.SectorTraffic[best] || (count == n.SectorTraffic[best] && turn < bestTurn) {
			best = i
			bestTurn = turn
		}
	}
	return SectorAngle(best)
}

// SuccessAlignment scores how well heading agrees with the nearest successful
// neighbour bearing, in [0, 1]. Zero when there are no successful neighbours.
func (n Neighborhood) SuccessAlignment(heading float64) float64 {
	best := 0.0
	for _, b := range n.SuccessBearings {
		a := (1 + math.Cos(heading-b)) / 2
		if a > best {
			best = a
		}
	}
	return best
}

// FailureAlignment scores how closely heading points at the failing crowd,
// in [0, 1].
func (n Neighborhood) FailureAlignment(heading float64) float64 {
	if !n.HasFailedBearing {
		return 0
	}
	return (1 + math.Cos(heading-n.FailedBearing)) / 2
}
