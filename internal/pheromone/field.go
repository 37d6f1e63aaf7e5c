// Package pheromone implements the shared chemical field: a dense square grid
// with independent food, nest and alarm channels that evaporate and diffuse
// every tick.
package pheromone

import (
	"fmt"
	"math"
	"sync"

	"stigmergy/internal/geom"
)

// Channel selects one of the independent scalar layers of the field.
type Channel int

const (
	Food Channel = iota
	Nest
	Alarm
	channelCount
)

func (c Channel) String() string {
	switch c {
	case Food:
		return "food"
	case Nest:
		return "nest"
	case Alarm:
		return "alarm"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Channels lists every channel in storage order.
var Channels = [...]Channel{Food, Nest, Alarm}

// DirectionCount is the number of compass headings in a full scan.
const DirectionCount = 8

// DefaultSenseDistance is the scan radius used by the original tuning.
const DefaultSenseDistance = 25.0

// Rates carries a per-channel evaporation or diffusion rate in [0, 1].
type Rates [channelCount]float64

func NewRates(food, nest, alarm float64) Rates {
	return Rates{Food: food, Nest: nest, Alarm: alarm}
}

type Config struct {
	WorldSize     float64
	CellSize      float64
	SenseDistance float64
	Workers       int
}

// Field is the pheromone grid. The world square [-W/2, W/2)^2 maps onto
// side x side cells; values are stored row-major (y*side + x).
type Field struct {
	side      int
	worldSize float64
	cellSize  float64
	sense     float64
	workers   int

	values  [channelCount][]float64
	scratch [channelCount][]float64
}

// New builds a zeroed field. The cell size must tile the world exactly, and a
// grid smaller than 3 cells per side has no interior to diffuse.
func New(cfg Config) (*Field, error) {
	if cfg.WorldSize <= 0 || cfg.CellSize <= 0 {
		return nil, fmt.Errorf("field dimensions must be > 0: world=%g cell=%g", cfg.WorldSize, cfg.CellSize)
	}
	ratio := cfg.WorldSize / cfg.CellSize
	if math.Abs(ratio-math.Round(ratio)) > 1e-9*math.Max(1, ratio) {
		return nil, fmt.Errorf("cell size %g does not tile world size %g", cfg.CellSize, cfg.WorldSize)
	}
	side := int(math.Round(ratio))
	if side < 3 {
		return nil, fmt.Errorf("field grid must be at least 3x3, got %dx%d", side, side)
	}
	if cfg.SenseDistance <= 0 {
		cfg.SenseDistance = DefaultSenseDistance
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	f := &Field{
		side:      side,
		worldSize: cfg.WorldSize,
		cellSize:  cfg.CellSize,
		sense:     cfg.SenseDistance,
		workers:   cfg.Workers,
	}
	for c := range f.values {
		f.values[c] = make([]float64, side*side)
		f.scratch[c] = make([]float64, side*side)
	}
	return f, nil
}

func (f *Field) Side() int              { return f.side }
func (f *Field) CellSize() float64      { return f.cellSize }
func (f *Field) WorldSize() float64     { return f.worldSize }
func (f *Field) SenseDistance() float64 { return f.sense }

// WorldToGrid returns the cell index containing p, or false when p lies
// outside the world square.
func (f *Field) WorldToGrid(p geom.Vec) (int, bool) {
	gx, gy, ok := f.cellCoords(p)
	if !ok {
		return 0, false
	}
	return gy*f.side + gx, true
}

// CellCoords returns the grid column and row containing p.
func (f *Field) CellCoords(p geom.Vec) (x, y int, ok bool) {
	return f.cellCoords(p)
}

// CellCenter is the inverse of WorldToGrid for renderers.
func (f *Field) CellCenter(idx int) geom.Vec {
	gx := idx % f.side
	gy := idx / f.side
	half := f.worldSize * 0.5
	return geom.V(
		(float64(gx)+0.5)*f.cellSize-half,
		(float64(gy)+0.5)*f.cellSize-half,
	)
}

func (f *Field) cellCoords(p geom.Vec) (int, int, bool) {
	half := f.worldSize * 0.5
	// NaN fails both comparisons.
	if !(p.X >= -half && p.X < half && p.Y >= -half && p.Y < half) {
		return 0, 0, false
	}
	// Rounding in the division may land the last strip on index side.
	gx := min(int(math.Floor((p.X+half)/f.cellSize)), f.side-1)
	gy := min(int(math.Floor((p.Y+half)/f.cellSize)), f.side-1)
	return gx, gy, true
}

// Deposit adds amount to the cell containing p. Off-grid points and
// non-positive amounts are ignored so that values never go negative.
func (f *Field) Deposit(p geom.Vec, ch Channel, amount float64) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return
	}
	idx, ok := f.WorldToGrid(p)
	if !ok {
		return
	}
	f.values[ch][idx] += amount
}

// At returns the value of the cell containing p, 0 when off-grid.
func (f *Field) At(p geom.Vec, ch Channel) float64 {
	idx, ok := f.WorldToGrid(p)
	if !ok {
		return 0
	}
	return f.values[ch][idx]
}

// SampleDirectional averages the 3x3 block of cells around p+dir*distance.
func (f *Field) SampleDirectional(p geom.Vec, direction, distance float64, ch Channel) float64 {
	target := p.Add(geom.FromAngle(direction).Scale(distance))
	gx, gy, ok := f.cellCoords(target)
	if !ok {
		return 0
	}
	data := f.values[ch]
	total := 0.0
	count := 0
	for dy := -1; dy <= 1; dy++ {
		y := gy + dy
		if y < 0 || y >= f.side {
			continue
		}
		for dx := -1; dx <= 1; dx++ {
			x := gx + dx
			if x < 0 || x >= f.side {
				continue
			}
			total += data[y*f.side+x]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// DirectionAngle returns the heading of scan slot i.
func DirectionAngle(i int) float64 {
	return float64(i) * 2 * math.Pi / DirectionCount
}

// SampleAllDirections scans the eight compass headings at the field's sense
// distance.
func (f *Field) SampleAllDirections(p geom.Vec, ch Channel) [DirectionCount]float64 {
	var out [DirectionCount]float64
	for i := range out {
		out[i] = f.SampleDirectional(p, DirectionAngle(i), f.sense, ch)
	}
	return out
}

// Update evaporates every channel, snapshots the result, and diffuses the
// interior from the snapshot so that no cell reads a neighbour already
// advanced in the same pass. The outermost ring is evaporated only.
func (f *Field) Update(evap, diff Rates) {
	for _, ch := range Channels {
		keep := 1 - evap[ch]
		data := f.values[ch]
		f.parallelRows(0, f.side, func(y0, y1 int) {
			for i := y0 * f.side; i < y1*f.side; i++ {
				data[i] *= keep
			}
		})
	}

	for _, ch := range Channels {
		rate := diff[ch]
		if rate == 0 {
			continue
		}
		data := f.values[ch]
		snap := f.scratch[ch]
		copy(snap, data)
		side := f.side
		f.parallelRows(1, side-1, func(y0, y1 int) {
			for y := y0; y < y1; y++ {
				row := y * side
				for x := 1; x < side-1; x++ {
					idx := row + x
					sum := snap[idx-side-1] + snap[idx-side] + snap[idx-side+1] +
						snap[idx-1] + snap[idx] + snap[idx+1] +
						snap[idx+side-1] + snap[idx+side] + snap[idx+side+1]
					data[idx] = data[idx]*(1-rate) + (sum/9)*rate
				}
			}
		})
	}
}

// parallelRows splits [from, to) into contiguous bands and hands them to at
// most f.workers goroutines.
func (f *Field) parallelRows(from, to int, fn func(y0, y1 int)) {
	rows := to - from
	if rows <= 0 {
		return
	}
	workers := f.workers
	if workers > rows {
		workers = rows
	}
	if workers <= 1 {
		fn(from, to)
		return
	}

	type band struct{ y0, y1 int }
	jobs := make(chan band)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for b := range jobs {
				fn(b.y0, b.y1)
			}
		}()
	}
	step := (rows + workers - 1) / workers
	for y := from; y < to; y += step {
		end := y + step
		if end > to {
			end = to
		}
		jobs <- band{y0: y, y1: end}
	}
	close(jobs)
	wg.Wait()
}

// Reset zeroes every channel.
func (f *Field) Reset() {
	for c := range f.values {
		clear(f.values[c])
		clear(f.scratch[c])
	}
}

// CopyValues copies channel ch into dst (grown if needed) and returns it.
// Renderers read the field through this rather than the live slice.
func (f *Field) CopyValues(ch Channel, dst []float64) []float64 {
	n := len(f.values[ch])
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	copy(dst, f.values[ch])
	return dst
}

// Max returns the largest value in channel ch.
func (f *Field) Max(ch Channel) float64 {
	m := 0.0
	for _, v := range f.values[ch] {
		if v > m {
			m = v
		}
	}
	return m
}

// Sum returns the total mass in channel ch.
func (f *Field) Sum(ch Channel) float64 {
	total := 0.0
	for _, v := range f.values[ch] {
		total += v
	}
	return total
}
