package pheromone

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stigmergy/internal/geom"
)

func newTestField(t *testing.T, world, cell float64, workers int) *Field {
	t.Helper()
	f, err := New(Config{WorldSize: world, CellSize: cell, Workers: workers})
	require.NoError(t, err)
	return f
}

func TestNewRejectsDegenerateGrid(t *testing.T) {
	for _, cfg := range []Config{
		{WorldSize: 0, CellSize: 1},
		{WorldSize: 10, CellSize: 0},
		{WorldSize: 2, CellSize: 1},
		{WorldSize: 1000, CellSize: 3},
	} {
		_, err := New(cfg)
		assert.Error(t, err, "config %+v", cfg)
	}
}

func TestDepositThenSample(t *testing.T) {
	f := newTestField(t, 100, 1, 1)
	p := geom.V(12.3, -7.8)
	f.Deposit(p, Food, 2.5)
	f.Deposit(p, Food, 0.5)
	assert.GreaterOrEqual(t, f.At(p, Food), 2.5)
	assert.Equal(t, 0.0, f.At(p, Nest))
	assert.Equal(t, 0.0, f.At(p, Alarm))
}

func TestDepositOffGridIsNoop(t *testing.T) {
	f := newTestField(t, 100, 1, 1)
	f.Deposit(geom.V(50, 0), Food, 1)
	f.Deposit(geom.V(-51, 0), Food, 1)
	f.Deposit(geom.V(0, 0), Food, -3)
	assert.Equal(t, 0.0, f.Sum(Food))
}

func TestWorldToGridBijection(t *testing.T) {
	f := newTestField(t, 20, 1, 1)
	seen := make(map[int]bool)
	for y := -10.0; y < 10; y++ {
		for x := -10.0; x < 10; x++ {
			idx, ok := f.WorldToGrid(geom.V(x+0.25, y+0.75))
			require.True(t, ok, "point (%f, %f) should map", x, y)
			require.False(t, seen[idx], "cell %d mapped twice", idx)
			seen[idx] = true

			back, ok := f.WorldToGrid(f.CellCenter(idx))
			require.True(t, ok)
			require.Equal(t, idx, back)
		}
	}
	assert.Len(t, seen, 400)

	_, ok := f.WorldToGrid(geom.V(-10, -10))
	assert.True(t, ok, "lower edge is inclusive")
	for _, p := range []geom.Vec{
		geom.V(10, 0), geom.V(0, 10), geom.V(-10.0001, 0), geom.V(0, -10.5),
		geom.V(math.NaN(), 0), geom.V(math.Inf(1), 0),
	} {
		_, ok := f.WorldToGrid(p)
		assert.False(t, ok, "point %+v should be off-grid", p)
	}

	// Cells wider than one unit still cover the last strip of the world.
	coarse := newTestField(t, 20, 2.5, 1)
	require.Equal(t, 8, coarse.Side())
	hits := make(map[int]int)
	for y := -10.0; y < 10; y += 0.5 {
		for x := -10.0; x < 10; x += 0.5 {
			idx, ok := coarse.WorldToGrid(geom.V(x, y))
			require.True(t, ok, "point (%f, %f) should map", x, y)
			hits[idx]++
		}
	}
	assert.Len(t, hits, 64)
	for idx, n := range hits {
		assert.Equal(t, 25, n, "cell %d", idx)
	}
	idx, ok := coarse.WorldToGrid(geom.V(math.Nextafter(10, 0), math.Nextafter(10, 0)))
	require.True(t, ok)
	assert.Equal(t, 63, idx)

	_, err := New(Config{WorldSize: 1000, CellSize: 3})
	assert.Error(t, err, "a partial last cell would leave a strip unmapped")
}

func TestSampleDirectionalAveragesNeighbourhood(t *testing.T) {
	f := newTestField(t, 100, 1, 1)
	target := geom.V(10.5, 0.5)
	f.Deposit(target, Nest, 9)
	got := f.SampleDirectional(geom.V(0.5, 0.5), 0, 10, Nest)
	assert.InDelta(t, 1.0, got, 1e-9)
	assert.Equal(t, 0.0, f.SampleDirectional(geom.V(0, 0), 0, 80, Nest))
}

func TestSampleAllDirectionsFindsDeposit(t *testing.T) {
	f := newTestField(t, 200, 1, 1)
	origin := geom.V(0.5, 0.5)
	f.Deposit(origin.Add(geom.FromAngle(DirectionAngle(2)).Scale(DefaultSenseDistance)), Food, 18)
	samples := f.SampleAllDirections(origin, Food)
	best := 0
	for i := range samples {
		if samples[i] > samples[best] {
			best = i
		}
	}
	assert.Equal(t, 2, best)
	assert.Greater(t, samples[2], 0.0)
}

func TestEvaporationIsolation(t *testing.T) {
	f := newTestField(t, 10, 1, 1)
	for i := range f.values[Food] {
		f.values[Food][i] = float64(i) * 0.5
		f.values[Alarm][i] = 3
	}
	before := f.CopyValues(Food, nil)
	evap := NewRates(0.1, 0.2, 0.5)
	f.Update(evap, NewRates(0, 0, 0))
	for i, v := range f.values[Food] {
		require.Equal(t, before[i]*(1-evap[Food]), v, "cell %d", i)
		require.Equal(t, 3*(1-evap[Alarm]), f.values[Alarm][i], "cell %d", i)
	}
}

func TestDiffusionSteadyStateOnUniformField(t *testing.T) {
	f := newTestField(t, 16, 1, 3)
	for i := range f.values[Nest] {
		f.values[Nest][i] = 4.2
	}
	for _, rate := range []float64{0.05, 0.5, 1} {
		f.Update(NewRates(0, 0, 0), NewRates(0, rate, 0))
		for i, v := range f.values[Nest] {
			require.InDelta(t, 4.2, v, 1e-12, "cell %d rate %f", i, rate)
		}
	}
}

func TestDiffusionConservesInteriorMassAndSkipsEdges(t *testing.T) {
	f := newTestField(t, 11, 1, 1)
	centre := geom.V(0.2, 0.2)
	f.Deposit(centre, Food, 90)
	f.Update(NewRates(0, 0, 0), NewRates(1, 0, 0))
	assert.InDelta(t, 10, f.At(centre, Food), 1e-9)
	assert.InDelta(t, 90, f.Sum(Food), 1e-9)

	edge := newTestField(t, 11, 1, 1)
	corner := geom.V(-5.5, -5.5)
	edge.Deposit(corner, Food, 9)
	edge.Update(NewRates(0, 0, 0), NewRates(1, 0, 0))
	assert.Equal(t, 9.0, edge.At(corner, Food), "outer ring is not diffused")
}

func TestParallelUpdateMatchesSequential(t *testing.T) {
	seq := newTestField(t, 64, 1, 1)
	par := newTestField(t, 64, 1, 7)
	for i := 0; i < 200; i++ {
		p := geom.V(float64(i%37)-18, float64((i*7)%41)-20)
		for _, ch := range Channels {
			seq.Deposit(p, ch, float64(i%5)+1)
			par.Deposit(p, ch, float64(i%5)+1)
		}
	}
	evap := NewRates(0.01, 0.02, 0.1)
	diff := NewRates(0.12, 0.05, 0.2)
	for i := 0; i < 5; i++ {
		seq.Update(evap, diff)
		par.Update(evap, diff)
	}
	for _, ch := range Channels {
		assert.Equal(t, seq.CopyValues(ch, nil), par.CopyValues(ch, nil), "channel %s", ch)
	}
}

func TestValuesNeverNegative(t *testing.T) {
	f := newTestField(t, 32, 1, 2)
	f.Deposit(geom.V(1, 1), Alarm, 5)
	for i := 0; i < 50; i++ {
		f.Update(NewRates(0.3, 0.3, 0.3), NewRates(0.9, 0.9, 0.9))
	}
	for _, ch := range Channels {
		for _, v := range f.CopyValues(ch, nil) {
			require.GreaterOrEqual(t, v, 0.0)
		}
	}
}

func TestResetZeroesField(t *testing.T) {
	f := newTestField(t, 32, 1, 1)
	f.Deposit(geom.V(1, 1), Food, 5)
	f.Reset()
	assert.Equal(t, 0.0, f.Max(Food))
}
