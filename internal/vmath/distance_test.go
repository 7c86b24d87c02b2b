package vmath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineDistance(t *testing.T) {
	cosine, err := FuncFor(Cosine, false)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, cosine([]float32{1, 0, 0}, []float32{1, 0, 0}), 1e-6)
	assert.InDelta(t, 1.0, cosine([]float32{1, 0, 0}, []float32{0, 1, 0}), 1e-6)
	assert.InDelta(t, 2.0, cosine([]float32{1, 0, 0}, []float32{-1, 0, 0}), 1e-6)
}

func TestCosineZeroNormIsInf(t *testing.T) {
	cosine, err := FuncFor(Cosine, false)
	require.NoError(t, err)

	d := cosine([]float32{0, 0, 0}, []float32{1, 0, 0})
	assert.True(t, math.IsInf(float64(d), 1), "zero-norm cosine must be +Inf, got %v", d)
	assert.False(t, math.IsNaN(float64(d)))
}

func TestCosineNormalizedReduction(t *testing.T) {
	full, err := FuncFor(Cosine, false)
	require.NoError(t, err)
	reduced, err := FuncFor(Cosine, true)
	require.NoError(t, err)

	a := []float32{0.6, 0.8, 0}
	b := []float32{0, 0.6, 0.8}
	assert.InDelta(t, full(a, b), reduced(a, b), 1e-6)
}

func TestEuclideanDistance(t *testing.T) {
	euclidean, err := FuncFor(Euclidean, false)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, euclidean([]float32{0, 0}, []float32{3, 4}), 1e-6)
	assert.InDelta(t, 0.0, euclidean([]float32{1, 2}, []float32{1, 2}), 1e-6)
}

func TestDotDistance(t *testing.T) {
	dot, err := FuncFor(Dot, false)
	require.NoError(t, err)

	// Lower is closer: a larger inner product gives a smaller distance
	near := dot([]float32{1, 1}, []float32{2, 2})
	far := dot([]float32{1, 1}, []float32{0.1, 0.1})
	assert.Less(t, near, far)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, Normalize(v))
	assert.InDelta(t, 1.0, Norm(v), 1e-6)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.False(t, Normalize(zero))
}

func TestFinite(t *testing.T) {
	assert.True(t, Finite([]float32{1, -2, 0}))
	assert.False(t, Finite([]float32{1, float32(math.NaN())}))
	assert.False(t, Finite([]float32{float32(math.Inf(1))}))
}

func TestScoreMaps(t *testing.T) {
	assert.InDelta(t, 1.0, ScoreOneMinus.Score(0), 1e-6)
	assert.InDelta(t, 0.0, ScoreOneMinus.Score(1), 1e-6)
	assert.Equal(t, float32(0), ScoreOneMinus.Score(2)) // clamped

	assert.InDelta(t, 1.0, ScoreInverse.Score(0), 1e-6)
	assert.InDelta(t, 0.5, ScoreInverse.Score(1), 1e-6)
	assert.Equal(t, float32(0), ScoreInverse.Score(float32(math.Inf(1))))

	// Dot distance -a.b: a large positive product scores toward 1
	assert.Greater(t, ScoreSigmoid.Score(-10), float32(0.99))
	assert.Less(t, ScoreSigmoid.Score(10), float32(0.01))
	assert.InDelta(t, 0.5, ScoreSigmoid.Score(0), 1e-6)
}

func TestScoreMapRoundTrip(t *testing.T) {
	for _, sm := range []ScoreMap{ScoreOneMinus, ScoreInverse, ScoreSigmoid} {
		parsed, err := ParseScoreMap(sm.String())
		require.NoError(t, err)
		assert.Equal(t, sm, parsed)
	}
	_, err := ParseScoreMap("bogus")
	assert.Error(t, err)
}

func TestMetricRoundTrip(t *testing.T) {
	for _, m := range []Metric{Cosine, Euclidean, Dot} {
		parsed, err := ParseMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseMetric("hamming")
	assert.Error(t, err)
}

func TestHeapOrdering(t *testing.T) {
	min := NewMinHeap(8)
	max := NewMaxHeap(8)
	for _, c := range []Candidate{{ID: 3, Distance: 0.5}, {ID: 1, Distance: 0.2}, {ID: 2, Distance: 0.9}} {
		min.PushCandidate(c)
		max.PushCandidate(c)
	}

	assert.Equal(t, uint32(1), min.PopCandidate().ID)
	assert.Equal(t, uint32(2), max.PopCandidate().ID)
}

func TestHeapTieBreakByID(t *testing.T) {
	min := NewMinHeap(8)
	for _, id := range []uint32{5, 2, 9, 1} {
		min.PushCandidate(Candidate{ID: id, Distance: 0.5})
	}

	var order []uint32
	for min.Len() > 0 {
		order = append(order, min.PopCandidate().ID)
	}
	assert.Equal(t, []uint32{1, 2, 5, 9}, order)
}

func TestMaxHeapSorted(t *testing.T) {
	max := NewMaxHeap(8)
	max.PushCandidate(Candidate{ID: 1, Distance: 0.9})
	max.PushCandidate(Candidate{ID: 2, Distance: 0.1})
	max.PushCandidate(Candidate{ID: 3, Distance: 0.5})

	sorted := max.Sorted()
	assert.Equal(t, []uint32{2, 3, 1}, []uint32{sorted[0].ID, sorted[1].ID, sorted[2].ID})
}
