package scoring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantile_OrderStatistic(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}
	// index ceil(99*q)
	assert.Equal(t, 51.0, Quantile(values, 0.5))
	assert.Equal(t, 91.0, Quantile(values, 0.90))
	assert.Equal(t, 100.0, Quantile(values, 0.99))
	assert.Equal(t, 1.0, Quantile(values, 0))
	assert.Equal(t, 100.0, Quantile(values, 1))
	assert.Equal(t, 0.0, Quantile(nil, 0.5))
}

func TestQuantile_OrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	values := make([]float64, 257)
	for i := range values {
		values[i] = rng.Float64()
	}
	want := Quantile(values, 0.85)
	for i := 0; i < 5; i++ {
		rng.Shuffle(len(values), func(a, b int) { values[a], values[b] = values[b], values[a] })
		assert.Equal(t, want, Quantile(values, 0.85))
	}
}

func TestQuantile_DoesNotMutate(t *testing.T) {
	values := []float64{3, 1, 2}
	Quantile(values, 0.5)
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestWindow(t *testing.T) {
	t.Run("single cell is degenerate", func(t *testing.T) {
		w := NewWindow([]float64{4}, 0.70, 0.85)
		assert.True(t, w.Degenerate)
		assert.Equal(t, 0.0, w.Relative(4))
	})
	t.Run("constant population is degenerate", func(t *testing.T) {
		w := NewWindow([]float64{2, 2, 2, 2}, 0.70, 0.85)
		assert.True(t, w.Degenerate)
		assert.Equal(t, 0.0, w.Relative(100))
	})
	t.Run("linear ramp", func(t *testing.T) {
		values := make([]float64, 21)
		for i := range values {
			values[i] = float64(i)
		}
		w := NewWindow(values, 0.70, 0.85)
		assert.Equal(t, 14.0, w.Low)
		assert.Equal(t, 17.0, w.High)
		assert.Equal(t, 0.0, w.Relative(10))
		assert.InDelta(t, 1.0/3, w.Relative(15), 1e-12)
		assert.Equal(t, 1.0, w.Relative(20))
	})
}
