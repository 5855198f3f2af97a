package application

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkhlop/nist-news-trec/internal/module/normalize/domain"
)

func testStats() domain.FieldStats {
	return domain.FieldStats{
		Min:   []float64{1, 1},
		Mean:  []float64{2, 2},
		Max:   []float64{3, 3},
		Std:   []float64{math.Sqrt(2.0 / 3.0), math.Sqrt(2.0 / 3.0)},
		Count: 3,
	}
}

func TestScale_Amplitude(t *testing.T) {
	st := testStats()

	out, err := Scale(domain.KindAmplitude, []float64{2, 2}, st, domain.DegeneracyPropagate)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, out)

	out, err = Scale(domain.KindAmplitude, st.Min, st, domain.DegeneracyPropagate)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, out)

	out, err = Scale(domain.KindAmplitude, st.Max, st, domain.DegeneracyPropagate)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, out)
}

func TestScale_Sigmoid(t *testing.T) {
	st := testStats()

	out, err := Scale(domain.KindSigmoid, []float64{2, 3}, st, domain.DegeneracyPropagate)
	require.NoError(t, err)
	assert.Equal(t, 0.5, out[0])
	// (3-2)/std*2 ≈ 2.449
	assert.InDelta(t, 1/(1+math.Exp(-2.449489742783178)), out[1], 1e-12)
}

func TestScale_None(t *testing.T) {
	in := []float64{9, -9, 0.25}
	out, err := Scale(domain.KindNone, in, domain.FieldStats{}, domain.DegeneracyPropagate)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out[0] = 1
	assert.Equal(t, 9.0, in[0])
}

func TestScale_Degenerate(t *testing.T) {
	st := domain.FieldStats{
		Min:  []float64{1, 1, 1},
		Mean: []float64{1, 1, 1},
		Max:  []float64{1, 1, 1},
		Std:  []float64{0, 0, 0},
	}
	in := []float64{1, 2, 0}

	out, err := Scale(domain.KindAmplitude, in, st, domain.DegeneracyPropagate)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsInf(out[1], 1))
	assert.True(t, math.IsInf(out[2], -1))

	out, err = Scale(domain.KindAmplitude, in, st, domain.DegeneracyNeutral)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, out)

	out, err = Scale(domain.KindSigmoid, in, st, domain.DegeneracyNeutral)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, out)

	// std=0 のシグモイドは 0/0 → NaN、正負の偏差は 1 / 0
	out, err = Scale(domain.KindSigmoid, in, st, domain.DegeneracyPropagate)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(out[0]))
	assert.Equal(t, 1.0, out[1])
	assert.Equal(t, 0.0, out[2])
}

func TestScale_DimensionMismatch(t *testing.T) {
	_, err := Scale(domain.KindAmplitude, []float64{1}, testStats(), domain.DegeneracyPropagate)
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
}
