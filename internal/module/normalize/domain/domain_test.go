package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkhlop/nist-news-trec/internal/shared/apperr"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"amplitude": KindAmplitude,
		"Sigmoid":   KindSigmoid,
		"none":      KindNone,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseKind("zscore")
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestParseDegeneracyPolicy(t *testing.T) {
	got, err := ParseDegeneracyPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DegeneracyPropagate, got)

	got, err = ParseDegeneracyPolicy("neutral")
	require.NoError(t, err)
	assert.Equal(t, DegeneracyNeutral, got)

	_, err = ParseDegeneracyPolicy("clamp")
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestParseMode(t *testing.T) {
	got, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDisjoint, got)

	got, err = ParseMode("replay")
	require.NoError(t, err)
	assert.Equal(t, ModeReplay, got)

	_, err = ParseMode("both")
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}
