package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestRandomDeterministic(t *testing.T) {
	a := NewTestRandom(42)
	b := NewTestRandom(42)

	for i := 0; i < 20; i++ {
		av, err := a.IntN(1000)
		require.NoError(t, err)
		bv, err := b.IntN(1000)
		require.NoError(t, err)
		assert.Equal(t, av, bv)
	}
}

func TestTestRandomIntNRejectsNonPositiveBound(t *testing.T) {
	r := NewTestRandom(1)
	_, err := r.IntN(0)
	assert.ErrorIs(t, err, ErrNonPositiveBound)
}

func TestChoiceRejectsEmptySequence(t *testing.T) {
	r := NewTestRandom(1)
	_, err := Choice(r, []int{})
	assert.ErrorIs(t, err, ErrEmptySequence)
}

func TestChoicePicksFromSequence(t *testing.T) {
	r := NewTestRandom(7)
	seq := []string{"a", "b", "c"}
	v, err := Choice(r, seq)
	require.NoError(t, err)
	assert.Contains(t, seq, v)
}
