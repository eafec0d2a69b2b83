package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestBetaKellyPosteriorUpdates(t *testing.T) {
	model := NewBetaKelly(1, 1, 0.5, 1)
	require.InDelta(t, 0.5, model.WinProbability(), 1e-12)
	require.True(t, model.Allow())

	model.Update(true)
	model.Update(true)
	model.Update(false)
	// Beta(3,2): mean 0.6, kelly 0.2.
	require.InDelta(t, 0.6, model.WinProbability(), 1e-12)
	require.InDelta(t, 0.2, model.Fraction(), 1e-12)
}

func TestBetaKellyKeepsUpdatingBelowGate(t *testing.T) {
	model := NewBetaKelly(1, 1, 0.55, 1)
	for i := 0; i < 5; i++ {
		model.Update(false)
	}
	require.False(t, model.Allow())
	require.Zero(t, model.Fraction())

	// Wins while gated must still move the posterior.
	for i := 0; i < 20; i++ {
		model.Update(true)
	}
	require.True(t, model.Allow())
	require.Greater(t, model.Fraction(), 0.0)
}

func TestBetaKellyFractionCappedAtFmax(t *testing.T) {
	model := NewBetaKelly(1, 1, 0.5, 0.25)
	for i := 0; i < 50; i++ {
		model.Update(true)
	}
	require.Equal(t, 0.25, model.Fraction())
}

func TestFractionalKellyClamps(t *testing.T) {
	// prob 0.6, payoff 1.0 -> raw kelly 0.2; half-kelly 0.1.
	require.InDelta(t, 0.1, FractionalKelly(0.6, 1.0, 0.5, 0.01, 0.5), 1e-12)
	// Hopeless edge clamps to the floor.
	require.Equal(t, 0.01, FractionalKelly(0.1, 1.0, 0.5, 0.01, 0.5))
	// Huge edge clamps to the ceiling.
	require.Equal(t, 0.5, FractionalKelly(0.99, 5.0, 1.0, 0.01, 0.5))
	// Degenerate payoff returns the floor rather than dividing by zero.
	require.Equal(t, 0.01, FractionalKelly(0.6, 0, 0.5, 0.01, 0.5))
}

func TestClampNotional(t *testing.T) {
	min := decimal.NewFromInt(100)
	max := decimal.NewFromInt(10000)
	require.True(t, ClampNotional(decimal.NewFromInt(50), min, max).Equal(min))
	require.True(t, ClampNotional(decimal.NewFromInt(20000), min, max).Equal(max))
	require.True(t, ClampNotional(decimal.NewFromInt(500), min, max).Equal(decimal.NewFromInt(500)))
}
