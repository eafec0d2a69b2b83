// Package risk implements the position-sizing models shared by the backtest
// engine and the orchestration router.
package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// BetaKelly maintains a Beta(alpha, beta) posterior over the per-trade win
// probability and derives a capped Kelly fraction from its mean. Wins and
// losses keep updating the posterior even while the gate is closed, so the
// model can recover after a cold streak.
type BetaKelly struct {
	alpha float64
	beta  float64
	gate  float64
	fmax  float64
}

// NewBetaKelly seeds the posterior. Non-positive priors fall back to the
// uniform Beta(1,1); gate defaults to 0.5 and fmax to 1.
func NewBetaKelly(alpha, beta, gate, fmax float64) *BetaKelly {
	if alpha <= 0 {
		alpha = 1
	}
	if beta <= 0 {
		beta = 1
	}
	if gate <= 0 {
		gate = 0.5
	}
	if fmax <= 0 || fmax > 1 {
		fmax = 1
	}
	return &BetaKelly{alpha: alpha, beta: beta, gate: gate, fmax: fmax}
}

// WinProbability is the posterior mean alpha/(alpha+beta).
func (m *BetaKelly) WinProbability() float64 {
	return m.alpha / (m.alpha + m.beta)
}

// Allow reports whether the posterior mean clears the entry gate.
func (m *BetaKelly) Allow() bool {
	return m.WinProbability() >= m.gate
}

// Fraction returns the capped Kelly fraction max(0, 2p-1), bounded by fmax.
func (m *BetaKelly) Fraction() float64 {
	kelly := 2*m.WinProbability() - 1
	if kelly < 0 {
		return 0
	}
	return math.Min(kelly, m.fmax)
}

// Update folds one trade outcome into the posterior.
func (m *BetaKelly) Update(win bool) {
	if win {
		m.alpha++
	} else {
		m.beta++
	}
}

// FractionalKelly sizes a bet as a scaled Kelly criterion,
// clamp(((prob*(payoff+1)-1)/payoff)*fraction, minF, maxF).
func FractionalKelly(prob, payoff, fraction, minF, maxF float64) float64 {
	if payoff <= 0 {
		return minF
	}
	kelly := ((prob*(payoff+1) - 1) / payoff) * fraction
	return clamp(kelly, minF, maxF)
}

// ClampNotional bounds a decimal notional to the [min, max] envelope.
func ClampNotional(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
