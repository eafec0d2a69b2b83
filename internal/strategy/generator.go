package strategy

import (
	"math"

	"github.com/zsh04/ai-trader-sub000/errs"
)

// Generator derives event columns from a bar frame. Implementations are pure:
// the input frame is never mutated and equal inputs yield equal outputs.
type Generator interface {
	Name() string
	Generate(f *Frame, params map[string]any) (*Frame, error)
}

// errNoCloseColumn reports a frame that carries none of the close candidates.
func errNoCloseColumn(name string) error {
	return errs.New(name, errs.CodeInvalid, errs.WithMessage("frame has no close price column"))
}

// resolveHighs prefers the high column and falls back to closes when the
// frame carries no highs.
func resolveHighs(f *Frame, closes []float64) []float64 {
	if highs, ok := f.Numeric(ColHigh); ok {
		return highs
	}
	return closes
}

// ApplyGates ands the probabilistic gates into the entry series. The velocity
// gate engages only when the frame carries a velocity column, the regime gate
// only when both the label column and a whitelist parameter are present.
func ApplyGates(f *Frame, entries []bool, params map[string]any) {
	if velocity, ok := f.Numeric(ColProbVelocity); ok {
		minVelocity := floatParam(params, "min_prob_velocity", 0.0)
		for i := range entries {
			if !entries[i] {
				continue
			}
			if math.IsNaN(velocity[i]) || velocity[i] < minVelocity {
				entries[i] = false
			}
		}
	}
	whitelist := stringListParam(params, "regime_whitelist")
	labels, hasLabels := f.Labels(ColRegimeLabel)
	if len(whitelist) == 0 || !hasLabels {
		return
	}
	allowed := make(map[string]struct{}, len(whitelist))
	for _, label := range whitelist {
		allowed[label] = struct{}{}
	}
	for i := range entries {
		if !entries[i] {
			continue
		}
		if _, ok := allowed[labels[i]]; !ok {
			entries[i] = false
		}
	}
}
