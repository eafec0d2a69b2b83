package filter

import (
	"math"

	"github.com/zsh04/ai-trader-sub000/errs"
)

const (
	butterMinCutoff = 1e-5
	butterMaxCutoff = 0.49
)

// Butterworth is a second-order low-pass biquad in direct-form II transposed.
type Butterworth struct {
	b0 float64
	b1 float64
	b2 float64
	a1 float64
	a2 float64

	z1 float64
	z2 float64
}

// NewButterworth derives coefficients once from the cutoff expressed as a
// fraction of Nyquist. The cutoff is clamped to (1e-5, 0.49); only order 2 is
// supported.
func NewButterworth(cutoff float64, order int) (*Butterworth, error) {
	if order != 2 {
		return nil, errs.New("", errs.CodeInvalid, errs.WithMessage("butterworth order must be 2"))
	}
	if cutoff < butterMinCutoff {
		cutoff = butterMinCutoff
	}
	if cutoff > butterMaxCutoff {
		cutoff = butterMaxCutoff
	}

	k := math.Tan(math.Pi * cutoff / 2)
	k2 := k * k
	norm := 1 / (1 + math.Sqrt2*k + k2)

	return &Butterworth{
		b0: k2 * norm,
		b1: 2 * k2 * norm,
		b2: k2 * norm,
		a1: 2 * (k2 - 1) * norm,
		a2: (1 - math.Sqrt2*k + k2) * norm,
		z1: 0,
		z2: 0,
	}, nil
}

// Reset clears the delay line; the first two samples after a reset run the
// degraded short-history forms.
func (f *Butterworth) Reset() {
	f.z1 = 0
	f.z2 = 0
}

// Step feeds one sample through the difference equation.
func (f *Butterworth) Step(x float64) float64 {
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}
