// Package filter implements the causal per-symbol smoothing stack: a 1-D
// constant-velocity Kalman filter, a second-order Butterworth low-pass and an
// exponential moving average, chained by Bank into signal frames.
package filter

// Kalman tracks price and velocity with a constant-velocity model.
// The zero value is unusable; construct with NewKalman.
type Kalman struct {
	q  float64
	r  float64
	dt float64

	x      float64
	v      float64
	p00    float64
	p01    float64
	p10    float64
	p11    float64
	primed bool
}

// NewKalman builds a filter with process variance q, measurement variance r
// and sample spacing dt.
func NewKalman(q, r, dt float64) *Kalman {
	k := &Kalman{
		q:      q,
		r:      r,
		dt:     dt,
		x:      0,
		v:      0,
		p00:    0,
		p01:    0,
		p10:    0,
		p11:    0,
		primed: false,
	}
	k.Reset()
	return k
}

// Reset clears state so the next observation re-seeds the filter.
func (k *Kalman) Reset() {
	k.x = 0
	k.v = 0
	k.p00 = 1
	k.p01 = 0
	k.p10 = 0
	k.p11 = 1
	k.primed = false
}

// Step consumes one price and returns (filtered price, velocity, uncertainty).
// The first observation seeds the state and echoes the price back.
func (k *Kalman) Step(price float64) (float64, float64, float64) {
	if !k.primed {
		k.x = price
		k.v = 0
		k.primed = true
		return price, 0, k.p00
	}

	// Predict.
	x := k.x + k.v*k.dt
	v := k.v
	p00 := k.p00 + k.dt*(k.p01+k.p10) + k.dt*k.dt*k.p11 + k.q
	p01 := k.p01 + k.dt*k.p11
	p10 := k.p10 + k.dt*k.p11
	p11 := k.p11 + k.q

	// Update.
	innovation := price - x
	s := p00 + k.r
	g0 := p00 / s
	g1 := p10 / s

	k.x = x + g0*innovation
	k.v = v + g1*innovation
	k.p00 = (1 - g0) * p00
	k.p01 = (1 - g0) * p01
	k.p10 = p10 - g1*p00
	k.p11 = p11 - g1*p01

	return k.x, k.v, k.p00
}
