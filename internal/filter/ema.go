package filter

// EMA is an exponential moving average with alpha = 2/(span+1).
type EMA struct {
	alpha  float64
	prev   float64
	primed bool
}

// NewEMA builds an average over the given span; spans below 1 clamp to 1.
func NewEMA(span int) *EMA {
	if span < 1 {
		span = 1
	}
	return &EMA{
		alpha:  2 / float64(span+1),
		prev:   0,
		primed: false,
	}
}

// Reset clears state so the next sample re-seeds the average.
func (e *EMA) Reset() {
	e.prev = 0
	e.primed = false
}

// Step consumes one price and returns the updated average.
func (e *EMA) Step(price float64) float64 {
	if !e.primed {
		e.prev = price
		e.primed = true
		return price
	}
	e.prev = e.alpha*price + (1-e.alpha)*e.prev
	return e.prev
}
