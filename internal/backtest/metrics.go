package backtest

import "math"

const tradingDaysPerYear = 252

// Metrics summarises an equity curve.
type Metrics struct {
	Sharpe      float64 `json:"sharpe"`
	Sortino     float64 `json:"sortino"`
	MaxDrawdown float64 `json:"max_drawdown"`
	CAGR        float64 `json:"cagr"`
}

// computeMetrics derives ratios from the mark-to-market curve. Returns are
// per-bar and annualised assuming daily bars; a curve too short to produce a
// return series yields zeroes.
func computeMetrics(points []Point, initial float64) Metrics {
	var m Metrics
	if len(points) < 2 || initial <= 0 {
		return m
	}
	returns := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].EquityMTM
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, points[i].EquityMTM/prev-1)
	}

	mean := meanOf(returns)
	std := stdOf(returns, mean)
	if std > 0 {
		m.Sharpe = mean / std * math.Sqrt(tradingDaysPerYear)
	}
	downside := downsideStd(returns)
	if downside > 0 {
		m.Sortino = mean / downside * math.Sqrt(tradingDaysPerYear)
	}

	peak := points[0].EquityMTM
	for _, p := range points {
		if p.EquityMTM > peak {
			peak = p.EquityMTM
		}
		if peak > 0 {
			if dd := (peak - p.EquityMTM) / peak; dd > m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
	}

	final := points[len(points)-1].EquityMTM
	years := points[len(points)-1].TS.Sub(points[0].TS).Hours() / (24 * 365.25)
	if years <= 0 {
		years = float64(len(points)-1) / tradingDaysPerYear
	}
	if years > 0 && final > 0 {
		m.CAGR = math.Pow(final/initial, 1/years) - 1
	}
	return m
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func downsideStd(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		if v < 0 {
			sum += v * v
		}
	}
	return math.Sqrt(sum / float64(len(values)))
}
