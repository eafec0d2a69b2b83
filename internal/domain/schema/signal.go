package schema

import (
	"time"

	"github.com/zsh04/ai-trader-sub000/errs"
)

// SignalFrame is one bar enriched by the causal filter bank.
type SignalFrame struct {
	Symbol           string    `json:"symbol"`
	Vendor           string    `json:"vendor"`
	Timestamp        time.Time `json:"timestamp"`
	Price            float64   `json:"price"`
	Volume           float64   `json:"volume"`
	FilteredPrice    float64   `json:"filtered_price"`
	Velocity         float64   `json:"velocity"`
	Uncertainty      float64   `json:"uncertainty"`
	ButterworthPrice float64   `json:"butterworth_price"`
	EMAPrice         float64   `json:"ema_price"`
}

// Regime is the categorical market-state label.
type Regime string

const (
	// RegimeTrendUp marks low-volatility upward drift.
	RegimeTrendUp Regime = "trend_up"
	// RegimeTrendDown marks low-volatility downward drift.
	RegimeTrendDown Regime = "trend_down"
	// RegimeSideways marks mid-band volatility without direction.
	RegimeSideways Regime = "sideways"
	// RegimeCalm marks low volatility without direction.
	RegimeCalm Regime = "calm"
	// RegimeHighVolatility marks volatility above the high threshold.
	RegimeHighVolatility Regime = "high_volatility"
	// RegimeUncertain marks filter uncertainty above the trust threshold.
	RegimeUncertain Regime = "uncertain"
	// RegimeUnknown is the zero state before any classification.
	RegimeUnknown Regime = "unknown"
)

// RegimeSnapshot captures the classified state for one frame.
type RegimeSnapshot struct {
	Symbol      string    `json:"symbol"`
	Timestamp   time.Time `json:"timestamp"`
	Regime      Regime    `json:"regime"`
	Volatility  float64   `json:"volatility"`
	Uncertainty float64   `json:"uncertainty"`
	Momentum    float64   `json:"momentum"`
}

// ProbabilisticBatch is the synchronous fetch product: bars, signals, regimes, artifact paths.
type ProbabilisticBatch struct {
	Bars       *Bars             `json:"bars"`
	Signals    []SignalFrame     `json:"signals"`
	Regimes    []RegimeSnapshot  `json:"regimes"`
	CachePaths map[string]string `json:"cache_paths,omitempty"`
}

// Validate enforces the batch length coherence law.
func (b *ProbabilisticBatch) Validate() error {
	if b == nil {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("nil batch"))
	}
	bars := b.Bars.Len()
	if len(b.Signals) != bars || len(b.Regimes) != bars {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("batch bars, signals and regimes must have equal length"))
	}
	return nil
}

// ProbabilisticStreamFrame pairs one live signal with its regime snapshot.
type ProbabilisticStreamFrame struct {
	Signal SignalFrame    `json:"signal"`
	Regime RegimeSnapshot `json:"regime"`
}

// RawEvent is the vendor-agnostic live tick consumed by the streaming manager.
type RawEvent struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
}
