package filter

import (
	"strings"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

// Config carries the tunables for one filter bank instance.
type Config struct {
	KalmanQ           float64 `yaml:"kalman_q"`
	KalmanR           float64 `yaml:"kalman_r"`
	KalmanDT          float64 `yaml:"kalman_dt"`
	ButterworthCutoff float64 `yaml:"butterworth_cutoff"`
	ButterworthOrder  int     `yaml:"butterworth_order"`
	EMASpan           int     `yaml:"ema_span"`
}

func (c Config) withDefaults() Config {
	if c.KalmanQ <= 0 {
		c.KalmanQ = 1e-5
	}
	if c.KalmanR <= 0 {
		c.KalmanR = 0.01
	}
	if c.KalmanDT <= 0 {
		c.KalmanDT = 1
	}
	if c.ButterworthCutoff <= 0 {
		c.ButterworthCutoff = 0.1
	}
	if c.ButterworthOrder <= 0 {
		c.ButterworthOrder = 2
	}
	if c.EMASpan <= 0 {
		c.EMASpan = 20
	}
	return c
}

// Bank chains Kalman, Butterworth and EMA for one symbol and emits one
// signal frame per consumed bar.
type Bank struct {
	symbol string
	vendor string
	kalman *Kalman
	butter *Butterworth
	ema    *EMA
}

// NewBank constructs the chained filters for the given symbol.
func NewBank(symbol, vendor string, cfg Config) (*Bank, error) {
	cfg = cfg.withDefaults()
	butter, err := NewButterworth(cfg.ButterworthCutoff, cfg.ButterworthOrder)
	if err != nil {
		return nil, err
	}
	return &Bank{
		symbol: strings.ToUpper(strings.TrimSpace(symbol)),
		vendor: strings.ToLower(strings.TrimSpace(vendor)),
		kalman: NewKalman(cfg.KalmanQ, cfg.KalmanR, cfg.KalmanDT),
		butter: butter,
		ema:    NewEMA(cfg.EMASpan),
	}, nil
}

// Reset clears every filter; callers invoke it before each batch run.
func (b *Bank) Reset() {
	b.kalman.Reset()
	b.butter.Reset()
	b.ema.Reset()
}

// Step consumes one bar close and emits the enriched frame.
func (b *Bank) Step(bar schema.Bar) schema.SignalFrame {
	filtered, velocity, uncertainty := b.kalman.Step(bar.Close)
	smoothed := b.butter.Step(bar.Close)
	ema := b.ema.Step(bar.Close)

	return schema.SignalFrame{
		Symbol:           b.symbol,
		Vendor:           b.vendor,
		Timestamp:        bar.Timestamp,
		Price:            bar.Close,
		Volume:           bar.Volume,
		FilteredPrice:    filtered,
		Velocity:         velocity,
		Uncertainty:      uncertainty,
		ButterworthPrice: smoothed,
		EMAPrice:         ema,
	}
}

// Run resets the bank and maps a full bar sequence to frames.
func (b *Bank) Run(bars *schema.Bars) []schema.SignalFrame {
	b.Reset()
	if bars.Len() == 0 {
		return nil
	}
	frames := make([]schema.SignalFrame, 0, bars.Len())
	for _, bar := range bars.Data {
		frames = append(frames, b.Step(bar))
	}
	return frames
}
