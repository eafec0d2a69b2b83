package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zsh04/ai-trader-sub000/errs"
)

// TradeSide distinguishes buy and sell intents.
type TradeSide string

const (
	// TradeSideBuy marks a long entry intent.
	TradeSideBuy TradeSide = "buy"
	// TradeSideSell marks an exit or short intent.
	TradeSideSell TradeSide = "sell"
)

// IntentRisk carries the sizing inputs attached to an order intent.
type IntentRisk struct {
	KellyFraction  float64         `json:"kelly_fraction"`
	Probability    float64         `json:"probability"`
	Payoff         float64         `json:"payoff"`
	TargetNotional decimal.Decimal `json:"target_notional"`
}

// Fill is one execution report attached to an order intent event.
type Fill struct {
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// OrderIntent is the router's terminal product: a sized, risk-bounded order request.
type OrderIntent struct {
	RunID         string          `json:"run_id"`
	Symbol        string          `json:"symbol"`
	Strategy      string          `json:"strategy"`
	Side          TradeSide       `json:"side"`
	Qty           int64           `json:"qty"`
	Notional      decimal.Decimal `json:"notional"`
	PriceHint     decimal.Decimal `json:"price_hint"`
	Params        map[string]any  `json:"params,omitempty"`
	Risk          IntentRisk      `json:"risk"`
	Timestamp     time.Time       `json:"timestamp"`
	BrokerOrderID string          `json:"broker_order_id,omitempty"`
	Fills         []Fill          `json:"fills,omitempty"`
}

// Validate enforces the minimum-quantity and identity invariants.
func (o OrderIntent) Validate() error {
	if o.RunID == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("order intent run_id required"))
	}
	if o.Symbol == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("order intent symbol required"))
	}
	if o.Side != TradeSideBuy && o.Side != TradeSideSell {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("order intent side must be buy or sell"))
	}
	if o.Qty < 1 {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("order intent qty must be at least 1"))
	}
	return nil
}
