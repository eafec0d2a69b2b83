package finnhub

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors"
)

const (
	streamReadLimit            = 1024 * 1024
	streamMaxReconnectInterval = 30 * time.Second
)

type subscribeRequest struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type tradeMessage struct {
	Type string        `json:"type"`
	Data []tradeRecord `json:"data"`
}

type tradeRecord struct {
	Symbol string  `json:"s"`
	Price  float64 `json:"p"`
	Volume float64 `json:"v"`
	TimeMS int64   `json:"t"`
}

// StreamBars implements vendors.StreamingClient over the trade feed. Each
// trade surfaces as one raw event; bar aggregation happens downstream.
func (c *Client) StreamBars(ctx context.Context, symbols []string, _ schema.Interval) (<-chan schema.RawEvent, error) {
	if strings.TrimSpace(c.opts.Token) == "" {
		return nil, vendors.ErrMissingCredentials(vendorName)
	}
	upper := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if trimmed := strings.ToUpper(strings.TrimSpace(symbol)); trimmed != "" {
			upper = append(upper, trimmed)
		}
	}

	out := make(chan schema.RawEvent, 256)
	go c.streamLoop(ctx, upper, out)
	return out, nil
}

func (c *Client) streamLoop(ctx context.Context, symbols []string, out chan<- schema.RawEvent) {
	defer close(out)

	endpoint := c.opts.StreamBase + "?token=" + c.opts.Token
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = streamMaxReconnectInterval

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.Dial(ctx, endpoint, nil)
		if err != nil {
			c.opts.Logger.Printf("vendor=%s stream dial: %v", vendorName, err)
			if !sleepCtx(ctx, nextBackoff(backoffCfg)) {
				return
			}
			continue
		}
		conn.SetReadLimit(streamReadLimit)

		if err := c.subscribeAll(ctx, conn, symbols); err != nil {
			c.opts.Logger.Printf("vendor=%s stream subscribe: %v", vendorName, err)
			_ = conn.Close(websocket.StatusNormalClosure, "")
			if !sleepCtx(ctx, nextBackoff(backoffCfg)) {
				return
			}
			continue
		}
		backoffCfg.Reset()

		if err := c.readLoop(ctx, conn, out); err != nil {
			c.opts.Logger.Printf("vendor=%s stream read: %v", vendorName, err)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if !sleepCtx(ctx, nextBackoff(backoffCfg)) {
			return
		}
	}
}

func (c *Client) subscribeAll(ctx context.Context, conn *websocket.Conn, symbols []string) error {
	for _, symbol := range symbols {
		payload, err := json.Marshal(subscribeRequest{Type: "subscribe", Symbol: symbol})
		if err != nil {
			return err
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- schema.RawEvent) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg tradeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.opts.Logger.Printf("vendor=%s stream skip non-json frame", vendorName)
			continue
		}
		if msg.Type != "trade" {
			continue
		}
		for _, trade := range msg.Data {
			if trade.Symbol == "" || trade.Price <= 0 {
				continue
			}
			event := schema.RawEvent{
				Symbol:    strings.ToUpper(trade.Symbol),
				Timestamp: time.UnixMilli(trade.TimeMS).UTC(),
				Price:     trade.Price,
				Volume:    trade.Volume,
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func nextBackoff(cfg *backoff.ExponentialBackOff) time.Duration {
	sleep := cfg.NextBackOff()
	if sleep == backoff.Stop || sleep <= 0 {
		sleep = streamMaxReconnectInterval
	}
	return sleep
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
