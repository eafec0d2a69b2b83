package alpaca

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
	streamReadLimit            = 2 * 1024 * 1024
	streamMaxReconnectInterval = 30 * time.Second
)

type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type subscribeRequest struct {
	Action string   `json:"action"`
	Bars   []string `json:"bars"`
}

type streamMessage struct {
	T  string          `json:"T"`
	S  string          `json:"S"`
	TS json.RawMessage `json:"t"`
	O  float64         `json:"o"`
	H  float64         `json:"h"`
	L  float64         `json:"l"`
	C  float64         `json:"c"`
	V  float64         `json:"v"`
}

// StreamBars implements vendors.StreamingClient. The channel closes when ctx
// is cancelled; disconnects reconnect internally with bounded backoff.
func (c *Client) StreamBars(ctx context.Context, symbols []string, _ schema.Interval) (<-chan schema.RawEvent, error) {
	if !c.hasCredentials() {
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

	endpoint := c.opts.StreamBase + "/" + c.opts.Feed
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

		if err := c.handshake(ctx, conn, symbols); err != nil {
			c.opts.Logger.Printf("vendor=%s stream handshake: %v", vendorName, err)
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

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn, symbols []string) error {
	auth, err := json.Marshal(authRequest{Action: "auth", Key: c.opts.Key, Secret: c.opts.Secret})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, auth); err != nil {
		return err
	}
	sub, err := json.Marshal(subscribeRequest{Action: "subscribe", Bars: symbols})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, sub)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- schema.RawEvent) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var messages []streamMessage
		if err := json.Unmarshal(data, &messages); err != nil {
			// Non-JSON frames are part of the protocol noise; skip quietly.
			c.opts.Logger.Printf("vendor=%s stream skip non-json frame", vendorName)
			continue
		}
		for _, msg := range messages {
			if msg.T != "b" || msg.S == "" {
				continue
			}
			ts, ok := parseTimestamp(msg.TS)
			if !ok {
				continue
			}
			event := schema.RawEvent{
				Symbol:    strings.ToUpper(msg.S),
				Timestamp: ts,
				Price:     msg.C,
				Volume:    msg.V,
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
