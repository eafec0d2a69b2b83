package consumer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/bus/eventbus"
	"github.com/zsh04/ai-trader-sub000/internal/infra/persistence/columnar"
)

// Launcher starts a remote sweep worker with the given environment bundle.
type Launcher interface {
	Launch(ctx context.Context, env map[string]string) error
}

// HTTPLauncher posts the environment bundle to a worker-pool start API.
type HTTPLauncher struct {
	Endpoint string
	Client   *http.Client
}

// Launch sends {"env": {...}} and treats any non-2xx status as failure.
func (l *HTTPLauncher) Launch(ctx context.Context, env map[string]string) error {
	body, err := json.Marshal(map[string]any{"env": env})
	if err != nil {
		return fmt.Errorf("launcher: encode env: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("launcher: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("launcher: start api: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("launcher: start api returned %s", resp.Status)
	}
	return nil
}

// SweepJobConsumerOptions wires a SweepJobConsumer.
type SweepJobConsumerOptions struct {
	Bus      eventbus.Bus
	Launcher Launcher
	Manifest *columnar.Manifest
	Logger   *log.Logger
	Clock    func() time.Time
}

// SweepJobConsumer subscribes to backtest.job events and hands each one to a
// remote worker pool, recording the dispatch outcome in the manifest.
type SweepJobConsumer struct {
	bus      eventbus.Bus
	launcher Launcher
	manifest *columnar.Manifest
	logger   *log.Logger
	now      func() time.Time

	started atomic.Bool
	cancel  context.CancelFunc
	subID   eventbus.SubscriptionID
	wg      conc.WaitGroup
}

// NewSweepJobConsumer validates the wiring.
func NewSweepJobConsumer(opts SweepJobConsumerOptions) (*SweepJobConsumer, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("consumer: bus required")
	}
	if opts.Launcher == nil {
		return nil, fmt.Errorf("consumer: launcher required")
	}
	if opts.Manifest == nil {
		return nil, fmt.Errorf("consumer: manifest required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &SweepJobConsumer{
		bus:      opts.Bus,
		launcher: opts.Launcher,
		manifest: opts.Manifest,
		logger:   logger,
		now:      now,
	}, nil
}

// Start subscribes and begins dispatching until Close or context cancel.
func (c *SweepJobConsumer) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("consumer: already started")
	}
	subID, events, err := c.bus.Subscribe(ctx, schema.TopicBacktestJob)
	if err != nil {
		c.started.Store(false)
		return err
	}
	c.subID = subID

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Go(func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				c.handle(runCtx, evt)
			}
		}
	})
	return nil
}

// Close stops the dispatch loop and waits for the in-flight event.
func (c *SweepJobConsumer) Close() {
	if !c.started.Load() {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.bus.Unsubscribe(c.subID)
	c.wg.Wait()
}

func (c *SweepJobConsumer) handle(ctx context.Context, evt schema.Event) {
	var payload schema.BacktestJobPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		c.logger.Printf("sweep consumer: skip event %s: %v", evt.EventID, err)
		return
	}

	env, err := envBundle(payload)
	if err != nil {
		c.logger.Printf("sweep consumer: encode env for %s: %v", payload.JobID, err)
		return
	}

	record := schema.SweepJobRecord{
		JobID:    payload.JobID,
		TS:       c.now().UTC(),
		Strategy: payload.Strategy,
		Symbol:   payload.Symbol,
	}
	if err := c.launcher.Launch(ctx, env); err != nil {
		record.Status = schema.SweepJobFailed
		record.Error = err.Error()
		c.logger.Printf("sweep consumer: dispatch %s: %v", payload.JobID, err)
	} else {
		record.Status = schema.SweepJobDispatched
	}
	if err := c.manifest.Append(record); err != nil {
		c.logger.Printf("sweep consumer: record %s: %v", payload.JobID, err)
	}
}

// envBundle flattens the job payload into worker environment variables.
func envBundle(payload schema.BacktestJobPayload) (map[string]string, error) {
	env := map[string]string{
		"SWEEP_JOB_ID":   payload.JobID,
		"SWEEP_STRATEGY": payload.Strategy,
		"SWEEP_SYMBOL":   payload.Symbol,
	}
	if len(payload.Params) > 0 {
		raw, err := json.Marshal(payload.Params)
		if err != nil {
			return nil, err
		}
		env["SWEEP_PARAMS"] = string(raw)
	}
	return env, nil
}
