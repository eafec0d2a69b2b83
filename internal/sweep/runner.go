package sweep

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/zsh04/ai-trader-sub000/internal/backtest"
	"github.com/zsh04/ai-trader-sub000/internal/domain/orderstore"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/bus/eventbus"
	"github.com/zsh04/ai-trader-sub000/internal/infra/persistence/columnar"
	"github.com/zsh04/ai-trader-sub000/internal/infra/telemetry"
	"github.com/zsh04/ai-trader-sub000/lib/async"

	"github.com/zsh04/ai-trader-sub000/internal/strategy"
)

// FrameFunc supplies the base signal frame for the sweep window.
type FrameFunc func(ctx context.Context, symbol string, start, end *time.Time) (*strategy.Frame, error)

// Options wires a Runner. Registry, Frames, and Manifest are required; Runs,
// when present, receives one lifecycle row per sweep.
type Options struct {
	Config   Config
	Registry *strategy.Registry
	Frames   FrameFunc
	Bus      eventbus.Bus
	Manifest *columnar.Manifest
	Runs     orderstore.RunStore
	Logger   *log.Logger
}

// JobResult is one line of summary.jsonl and the content of a job's summary.json.
type JobResult struct {
	JobID         string           `json:"job_id"`
	Params        map[string]any   `json:"params"`
	Metrics       backtest.Metrics `json:"metrics"`
	EquityPath    string           `json:"equity_path,omitempty"`
	ProbFramePath string           `json:"prob_frame_path,omitempty"`
	DurationMS    int64            `json:"duration_ms"`
	Error         string           `json:"error,omitempty"`
}

// Summary aggregates a completed sweep.
type Summary struct {
	SweepID  string        `json:"sweep_id"`
	SweepDir string        `json:"sweep_dir"`
	Results  []JobResult   `json:"results"`
	Duration time.Duration `json:"duration"`
}

// Runner executes the expanded grid over a bounded worker pool.
type Runner struct {
	cfg      Config
	registry *strategy.Registry
	frames   FrameFunc
	bus      eventbus.Bus
	manifest *columnar.Manifest
	runs     orderstore.RunStore
	logger   *log.Logger

	instruments *telemetry.Instruments
}

// NewRunner validates the wiring.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("sweep: strategy registry required")
	}
	if opts.Frames == nil {
		return nil, fmt.Errorf("sweep: frame source required")
	}
	if opts.Manifest == nil {
		return nil, fmt.Errorf("sweep: jobs manifest required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Runner{
		cfg:         opts.Config,
		registry:    opts.Registry,
		frames:      opts.Frames,
		bus:         opts.Bus,
		manifest:    opts.Manifest,
		runs:        opts.Runs,
		logger:      logger,
		instruments: telemetry.NewInstruments("sweep"),
	}, nil
}

// Run expands the grid, executes every combination, and writes per-job and
// aggregate artifacts under a fresh timestamped sweep directory.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	begin := time.Now()
	sweepID := uuid.NewString()

	generator, err := r.registry.Lookup(r.cfg.Strategy)
	if err != nil {
		return nil, err
	}
	combos := ExpandParams(r.cfg.Params)
	if len(combos) == 0 {
		return nil, fmt.Errorf("sweep: parameter grid expands to zero combinations")
	}

	sweepDir := filepath.Join(r.cfg.OutputDir, begin.UTC().Format("20060102T150405Z"))
	if err := os.MkdirAll(sweepDir, 0o755); err != nil {
		return nil, fmt.Errorf("sweep: create sweep dir: %w", err)
	}

	r.appendManifest(schema.SweepJobRecord{
		JobID:    sweepID,
		Status:   schema.SweepJobRunning,
		TS:       begin.UTC(),
		Strategy: r.cfg.Strategy,
		Symbol:   r.cfg.Symbol,
		SweepDir: sweepDir,
	})
	r.recordRunStart(ctx, sweepID, begin)

	start, end, err := r.cfg.Window()
	if err != nil {
		r.failManifest(ctx, sweepID, sweepDir, begin, err)
		return nil, err
	}
	base, err := r.frames(ctx, r.cfg.Symbol, start, end)
	if err != nil {
		r.failManifest(ctx, sweepID, sweepDir, begin, err)
		return nil, fmt.Errorf("sweep: load frame: %w", err)
	}

	workers := r.cfg.MaxWorkers
	if workers <= 0 {
		workers = len(combos)
		if workers > 4 {
			workers = 4
		}
	}
	pool, err := async.NewPool(workers, len(combos))
	if err != nil {
		r.failManifest(ctx, sweepID, sweepDir, begin, err)
		return nil, err
	}

	summaryLog, err := columnar.NewManifest(filepath.Join(sweepDir, "summary.jsonl"))
	if err != nil {
		r.failManifest(ctx, sweepID, sweepDir, begin, err)
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []JobResult
	)
	for idx, combo := range combos {
		jobID := fmt.Sprintf("job_%04d", idx)
		params := combo
		submitErr := pool.Submit(ctx, func(jobCtx context.Context) error {
			result := r.runJob(jobCtx, generator, base, sweepDir, jobID, params)
			if err := summaryLog.Append(result); err != nil {
				r.logger.Printf("sweep: append summary for %s: %v", jobID, err)
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			if result.Error != "" {
				return fmt.Errorf("%s: %s", result.JobID, result.Error)
			}
			return nil
		})
		if submitErr != nil {
			r.logger.Printf("sweep: submit %s: %v", jobID, submitErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		r.failManifest(ctx, sweepID, sweepDir, begin, err)
		return nil, fmt.Errorf("sweep: pool shutdown: %w", err)
	}
	stats := pool.Stats()
	r.logger.Printf("sweep: pool drained: %d jobs, %d failed", stats.Completed, stats.Failed)

	duration := time.Since(begin)
	r.appendManifest(schema.SweepJobRecord{
		JobID:        sweepID,
		Status:       schema.SweepJobCompleted,
		TS:           time.Now().UTC(),
		Strategy:     r.cfg.Strategy,
		Symbol:       r.cfg.Symbol,
		SweepDir:     sweepDir,
		SummaryPath:  summaryLog.Path(),
		ResultsCount: len(results),
		DurationMS:   duration.Milliseconds(),
	})
	r.recordRunFinish(ctx, sweepID, "completed")

	return &Summary{
		SweepID:  sweepID,
		SweepDir: sweepDir,
		Results:  results,
		Duration: duration,
	}, nil
}

// runJob executes one parameter combination; failures are captured in the
// result rather than aborting the sweep.
func (r *Runner) runJob(ctx context.Context, generator strategy.Generator, base *strategy.Frame, sweepDir, jobID string, params map[string]any) JobResult {
	begin := time.Now()
	result := JobResult{JobID: jobID, Params: params}

	jobDir := filepath.Join(sweepDir, jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return r.finishJob(ctx, result, begin, err)
	}

	frame, err := generator.Generate(base.Clone(), params)
	if err != nil {
		return r.finishJob(ctx, result, begin, err)
	}
	outcome, err := backtest.Run(frame, r.cfg.Backtest)
	if err != nil {
		return r.finishJob(ctx, result, begin, err)
	}
	result.Metrics = outcome.Metrics

	store, err := columnar.NewStore(jobDir)
	if err != nil {
		return r.finishJob(ctx, result, begin, err)
	}
	if path, err := store.WriteTable("equity.parquet", equityHeader, equityRows(outcome.Equity)); err == nil {
		result.EquityPath = path
	} else {
		r.logger.Printf("sweep: persist equity for %s: %v", jobID, err)
	}
	header, rows := strategy.FrameTable(frame)
	if path, err := store.WriteTable("frame.parquet", header, rows); err == nil {
		result.ProbFramePath = path
	} else {
		r.logger.Printf("sweep: persist frame for %s: %v", jobID, err)
	}

	summary := JobResult{
		JobID:         jobID,
		Params:        params,
		Metrics:       outcome.Metrics,
		EquityPath:    result.EquityPath,
		ProbFramePath: result.ProbFramePath,
	}
	if raw, err := json.MarshalIndent(summary, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(jobDir, "summary.json"), raw, 0o644); err != nil {
			r.logger.Printf("sweep: write summary.json for %s: %v", jobID, err)
		}
	}

	return r.finishJob(ctx, result, begin, nil)
}

func (r *Runner) finishJob(ctx context.Context, result JobResult, begin time.Time, err error) JobResult {
	elapsed := time.Since(begin)
	result.DurationMS = elapsed.Milliseconds()
	status := schema.SweepJobCompleted
	if err != nil {
		result.Error = err.Error()
		status = schema.SweepJobFailed
		r.logger.Printf("sweep: %s failed: %v", result.JobID, err)
	}
	r.publishJob(ctx, result, status)
	if r.instruments != nil && r.instruments.SweepJobDuration != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		r.instruments.SweepJobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			telemetry.RouterAttributes(telemetry.Environment(), r.cfg.Symbol, r.cfg.Strategy, outcome)...))
	}
	return result
}

func (r *Runner) publishJob(ctx context.Context, result JobResult, status schema.SweepJobStatus) {
	if r.bus == nil {
		return
	}
	payload := schema.BacktestJobPayload{
		JobID:    result.JobID,
		Strategy: r.cfg.Strategy,
		Symbol:   r.cfg.Symbol,
		Params:   result.Params,
		Status:   status,
	}
	evt, err := schema.NewEvent(schema.TopicBacktestJob, r.cfg.Symbol, payload)
	if err != nil {
		r.logger.Printf("sweep: build backtest.job event: %v", err)
		return
	}
	if err := r.bus.Publish(ctx, evt); err != nil {
		r.logger.Printf("sweep: publish backtest.job: %v", err)
	}
}

func (r *Runner) appendManifest(record schema.SweepJobRecord) {
	if err := r.manifest.Append(record); err != nil {
		r.logger.Printf("sweep: append manifest: %v", err)
	}
}

func (r *Runner) failManifest(ctx context.Context, sweepID, sweepDir string, begin time.Time, cause error) {
	r.appendManifest(schema.SweepJobRecord{
		JobID:      sweepID,
		Status:     schema.SweepJobFailed,
		TS:         time.Now().UTC(),
		Strategy:   r.cfg.Strategy,
		Symbol:     r.cfg.Symbol,
		SweepDir:   sweepDir,
		DurationMS: time.Since(begin).Milliseconds(),
		Error:      cause.Error(),
	})
	r.recordRunFinish(ctx, sweepID, "failed")
}

// recordRunStart and recordRunFinish are best-effort; the sweep never blocks
// on run bookkeeping.
func (r *Runner) recordRunStart(ctx context.Context, sweepID string, begin time.Time) {
	if r.runs == nil {
		return
	}
	err := r.runs.CreateRun(ctx, orderstore.Run{
		RunID:     sweepID,
		Kind:      "sweep",
		Symbol:    r.cfg.Symbol,
		Strategy:  r.cfg.Strategy,
		Status:    "running",
		StartedAt: begin.UTC(),
	})
	if err != nil {
		r.logger.Printf("sweep: record run start: %v", err)
	}
}

func (r *Runner) recordRunFinish(ctx context.Context, sweepID, status string) {
	if r.runs == nil {
		return
	}
	if err := r.runs.FinishRun(ctx, sweepID, status, time.Now().UTC()); err != nil {
		r.logger.Printf("sweep: record run finish: %v", err)
	}
}

var equityHeader = []string{"timestamp", "equity", "equity_mtm"}

func equityRows(points []backtest.Point) [][]string {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{
			p.TS.UTC().Format(time.RFC3339Nano),
			fmt.Sprintf("%g", p.Equity),
			fmt.Sprintf("%g", p.EquityMTM),
		})
	}
	return rows
}
