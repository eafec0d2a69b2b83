package sweep

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/zsh04/ai-trader-sub000/internal/backtest"
	"github.com/zsh04/ai-trader-sub000/internal/domain/orderstore"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/bus/eventbus"
	"github.com/zsh04/ai-trader-sub000/internal/infra/persistence/columnar"
	"github.com/zsh04/ai-trader-sub000/internal/strategy"
)

type gridGenerator struct {
	seen []map[string]any
}

func (g *gridGenerator) Name() string { return "grid" }

func (g *gridGenerator) Generate(f *strategy.Frame, params map[string]any) (*strategy.Frame, error) {
	g.seen = append(g.seen, params)
	return f, nil
}

func sweepFrame(t *testing.T) *strategy.Frame {
	t.Helper()
	n := 12
	index := make([]time.Time, n)
	closes := make([]float64, n)
	atr := make([]float64, n)
	entries := make([]bool, n)
	exits := make([]bool, n)
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		index[i] = base.AddDate(0, 0, i)
		closes[i] = 100 + float64(i)
		atr[i] = 2
	}
	entries[2] = true
	exits[6] = true
	frame := strategy.NewFrame(index)
	require.NoError(t, frame.SetNumeric(strategy.ColClose, closes))
	require.NoError(t, frame.SetNumeric(strategy.ColATR, atr))
	require.NoError(t, frame.SetBool(strategy.ColLongEntry, entries))
	require.NoError(t, frame.SetBool(strategy.ColLongExit, exits))
	return frame
}

func newTestRunner(t *testing.T, cfg Config, gen strategy.Generator) (*Runner, *columnar.Manifest, eventbus.Bus) {
	t.Helper()
	registry := strategy.NewRegistry()
	registry.Register(gen)
	manifest, err := columnar.NewManifest(filepath.Join(t.TempDir(), "jobs_manifest.jsonl"))
	require.NoError(t, err)
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{})
	t.Cleanup(bus.Close)
	runner, err := NewRunner(Options{
		Config:   cfg,
		Registry: registry,
		Frames: func(ctx context.Context, symbol string, start, end *time.Time) (*strategy.Frame, error) {
			return sweepFrame(t), nil
		},
		Bus:      bus,
		Manifest: manifest,
	})
	require.NoError(t, err)
	return runner, manifest, bus
}

func TestRunnerExecutesFullGrid(t *testing.T) {
	gen := &gridGenerator{}
	cfg := Config{
		Symbol:   "AAPL",
		Strategy: "grid",
		Params: map[string][]any{
			"lookback": {10, 20},
			"k":        {1.5},
		},
		OutputDir: t.TempDir(),
		Backtest:  backtest.Config{InitialEquity: 10_000},
	}
	runner, manifest, _ := newTestRunner(t, cfg, gen)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)
	require.Len(t, gen.seen, 2)

	for _, result := range summary.Results {
		require.Empty(t, result.Error)
		require.FileExists(t, result.EquityPath)
		require.FileExists(t, result.ProbFramePath)
		require.FileExists(t, filepath.Join(summary.SweepDir, result.JobID, "summary.json"))
	}

	// summary.jsonl carries one line per job in completion order.
	aggregate, err := columnar.NewManifest(filepath.Join(summary.SweepDir, "summary.jsonl"))
	require.NoError(t, err)
	lines, err := aggregate.ReadLines()
	require.NoError(t, err)
	require.Len(t, lines, 2)

	records := readRecords(t, manifest)
	require.Len(t, records, 2)
	require.Equal(t, schema.SweepJobRunning, records[0].Status)
	require.Equal(t, schema.SweepJobCompleted, records[1].Status)
	require.Equal(t, 2, records[1].ResultsCount)
	require.Equal(t, summary.SweepDir, records[1].SweepDir)
}

func TestRunnerPublishesJobEvents(t *testing.T) {
	gen := &gridGenerator{}
	cfg := Config{
		Symbol:    "AAPL",
		Strategy:  "grid",
		Params:    map[string][]any{"lookback": {10}},
		OutputDir: t.TempDir(),
	}
	runner, _, bus := newTestRunner(t, cfg, gen)
	_, events, err := bus.Subscribe(context.Background(), schema.TopicBacktestJob)
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.NoError(t, err)

	select {
	case evt := <-events:
		var payload schema.BacktestJobPayload
		require.NoError(t, json.Unmarshal(evt.Payload, &payload))
		require.Equal(t, "job_0000", payload.JobID)
		require.Equal(t, "grid", payload.Strategy)
		require.Equal(t, schema.SweepJobCompleted, payload.Status)
	case <-time.After(time.Second):
		t.Fatal("expected backtest.job event")
	}
}

func TestRunnerRecordsJobFailureAndContinues(t *testing.T) {
	cfg := Config{
		Symbol:    "AAPL",
		Strategy:  "boom",
		Params:    map[string][]any{"lookback": {10, 20}},
		OutputDir: t.TempDir(),
	}
	runner, manifest, _ := newTestRunner(t, cfg, failingGenerator{})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)
	for _, result := range summary.Results {
		require.Contains(t, result.Error, "generate failed")
		require.Empty(t, result.EquityPath)
	}

	// a failed job does not fail the sweep
	records := readRecords(t, manifest)
	require.Equal(t, schema.SweepJobCompleted, records[len(records)-1].Status)
}

func TestRunnerUnknownStrategyFails(t *testing.T) {
	cfg := Config{
		Symbol:    "AAPL",
		Strategy:  "missing",
		Params:    map[string][]any{"lookback": {10}},
		OutputDir: t.TempDir(),
	}
	runner, _, _ := newTestRunner(t, cfg, &gridGenerator{})

	_, err := runner.Run(context.Background())
	require.Error(t, err)
}

func TestRunnerFrameFailureAppendsFailedRecord(t *testing.T) {
	registry := strategy.NewRegistry()
	registry.Register(&gridGenerator{})
	manifest, err := columnar.NewManifest(filepath.Join(t.TempDir(), "jobs_manifest.jsonl"))
	require.NoError(t, err)
	runner, err := NewRunner(Options{
		Config: Config{
			Symbol:    "AAPL",
			Strategy:  "grid",
			Params:    map[string][]any{"lookback": {10}},
			OutputDir: t.TempDir(),
		},
		Registry: registry,
		Frames: func(ctx context.Context, symbol string, start, end *time.Time) (*strategy.Frame, error) {
			return nil, os.ErrNotExist
		},
		Manifest: manifest,
	})
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.Error(t, err)

	records := readRecords(t, manifest)
	require.Equal(t, schema.SweepJobFailed, records[len(records)-1].Status)
	require.NotEmpty(t, records[len(records)-1].Error)
}

type memRunStore struct {
	mu       sync.Mutex
	created  []orderstore.Run
	finished map[string]string
}

func (s *memRunStore) CreateRun(_ context.Context, run orderstore.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, run)
	return nil
}

func (s *memRunStore) FinishRun(_ context.Context, runID, status string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[runID] = status
	return nil
}

func TestRunnerRecordsRunLifecycle(t *testing.T) {
	runs := &memRunStore{finished: make(map[string]string)}
	registry := strategy.NewRegistry()
	registry.Register(&gridGenerator{})
	manifest, err := columnar.NewManifest(filepath.Join(t.TempDir(), "jobs_manifest.jsonl"))
	require.NoError(t, err)
	runner, err := NewRunner(Options{
		Config: Config{
			Symbol:    "AAPL",
			Strategy:  "grid",
			Params:    map[string][]any{"lookback": {10}},
			OutputDir: t.TempDir(),
		},
		Registry: registry,
		Frames: func(ctx context.Context, symbol string, start, end *time.Time) (*strategy.Frame, error) {
			return sweepFrame(t), nil
		},
		Manifest: manifest,
		Runs:     runs,
	})
	require.NoError(t, err)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, runs.created, 1)
	require.Equal(t, summary.SweepID, runs.created[0].RunID)
	require.Equal(t, "sweep", runs.created[0].Kind)
	require.Equal(t, "running", runs.created[0].Status)
	require.Equal(t, "completed", runs.finished[summary.SweepID])
}

func TestRunnerFinishesRunAsFailedOnFrameError(t *testing.T) {
	runs := &memRunStore{finished: make(map[string]string)}
	registry := strategy.NewRegistry()
	registry.Register(&gridGenerator{})
	manifest, err := columnar.NewManifest(filepath.Join(t.TempDir(), "jobs_manifest.jsonl"))
	require.NoError(t, err)
	runner, err := NewRunner(Options{
		Config: Config{
			Symbol:    "AAPL",
			Strategy:  "grid",
			Params:    map[string][]any{"lookback": {10}},
			OutputDir: t.TempDir(),
		},
		Registry: registry,
		Frames: func(ctx context.Context, symbol string, start, end *time.Time) (*strategy.Frame, error) {
			return nil, os.ErrNotExist
		},
		Manifest: manifest,
		Runs:     runs,
	})
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.Error(t, err)

	require.Len(t, runs.created, 1)
	require.Equal(t, "failed", runs.finished[runs.created[0].RunID])
}

type failingGenerator struct{}

func (failingGenerator) Name() string { return "boom" }

func (failingGenerator) Generate(f *strategy.Frame, params map[string]any) (*strategy.Frame, error) {
	return nil, errors.New("generate failed")
}

func readRecords(t *testing.T, manifest *columnar.Manifest) []schema.SweepJobRecord {
	t.Helper()
	lines, err := manifest.ReadLines()
	require.NoError(t, err)
	records := make([]schema.SweepJobRecord, 0, len(lines))
	for _, line := range lines {
		var rec schema.SweepJobRecord
		require.NoError(t, json.Unmarshal(line, &rec))
		records = append(records, rec)
	}
	return records
}
