// Command backtest executes a single backtest or a parameter sweep described
// by a YAML config. A grid with one combination degenerates to a single run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/zsh04/ai-trader-sub000/internal/infra/config"
	"github.com/zsh04/ai-trader-sub000/internal/infra/persistence/columnar"
	"github.com/zsh04/ai-trader-sub000/internal/infra/persistence/postgres"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors/factory"
	"github.com/zsh04/ai-trader-sub000/internal/marketdata"
	"github.com/zsh04/ai-trader-sub000/internal/strategy"
	"github.com/zsh04/ai-trader-sub000/internal/strategy/js"
	"github.com/zsh04/ai-trader-sub000/internal/sweep"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		sweepPath   = flag.String("config", "", "Path to the sweep YAML config")
		appPath     = flag.String("app-config", "config/app.yaml", "Path to the application configuration file")
		vendor      = flag.String("vendor", "yahoo", "Vendor serving the historical bars")
		rawInterval = flag.String("interval", "1d", "Bar interval for the fetch")
		scriptsDir  = flag.String("strategies", "", "Directory of JavaScript strategy modules to register")
		top         = flag.Int("top", 10, "Number of results to print, best first")
	)
	flag.Parse()

	if *sweepPath == "" {
		return fmt.Errorf("-config flag is required")
	}
	interval, ok := schema.NormalizeInterval(*rawInterval)
	if !ok {
		return fmt.Errorf("unknown interval %q", *rawInterval)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, "backtest ", log.LstdFlags|log.Lmicroseconds)

	sweepCfg, err := sweep.Load(*sweepPath)
	if err != nil {
		return err
	}
	appCfg, _, err := config.LoadOrDefault(*appPath)
	if err != nil {
		return err
	}
	if appCfg.Artifacts.SweepDir != "" && sweepCfg.OutputDir == "artifacts/backtests/sweeps" {
		sweepCfg.OutputDir = appCfg.Artifacts.SweepDir
	}

	cache, err := columnar.NewStore(appCfg.Artifacts.CacheDir)
	if err != nil {
		return err
	}
	dal, err := marketdata.New(marketdata.Options{
		Registry:     factory.NewRegistry(appCfg, logger),
		Cache:        cache,
		Filter:       appCfg.Filter,
		RegimeWindow: appCfg.Regime.Window,
		Thresholds:   appCfg.Regime.Thresholds,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	manifest, err := columnar.NewManifest(filepath.Join(sweepCfg.OutputDir, "jobs_manifest.jsonl"))
	if err != nil {
		return err
	}

	registry := strategy.NewRegistry()
	if *scriptsDir != "" {
		loader, err := js.NewLoader(*scriptsDir)
		if err != nil {
			return err
		}
		if err := js.RegisterAll(ctx, loader, registry, logger); err != nil {
			return err
		}
		logger.Printf("registered %d scripted strategies from %s", len(loader.List()), *scriptsDir)
	}

	runnerOpts := sweep.Options{
		Config:   sweepCfg,
		Registry: registry,
		Frames: func(ctx context.Context, symbol string, start, end *time.Time) (*strategy.Frame, error) {
			batch, err := dal.FetchBars(ctx, *vendor, schema.FetchRequest{
				Symbol:   symbol,
				Start:    start,
				End:      end,
				Interval: interval,
			})
			if err != nil {
				return nil, err
			}
			return strategy.FromBatch(batch), nil
		},
		Manifest: manifest,
		Logger:   logger,
	}
	if appCfg.Database.URL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		runnerOpts.Runs = postgres.NewRunStore(pool)
		logger.Printf("database connected; recording sweep run rows")
	}

	runner, err := sweep.NewRunner(runnerOpts)
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	results := append([]sweep.JobResult(nil), summary.Results...)
	sort.Slice(results, func(i, j int) bool { return results[i].Metrics.Sharpe > results[j].Metrics.Sharpe })
	if *top < len(results) {
		results = results[:*top]
	}

	logger.Printf("sweep %s finished: %d jobs in %v, artifacts in %s",
		summary.SweepID, len(summary.Results), summary.Duration.Round(time.Millisecond), summary.SweepDir)
	for _, result := range results {
		if result.Error != "" {
			logger.Printf("  %s failed: %s", result.JobID, result.Error)
			continue
		}
		logger.Printf("  %s sharpe=%.3f sortino=%.3f maxdd=%.3f cagr=%.3f params=%v",
			result.JobID, result.Metrics.Sharpe, result.Metrics.Sortino,
			result.Metrics.MaxDrawdown, result.Metrics.CAGR, result.Params)
	}
	return nil
}
