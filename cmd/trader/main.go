// Command trader runs the long-lived trading core: scheduled router runs over
// the watchlist, optional live streaming, and the bus consumers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/zsh04/ai-trader-sub000/internal/consumer"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/bus/eventbus"
	"github.com/zsh04/ai-trader-sub000/internal/infra/config"
	"github.com/zsh04/ai-trader-sub000/internal/infra/persistence/columnar"
	"github.com/zsh04/ai-trader-sub000/internal/infra/persistence/postgres"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors/factory"
	"github.com/zsh04/ai-trader-sub000/internal/marketdata"
	"github.com/zsh04/ai-trader-sub000/internal/router"
	"github.com/zsh04/ai-trader-sub000/lib/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	traderLoggerPrefix       = "trader "
	shutdownTimeout          = 30 * time.Second
	consumerShutdownTimeout  = 10 * time.Second
	busShutdownTimeout       = 2 * time.Second
	poolShutdownTimeout      = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

type flags struct {
	configPath     string
	vendor         string
	interval       string
	routerEvery    time.Duration
	stream         bool
	workerEndpoint string
}

func main() {
	opts := parseFlags()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, traderLoggerPrefix, log.LstdFlags|log.Lmicroseconds)

	cfg, loadedFromFile, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, watchlist=%d", cfg.Environment, len(cfg.Watchlist))

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{})

	cache, err := columnar.NewStore(cfg.Artifacts.CacheDir)
	if err != nil {
		logger.Fatalf("open cache store: %v", err)
	}
	frames, err := columnar.NewStore(cfg.Artifacts.FramesDir)
	if err != nil {
		logger.Fatalf("open frames store: %v", err)
	}
	frameLog, err := columnar.NewManifest(filepath.Join(cfg.Artifacts.FramesDir, "manifest.jsonl"))
	if err != nil {
		logger.Fatalf("open frames manifest: %v", err)
	}

	var (
		dbPool        = connectDatabase(ctx, cfg, logger)
		orderConsumer *consumer.OrderConsumer
	)
	dalOpts := marketdata.Options{
		Registry:      factory.NewRegistry(cfg, logger),
		Bus:           bus,
		Cache:         cache,
		Filter:        cfg.Filter,
		RegimeWindow:  cfg.Regime.Window,
		Thresholds:    cfg.Regime.Thresholds,
		MaxQueue:      cfg.Streaming.MaxQueue,
		GapMultiplier: cfg.Streaming.GapMultiplier,
		Logger:        log.New(os.Stdout, "dal ", log.LstdFlags|log.Lmicroseconds),
	}
	if dbPool != nil {
		dalOpts.Metadata = postgres.NewMetadataStore(dbPool)
	}
	dal, err := marketdata.New(dalOpts)
	if err != nil {
		logger.Fatalf("initialise market data layer: %v", err)
	}

	routerOpts := router.Options{
		Config:   cfg.Router,
		Fetch:    dal.FetchBars,
		Cache:    frames,
		FrameLog: frameLog,
		Bus:      bus,
		Logger:   log.New(os.Stdout, "router ", log.LstdFlags|log.Lmicroseconds),
	}
	if dbPool != nil {
		routerOpts.Runs = postgres.NewRunStore(dbPool)
	}
	orchestrator := router.New(routerOpts)

	if dbPool != nil {
		orderConsumer, err = consumer.NewOrderConsumer(consumer.OrderConsumerOptions{
			Bus:         bus,
			Orders:      postgres.NewOrderStore(dbPool),
			Checkpoints: postgres.NewCheckpointStore(dbPool),
			Logger:      log.New(os.Stdout, "orders ", log.LstdFlags|log.Lmicroseconds),
		})
		if err != nil {
			logger.Fatalf("initialise order consumer: %v", err)
		}
		if err := orderConsumer.Start(ctx); err != nil {
			logger.Fatalf("start order consumer: %v", err)
		}
		logger.Printf("order consumer started")
	} else {
		logger.Printf("database not configured; order persistence disabled")
	}

	var sweepConsumer *consumer.SweepJobConsumer
	if opts.workerEndpoint != "" {
		manifest, err := columnar.NewManifest(filepath.Join(cfg.Artifacts.SweepDir, "jobs_manifest.jsonl"))
		if err != nil {
			logger.Fatalf("open dispatch manifest: %v", err)
		}
		sweepConsumer, err = consumer.NewSweepJobConsumer(consumer.SweepJobConsumerOptions{
			Bus:      bus,
			Launcher: &consumer.HTTPLauncher{Endpoint: opts.workerEndpoint},
			Manifest: manifest,
			Logger:   log.New(os.Stdout, "sweepjobs ", log.LstdFlags|log.Lmicroseconds),
		})
		if err != nil {
			logger.Fatalf("initialise sweep-job consumer: %v", err)
		}
		if err := sweepConsumer.Start(ctx); err != nil {
			logger.Fatalf("start sweep-job consumer: %v", err)
		}
		logger.Printf("sweep-job consumer dispatching to %s", opts.workerEndpoint)
	}

	var lifecycle conc.WaitGroup

	if opts.stream && len(cfg.Watchlist) > 0 {
		startStreaming(ctx, &lifecycle, logger, dal, opts.vendor, cfg.Watchlist, opts.interval)
	}
	startRouterLoop(ctx, &lifecycle, logger, orchestrator, cfg, opts)

	logger.Print("trader started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, stepCancel := context.WithTimeout(shutdownCtx, timeout)
		defer stepCancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	cancel()
	shutdownStep("waiting for lifecycle goroutines", consumerShutdownTimeout, func(stepCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			lifecycle.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stepCtx.Done():
			return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
		}
	})
	if orderConsumer != nil {
		shutdownStep("stopping order consumer", consumerShutdownTimeout, func(context.Context) error {
			orderConsumer.Close()
			return nil
		})
	}
	if sweepConsumer != nil {
		shutdownStep("stopping sweep-job consumer", consumerShutdownTimeout, func(context.Context) error {
			sweepConsumer.Close()
			return nil
		})
	}
	shutdownStep("closing event bus", busShutdownTimeout, func(context.Context) error {
		bus.Close()
		return nil
	})
	if dbPool != nil {
		shutdownStep("closing database pool", poolShutdownTimeout, func(context.Context) error {
			dbPool.Close()
			return nil
		})
	}
	shutdownStep("flushing telemetry", telemetryShutdownTimeout, telemetryShutdown)

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() flags {
	var opts flags
	flag.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to application configuration file")
	flag.StringVar(&opts.vendor, "vendor", "yahoo", "Vendor used for scheduled fetches and streaming")
	flag.StringVar(&opts.interval, "interval", "1d", "Bar interval for scheduled router runs")
	flag.DurationVar(&opts.routerEvery, "router-every", time.Minute, "Cadence of scheduled router runs")
	flag.BoolVar(&opts.stream, "stream", false, "Stream live bars for the watchlist")
	flag.StringVar(&opts.workerEndpoint, "worker-endpoint", "", "Sweep worker-pool start API; enables the sweep-job consumer")
	flag.Parse()
	return opts
}

func connectDatabase(ctx context.Context, cfg config.AppConfig, logger *log.Logger) *pgxpool.Pool {
	if cfg.Database.URL == "" {
		return nil
	}
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("connect database: %v", err)
	}
	postgres.ObservePoolMetrics(pool, "trader")
	logger.Printf("database connected")
	return pool
}

func startRouterLoop(ctx context.Context, lifecycle *conc.WaitGroup, logger *log.Logger, orchestrator *router.Router, cfg config.AppConfig, opts flags) {
	interval, ok := schema.NormalizeInterval(opts.interval)
	if !ok {
		logger.Fatalf("unknown interval %q", opts.interval)
	}
	lifecycle.Go(func() {
		ticker := time.NewTicker(opts.routerEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, symbol := range cfg.Watchlist {
					state := orchestrator.Run(ctx, router.Request{
						Symbol:   symbol,
						Vendor:   opts.vendor,
						Interval: interval,
					}, router.RunContext{
						OfflineMode:   cfg.Router.OfflineMode,
						PublishOrders: cfg.Router.PublishOrders,
						ExecuteOrders: cfg.Router.ExecuteOrders,
					})
					if state.Halt {
						logger.Printf("router: %s halted: %s", symbol, state.FallbackReason)
					} else if state.Intent != nil {
						logger.Printf("router: %s %s qty=%d notional=%s latency=%dms",
							symbol, state.Strategy, state.Intent.Qty,
							state.Intent.Notional.StringFixed(2), state.LatencyMS)
					}
				}
			}
		}
	})
}

func startStreaming(ctx context.Context, lifecycle *conc.WaitGroup, logger *log.Logger, dal *marketdata.DAL, vendor string, symbols []string, rawInterval string) {
	interval, ok := schema.NormalizeInterval(rawInterval)
	if !ok {
		logger.Fatalf("unknown interval %q", rawInterval)
	}
	frames, stop, err := dal.StreamBars(ctx, vendor, symbols, interval)
	if err != nil {
		logger.Printf("streaming unavailable for %s: %v", vendor, err)
		return
	}
	lifecycle.Go(func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				logger.Printf("stream: %s close=%.4f regime=%s",
					frame.Signal.Symbol, frame.Signal.FilteredPrice, frame.Regime.Regime)
			}
		}
	})
	logger.Printf("streaming %d symbols from %s", len(symbols), vendor)
}
