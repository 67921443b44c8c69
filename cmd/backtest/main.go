package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"backtestcore/assettype"
	"backtestcore/bot"
	"backtestcore/cmd/backtest/batch"
	"backtestcore/cmd/backtest/eventsource"
	"backtestcore/cmd/backtest/strategy"
	"backtestcore/feemodel"
	"backtestcore/latency"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

func main() {
	dataPath := flag.String("data", "", "path to a single NDJSON event file")
	dataDir := flag.String("data-dir", "", "directory of NDJSON event files to replay concurrently, one backtest per file")
	concurrency := flag.Int("concurrency", 4, "max backtests to run concurrently when -data-dir is set")
	tickSize := flag.Float64("tick-size", 0.01, "price tick size")
	lowPrice := flag.Float64("low-price", 0.0, "region-of-interest low price")
	highPrice := flag.Float64("high-price", 1_000_000.0, "region-of-interest high price")
	takerBps := flag.Float64("taker-bps", 5.0, "taker fee in basis points")
	makerBps := flag.Float64("maker-bps", 5.0, "maker fee (rebate if negative) in basis points")
	entryLatencyMs := flag.Int64("entry-latency-ms", 10, "local-to-exchange latency in milliseconds")
	responseLatencyMs := flag.Int64("response-latency-ms", 10, "exchange-to-local latency in milliseconds")
	intervalMs := flag.Int64("interval-ms", 100, "strategy elapse interval in milliseconds")
	flag.Parse()

	runID := uuid.New()
	logger := log.With().Str("run_id", runID.String()).Logger()

	if *dataPath == "" && *dataDir == "" {
		logger.Fatal().Msg("one of -data or -data-dir is compulsory")
	}

	cfg := runConfig{
		tickSize:        *tickSize,
		lowPrice:        *lowPrice,
		highPrice:       *highPrice,
		takerBps:        *takerBps,
		makerBps:        *makerBps,
		entryLatency:    time.Duration(*entryLatencyMs) * time.Millisecond,
		responseLatency: time.Duration(*responseLatencyMs) * time.Millisecond,
		elapseInterval:  time.Duration(*intervalMs) * time.Millisecond,
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	t, ctx := tomb.WithContext(ctx)
	t.Go(func() error {
		if *dataDir != "" {
			return runBatch(ctx, *dataDir, *concurrency, cfg, logger)
		}
		return runBacktest(ctx, *dataPath, cfg, logger)
	})

	select {
	case <-ctx.Done():
		t.Kill(ctx.Err())
	case <-t.Dead():
	}

	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("backtest run failed")
	}
}

func runBatch(ctx context.Context, dataDir string, concurrency int, cfg runConfig, logger zerolog.Logger) error {
	paths, err := filepath.Glob(filepath.Join(dataDir, "*.jsonl"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no .jsonl files found in -data-dir")
	}

	pool := batch.NewPool(concurrency)
	results := pool.RunAll(ctx, paths, func(ctx context.Context, path string) error {
		return runBacktest(ctx, path, cfg, logger.With().Str("file", filepath.Base(path)).Logger())
	}, logger)

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		logger.Error().Int("failed", failed).Int("total", len(results)).Msg("batch completed with failures")
	}
	return nil
}

type runConfig struct {
	tickSize, lowPrice, highPrice float64
	takerBps, makerBps            float64
	entryLatency, responseLatency time.Duration
	elapseInterval                time.Duration
}

func runBacktest(ctx context.Context, dataPath string, cfg runConfig, logger zerolog.Logger) error {
	src, err := eventsource.Open(dataPath)
	if err != nil {
		return err
	}

	asset := bot.NewAssetBuilder().
		Data(src).
		LatencyModel(latency.Constant{
			Entry:    cfg.entryLatency.Nanoseconds(),
			Response: cfg.responseLatency.Nanoseconds(),
		}).
		AssetType(assettype.Linear{}).
		FeeModel(feemodel.MakerTaker{MakerBps: cfg.makerBps, TakerBps: cfg.takerBps}).
		LastTradesCapacity(0).
		Depth(cfg.tickSize, cfg.lowPrice, cfg.highPrice).
		Logger(logger).
		ResponseTimeout(int64(1) << 60)

	b, err := bot.NewConfig().AddAsset(asset).Build()
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing bot")
		}
	}()

	logger.Info().Str("data", dataPath).Msg("starting backtest")
	if err := strategy.RunBuyAndHold(ctx, b, 0, cfg.elapseInterval.Nanoseconds()); err != nil {
		return err
	}

	values, err := b.StateValues(0)
	if err != nil {
		return err
	}
	logger.Info().
		Float64("position", values.Position).
		Float64("cash", values.Cash).
		Float64("realized_pnl", values.RealizedPnL).
		Float64("fees_paid", values.FeesPaid).
		Int64("trade_num", values.TradeNum).
		Msg("backtest finished")
	return nil
}
