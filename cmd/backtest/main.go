// Package main is the backtest engine entry point. It runs a single
// backtest from a config file, sweeps a strategy's parameter grid, or
// serves the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/admf-trader/backtest-engine/internal/api"
	"github.com/admf-trader/backtest-engine/internal/backtester"
	"github.com/admf-trader/backtest-engine/internal/config"
	"github.com/admf-trader/backtest-engine/internal/data"
	"github.com/admf-trader/backtest-engine/internal/optimization"
	"github.com/admf-trader/backtest-engine/internal/report"
	"github.com/admf-trader/backtest-engine/internal/strategy"
	"github.com/admf-trader/backtest-engine/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Config file (default: ./backtest.{yaml,json,toml})")
	dataDir := flag.String("data", "", "Override data directory")
	outDir := flag.String("out", "./results", "Output directory for run artifacts")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	serveAddr := flag.String("serve", "", "Serve the HTTP API on this address instead of running once")
	optimize := flag.Bool("optimize", false, "Sweep the strategy parameter grid")
	objective := flag.String("objective", "sharpe_ratio", "Sweep objective (sharpe_ratio, total_return, profit_factor)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if *dataDir != "" {
		cfg.Data.Dir = *dataDir
	}

	registry := strategy.NewRegistry(logger)

	if *serveAddr != "" {
		serve(logger, *serveAddr, *cfg, registry)
		return
	}

	series, err := loadSeries(logger, cfg)
	if err != nil {
		logger.Fatal("failed to load data", zap.Error(err))
	}

	if *optimize {
		runSweep(logger, *cfg, series, registry, *objective)
		return
	}
	runOnce(logger, *cfg, series, registry, *outDir)
}

func loadSeries(logger *zap.Logger, cfg *types.BacktestConfig) (*data.Series, error) {
	loader := data.NewCSVLoader(logger, cfg.Data.TimestampFormat)
	perSymbol, err := loader.LoadDir(cfg.Data.Dir, cfg.Symbols)
	if err != nil {
		return nil, err
	}
	return data.NewSeries(perSymbol)
}

func runOnce(logger *zap.Logger, cfg types.BacktestConfig, series *data.Series, registry *strategy.Registry, outDir string) {
	strat, err := registry.Build(cfg.Strategy.Name, cfg.Strategy.Parameters)
	if err != nil {
		logger.Fatal("failed to build strategy", zap.Error(err))
	}
	coordinator, err := backtester.NewCoordinator(logger, cfg, series, strat)
	if err != nil {
		logger.Fatal("failed to build coordinator", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := coordinator.Run(ctx)
	if err != nil {
		logger.Fatal("backtest failed", zap.Error(err))
	}

	runDir, err := report.NewExporter(logger, outDir).Export(result)
	if err != nil {
		logger.Fatal("failed to write artifacts", zap.Error(err))
	}

	fmt.Printf("\nRun %s: %d bars, %d trades\n", result.RunID, result.BarsProcessed, len(result.Trades))
	fmt.Printf("  Final equity:  %s (return %s)\n", result.FinalEquity, result.Metrics.TotalReturn)
	fmt.Printf("  Realized PnL:  %s, commission %s\n", result.RealizedPnL, result.Commission)
	fmt.Printf("  Max drawdown:  %s, sharpe %s\n", result.Metrics.MaxDrawdown, result.Metrics.SharpeRatio)
	fmt.Printf("  Artifacts:     %s\n", runDir)
}

func runSweep(logger *zap.Logger, cfg types.BacktestConfig, series *data.Series, registry *strategy.Registry, objective string) {
	opt := optimization.New(logger, registry, optimization.Config{
		Objective: optimization.Objective(objective),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := opt.Run(ctx, cfg, series)
	if err != nil {
		logger.Fatal("sweep failed", zap.Error(err))
	}

	fmt.Printf("\nSweep of %s: %d trials in %s (objective %s)\n",
		cfg.Strategy.Name, len(result.Trials), result.Duration.Round(time.Millisecond), result.Objective)
	shown := len(result.Trials)
	if shown > 10 {
		shown = 10
	}
	for i := 0; i < shown; i++ {
		trial := result.Trials[i]
		if trial.Err != nil {
			fmt.Printf("  %2d. %v failed: %v\n", i+1, trial.Parameters, trial.Err)
			continue
		}
		fmt.Printf("  %2d. %v score %s\n", i+1, trial.Parameters, trial.Score)
	}
}

func serve(logger *zap.Logger, addr string, cfg types.BacktestConfig, registry *strategy.Registry) {
	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = addr
	server := api.NewServer(logger, serverCfg, cfg, registry)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
