package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/23skdu/longbow-bmm/internal/arrow_client"
	"github.com/23skdu/longbow-bmm/internal/config"
	"github.com/23skdu/longbow-bmm/internal/device"
	"github.com/23skdu/longbow-bmm/internal/logger"
	"github.com/23skdu/longbow-bmm/internal/monitoring"
	"github.com/23skdu/longbow-bmm/internal/results"
	"github.com/23skdu/longbow-bmm/internal/sweep"
)

var defaults = config.DefaultLatency()

var (
	batchSizes  = flag.String("batch-sizes", config.JoinInts(defaults.BatchSizes), "Comma-separated batch sizes")
	matrixSizes = flag.String("matrix-sizes", config.JoinInts(defaults.MatrixSizes), "Comma-separated square matrix sizes")
	dtypes      = flag.String("dtypes", "float32,float16", "Comma-separated element types")
	transpose   = flag.String("transpose", "nn", "Comma-separated transpose modes (nn, nt, tn)")
	warmup      = flag.Int("warmup", defaults.Warmup, "Untimed invocations before the timed region")
	benchIters  = flag.Int("iters", defaults.BenchIters, "Timed invocations per configuration")
	funcIters   = flag.Int("func-iters", defaults.FuncIters, "Primitive calls per invocation")
	output      = flag.String("output", "", "Optional CSV file to write (overwritten)")
	memLimit    = flag.Int64("device-memory-limit", 0, "Device memory limit in bytes (0 = unlimited)")
	logLevel    = flag.String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	logFormat   = flag.String("log-format", defaults.LogFormat, "Log format: console or json")
	metricsAddr = flag.String("metrics", "", "Address to serve /healthz, /status and /metrics (disabled if empty)")
	flightAddr  = flag.String("flight-addr", "", "Arrow Flight endpoint to publish the results table to (disabled if empty)")
)

func main() {
	flag.Parse()

	cfg, err := buildConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		logger.Log.Error("Benchmark failed", "error", err)
		os.Exit(1)
	}
}

func buildConfig() (config.Config, error) {
	cfg := config.DefaultLatency()

	var err error
	if cfg.BatchSizes, err = config.ParseInts(*batchSizes); err != nil {
		return cfg, fmt.Errorf("-batch-sizes: %w", err)
	}
	if cfg.MatrixSizes, err = config.ParseInts(*matrixSizes); err != nil {
		return cfg, fmt.Errorf("-matrix-sizes: %w", err)
	}
	cfg.DTypes = config.ParseList(*dtypes)
	cfg.Transposes = config.ParseList(*transpose)
	cfg.Warmup = *warmup
	cfg.BenchIters = *benchIters
	cfg.FuncIters = *funcIters
	cfg.OutputPath = *output
	cfg.DeviceMemoryLimit = *memLimit
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat
	cfg.MetricsAddr = *metricsAddr
	cfg.FlightAddr = *flightAddr

	return cfg, cfg.Validate()
}

// run prints one line per configuration to out as soon as it is measured.
func run(ctx context.Context, cfg config.Config, out io.Writer) error {
	configs, err := sweep.Plan(cfg)
	if err != nil {
		return err
	}

	dev := device.NewContext(device.WithMemoryLimit(cfg.DeviceMemoryLimit))
	defer dev.Close()

	monitor := monitoring.NewHealthMonitor(cfg.Variant.String())
	if cfg.MetricsAddr != "" {
		if err := monitor.Start(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			monitor.Stop(shutdownCtx)
		}()
	}
	monitor.SetTotal(len(configs))

	driver := sweep.NewDriver(dev, cfg, nil)
	driver.Progress = func(done, total int, c sweep.Configuration, rec results.Record) {
		fmt.Fprintln(out, results.LatencyLayout.Line(rec))
		monitor.Observe(done, total, c, rec)
	}

	logger.Log.Info("Starting latency sweep",
		"device", dev.Name(),
		"threads", dev.NumThreads(),
		"configurations", len(configs),
		"warmup", cfg.Warmup,
		"iters", cfg.BenchIters,
		"func_iters", cfg.FuncIters,
	)
	table, err := driver.Run(ctx, configs)
	monitor.Finish(err)
	if err != nil {
		return err
	}

	if cfg.OutputPath != "" {
		if err := table.SaveCSV(cfg.OutputPath); err != nil {
			return err
		}
		logger.Log.Info("Results written", "path", cfg.OutputPath)
	}

	if cfg.FlightAddr != "" {
		client := arrow_client.NewFlightClientAddr(cfg.FlightAddr)
		if err := arrow_client.Publish(ctx, client, "bmm_latency", table); err != nil {
			return fmt.Errorf("publish results: %w", err)
		}
	}
	return nil
}
