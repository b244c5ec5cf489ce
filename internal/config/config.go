package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/23skdu/longbow-bmm/internal/bench"
	"github.com/23skdu/longbow-bmm/internal/memsampler"
)

// Variant selects which benchmark program a Config drives.
type Variant int

const (
	// VariantFootprint times one bmm per configuration and samples RSS.
	VariantFootprint Variant = iota
	// VariantLatency averages many timed invocations per configuration.
	VariantLatency
)

func (v Variant) String() string {
	switch v {
	case VariantFootprint:
		return "footprint"
	case VariantLatency:
		return "latency"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

type Config struct {
	Variant Variant

	BatchSizes  []int
	MatrixSizes []int
	DTypes      []string
	Transposes  []string

	Warmup         int
	BenchIters     int
	FuncIters      int
	SampleInterval time.Duration
	SampleTimeout  time.Duration
	SampleCount    int

	OutputPath        string
	DeviceMemoryLimit int64

	LogLevel  string
	LogFormat string

	MetricsAddr string
	FlightAddr  string
}

// Validate checks the harness knobs. Sweep values (batch sizes, matrix sizes)
// are not checked here; invalid ones fail at device allocation.
func (c *Config) Validate() error {
	if len(c.BatchSizes) == 0 {
		return fmt.Errorf("invalid batch_sizes: empty")
	}
	if len(c.MatrixSizes) == 0 {
		return fmt.Errorf("invalid matrix_sizes: empty")
	}
	if len(c.DTypes) == 0 {
		return fmt.Errorf("invalid dtypes: empty")
	}
	if len(c.Transposes) == 0 {
		return fmt.Errorf("invalid transposes: empty")
	}
	if c.Warmup < 0 {
		return fmt.Errorf("invalid warmup: %d (must be non-negative)", c.Warmup)
	}
	if c.BenchIters <= 0 {
		return fmt.Errorf("invalid bench_iters: %d (must be positive)", c.BenchIters)
	}
	if c.FuncIters <= 0 {
		return fmt.Errorf("invalid func_iters: %d (must be positive)", c.FuncIters)
	}
	if c.DeviceMemoryLimit < 0 {
		return fmt.Errorf("invalid device_memory_limit: %d (must be non-negative)", c.DeviceMemoryLimit)
	}

	if c.Variant == VariantFootprint {
		if err := c.validateSampler(); err != nil {
			return err
		}
		if c.OutputPath == "" {
			return fmt.Errorf("invalid output_path: empty")
		}
	}

	return nil
}

func (c *Config) validateSampler() error {
	if c.SampleInterval <= 0 {
		return fmt.Errorf("invalid sample_interval: %v (must be positive)", c.SampleInterval)
	}
	if c.SampleCount <= 0 {
		return fmt.Errorf("invalid sample_count: %d (must be positive)", c.SampleCount)
	}
	if c.SampleTimeout <= 0 {
		return fmt.Errorf("invalid sample_timeout: %v (must be positive)", c.SampleTimeout)
	}
	return nil
}

// Default returns the footprint benchmark configuration.
func Default() Config {
	return Config{
		Variant:     VariantFootprint,
		BatchSizes:  []int{1, 2, 4, 8, 16, 32},
		MatrixSizes: []int{1000, 2000, 4000},
		DTypes:      []string{"bfloat16"},
		Transposes:  []string{"nn"},

		Warmup:         0,
		BenchIters:     1,
		FuncIters:      1,
		SampleInterval: memsampler.DefaultInterval,
		SampleTimeout:  memsampler.DefaultTimeout,
		SampleCount:    memsampler.DefaultCount,

		OutputPath: "benchmark.csv",

		LogLevel:  "info",
		LogFormat: "console",
	}
}

// DefaultLatency returns the latency benchmark configuration.
func DefaultLatency() Config {
	return Config{
		Variant:     VariantLatency,
		BatchSizes:  []int{2, 4, 8, 16, 32},
		MatrixSizes: []int{3000, 4000, 5000, 6000, 7000},
		DTypes:      []string{"float32", "float16"},
		Transposes:  []string{"nn"},

		Warmup:     bench.DefaultWarmup,
		BenchIters: bench.DefaultIterations,
		FuncIters:  5,

		LogLevel:  "info",
		LogFormat: "console",
	}
}

// ParseInts parses a comma-separated list of integers such as "1,2,4".
func ParseInts(s string) ([]int, error) {
	var out []int
	for _, field := range ParseList(s) {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", field, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseList splits a comma-separated list, dropping empty entries.
func ParseList(s string) []string {
	var out []string
	for _, field := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// JoinInts is the inverse of ParseInts, used for flag defaults.
func JoinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
