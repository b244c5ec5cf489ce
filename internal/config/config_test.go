package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/23skdu/longbow-bmm/internal/bench"
	"github.com/23skdu/longbow-bmm/internal/memsampler"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Variant != VariantFootprint {
		t.Errorf("expected footprint variant, got %v", cfg.Variant)
	}
	if !reflect.DeepEqual(cfg.BatchSizes, []int{1, 2, 4, 8, 16, 32}) {
		t.Errorf("unexpected batch sizes %v", cfg.BatchSizes)
	}
	if !reflect.DeepEqual(cfg.MatrixSizes, []int{1000, 2000, 4000}) {
		t.Errorf("unexpected matrix sizes %v", cfg.MatrixSizes)
	}
	if cfg.SampleCount != 2 {
		t.Errorf("expected SampleCount 2, got %d", cfg.SampleCount)
	}
	if cfg.SampleInterval != 30*time.Millisecond {
		t.Errorf("expected SampleInterval 30ms, got %v", cfg.SampleInterval)
	}
	if cfg.SampleTimeout != 10*time.Second {
		t.Errorf("expected SampleTimeout 10s, got %v", cfg.SampleTimeout)
	}
	if cfg.OutputPath != "benchmark.csv" {
		t.Errorf("expected benchmark.csv, got %q", cfg.OutputPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDefaultLatency(t *testing.T) {
	cfg := DefaultLatency()

	if cfg.Warmup != 8 || cfg.BenchIters != 80 || cfg.FuncIters != 5 {
		t.Errorf("unexpected iteration counts %d/%d/%d", cfg.Warmup, cfg.BenchIters, cfg.FuncIters)
	}
	if !reflect.DeepEqual(cfg.DTypes, []string{"float32", "float16"}) {
		t.Errorf("unexpected dtypes %v", cfg.DTypes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default latency config should validate: %v", err)
	}
}

func TestDefaultsFollowPackageConstants(t *testing.T) {
	fp := Default()
	if fp.SampleInterval != memsampler.DefaultInterval || fp.SampleTimeout != memsampler.DefaultTimeout || fp.SampleCount != memsampler.DefaultCount {
		t.Errorf("footprint sampler knobs drifted from memsampler defaults: %v/%v/%d",
			fp.SampleInterval, fp.SampleTimeout, fp.SampleCount)
	}

	lat := DefaultLatency()
	h := bench.NewHarness()
	if lat.Warmup != h.Warmup || lat.BenchIters != h.Iterations {
		t.Errorf("latency iteration counts %d/%d differ from bench defaults %d/%d",
			lat.Warmup, lat.BenchIters, h.Warmup, h.Iterations)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"empty batch sizes", func(c *Config) { c.BatchSizes = nil }, true},
		{"empty matrix sizes", func(c *Config) { c.MatrixSizes = nil }, true},
		{"empty dtypes", func(c *Config) { c.DTypes = nil }, true},
		{"empty transposes", func(c *Config) { c.Transposes = nil }, true},
		{"negative warmup", func(c *Config) { c.Warmup = -1 }, true},
		{"zero bench iters", func(c *Config) { c.BenchIters = 0 }, true},
		{"zero func iters", func(c *Config) { c.FuncIters = 0 }, true},
		{"zero interval", func(c *Config) { c.SampleInterval = 0 }, true},
		{"zero sample count", func(c *Config) { c.SampleCount = 0 }, true},
		{"zero timeout", func(c *Config) { c.SampleTimeout = 0 }, true},
		{"empty output path", func(c *Config) { c.OutputPath = "" }, true},
		{"negative memory limit", func(c *Config) { c.DeviceMemoryLimit = -1 }, true},
		// sweep values are not validated here
		{"zero batch size", func(c *Config) { c.BatchSizes = []int{0} }, false},
		{"negative matrix size", func(c *Config) { c.MatrixSizes = []int{-5} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateLatencyIgnoresSampler(t *testing.T) {
	cfg := DefaultLatency()
	cfg.SampleInterval = 0
	cfg.OutputPath = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("latency config should not need sampler settings: %v", err)
	}
}

func TestParseInts(t *testing.T) {
	got, err := ParseInts(" 1, 2,,4 ")
	if err != nil {
		t.Fatalf("ParseInts: %v", err)
	}
	if !reflect.DeepEqual(got, []int{1, 2, 4}) {
		t.Errorf("expected [1 2 4], got %v", got)
	}

	if _, err := ParseInts("1,x"); err == nil {
		t.Error("expected error for non-integer entry")
	}

	if JoinInts([]int{3000, 4000}) != "3000,4000" {
		t.Errorf("unexpected JoinInts output %q", JoinInts([]int{3000, 4000}))
	}
}

func TestVariantString(t *testing.T) {
	if VariantFootprint.String() != "footprint" || VariantLatency.String() != "latency" {
		t.Error("unexpected variant names")
	}
}
