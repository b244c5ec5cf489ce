// Package sweep drives a benchmark over the Cartesian product of batch
// sizes, matrix sizes, dtypes and transpose modes.
package sweep

import (
	"context"
	"fmt"
	"math"

	"github.com/23skdu/longbow-bmm/internal/bench"
	"github.com/23skdu/longbow-bmm/internal/config"
	"github.com/23skdu/longbow-bmm/internal/device"
	"github.com/23skdu/longbow-bmm/internal/logger"
	"github.com/23skdu/longbow-bmm/internal/memsampler"
	"github.com/23skdu/longbow-bmm/internal/metrics"
	"github.com/23skdu/longbow-bmm/internal/results"
)

// Configuration is one point of the sweep: a (B, M, K) x (B, K, N) product.
type Configuration struct {
	BatchSize int
	M, N, K   int
	DType     device.DType
	Transpose device.Transpose
}

func (c Configuration) String() string {
	return fmt.Sprintf("batch=%d m=%d n=%d k=%d dtype=%s transpose=%s",
		c.BatchSize, c.M, c.N, c.K, c.DType, c.Transpose)
}

// Configurations enumerates every combination exactly once with batch size
// outermost, then matrix size, dtype and transpose mode. Matrices are square.
func Configurations(batchSizes, matrixSizes []int, dtypes []device.DType, transposes []device.Transpose) []Configuration {
	out := make([]Configuration, 0, len(batchSizes)*len(matrixSizes)*len(dtypes)*len(transposes))
	for _, batch := range batchSizes {
		for _, size := range matrixSizes {
			for _, dtype := range dtypes {
				for _, mode := range transposes {
					out = append(out, Configuration{
						BatchSize: batch,
						M:         size,
						N:         size,
						K:         size,
						DType:     dtype,
						Transpose: mode,
					})
				}
			}
		}
	}
	return out
}

// Plan resolves the dtype and transpose names of cfg and enumerates the sweep.
func Plan(cfg config.Config) ([]Configuration, error) {
	dtypes := make([]device.DType, 0, len(cfg.DTypes))
	for _, name := range cfg.DTypes {
		d, err := device.ParseDType(name)
		if err != nil {
			return nil, err
		}
		dtypes = append(dtypes, d)
	}
	modes := make([]device.Transpose, 0, len(cfg.Transposes))
	for _, name := range cfg.Transposes {
		m, err := device.ParseTranspose(name)
		if err != nil {
			return nil, err
		}
		modes = append(modes, m)
	}
	return Configurations(cfg.BatchSizes, cfg.MatrixSizes, dtypes, modes), nil
}

// Progress is called after each configuration is recorded.
type Progress func(done, total int, c Configuration, rec results.Record)

type Driver struct {
	Device    device.Device
	Variant   config.Variant
	Harness   bench.Harness
	FuncIters int
	// Sampler is required for the footprint variant.
	Sampler  *memsampler.Sampler
	Progress Progress

	log *logger.Logger
}

// NewDriver wires a driver from cfg. sampler may be nil for the latency variant.
func NewDriver(dev device.Device, cfg config.Config, sampler *memsampler.Sampler) *Driver {
	return &Driver{
		Device:    dev,
		Variant:   cfg.Variant,
		Harness:   bench.Harness{Warmup: cfg.Warmup, Iterations: cfg.BenchIters},
		FuncIters: cfg.FuncIters,
		Sampler:   sampler,
		log:       logger.Log.With("component", "sweep", "variant", cfg.Variant.String()),
	}
}

func (d *Driver) layout() results.Layout {
	if d.Variant == config.VariantLatency {
		return results.LatencyLayout
	}
	return results.FootprintLayout
}

// Run measures every configuration in order. The first failure aborts the
// sweep; the returned table still holds the rows measured before it.
func (d *Driver) Run(ctx context.Context, configs []Configuration) (*results.Table, error) {
	if d.log == nil {
		d.log = logger.Log.With("component", "sweep")
	}
	if d.Variant == config.VariantFootprint && d.Sampler == nil {
		return nil, fmt.Errorf("footprint sweep requires a memory sampler")
	}

	table := results.NewTable(d.layout())
	for i, c := range configs {
		rec, err := d.measure(ctx, c)
		if err != nil {
			return table, fmt.Errorf("configuration %s: %w", c, err)
		}
		table.Append(rec)

		d.log.Debug("configuration measured",
			"index", i+1,
			"total", len(configs),
			"config", c.String(),
			"time", rec.Time,
			"memory_gb", rec.Memory,
		)
		if d.Progress != nil {
			d.Progress(i+1, len(configs), c, rec)
		}
	}
	return table, nil
}

func (d *Driver) measure(ctx context.Context, c Configuration) (results.Record, error) {
	aShape, bShape := c.Transpose.Operands(c.BatchSize, c.M, c.N, c.K)

	a, err := d.Device.Randn(aShape, c.DType, 1/math.Sqrt(float64(c.M+c.K)))
	if err != nil {
		return results.Record{}, fmt.Errorf("allocate a%s: %w", aShape, err)
	}
	defer d.Device.Release(a)

	b, err := d.Device.Randn(bShape, c.DType, 1/math.Sqrt(float64(c.N+c.K)))
	if err != nil {
		return results.Record{}, fmt.Errorf("allocate b%s: %w", bShape, err)
	}
	defer d.Device.Release(b)

	if err := d.Device.Synchronize(); err != nil {
		return results.Record{}, err
	}

	rec := results.Record{
		BatchSize:  c.BatchSize,
		MatrixSize: c.M,
		DType:      c.DType.String(),
		Transpose:  c.Transpose.String(),
	}

	if d.Variant == config.VariantLatency {
		op := bench.Repeat(d.Device, d.FuncIters, bench.BMM(d.Device, c.Transpose))
		elapsed, err := d.Harness.Run(ctx, d.Device, op, a, b)
		if err != nil {
			return results.Record{}, err
		}
		metrics.RecordMeasurement(d.Variant.String(), rec.DType, elapsed)
		rec.Time = elapsed / float64(d.Harness.Iterations*d.FuncIters)
		return rec, nil
	}

	var elapsed float64
	op := bench.BMM(d.Device, c.Transpose)
	buf, err := memsampler.Measure(ctx, d.Sampler, func(ctx context.Context) error {
		var err error
		elapsed, err = d.Harness.Run(ctx, d.Device, op, a, b)
		return err
	})
	if err != nil {
		return results.Record{}, err
	}
	peak, err := memsampler.Peak(buf)
	if err != nil {
		return results.Record{}, err
	}
	metrics.RecordMeasurement(d.Variant.String(), rec.DType, elapsed)
	metrics.RecordPeakMemory(c.BatchSize, c.M, peak)

	rec.Time = elapsed / 1000
	rec.Memory = peak
	rec.HasMemory = true
	return rec, nil
}
