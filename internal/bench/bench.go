// Package bench times device operations with warm-up and synchronization
// barriers around the measured region.
package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/23skdu/longbow-bmm/internal/device"
)

const (
	DefaultWarmup     = 8
	DefaultIterations = 80
)

// Synchronizer blocks until all outstanding device work has completed.
type Synchronizer interface {
	Synchronize() error
}

// Operation is one timed invocation. It returns the tensors it produced so
// the harness can keep them alive across the timed region.
type Operation func(a, b device.Tensor) ([]device.Tensor, error)

// Harness holds the iteration counts for one timing run.
type Harness struct {
	Warmup     int
	Iterations int
}

func NewHarness() Harness {
	return Harness{Warmup: DefaultWarmup, Iterations: DefaultIterations}
}

// Run invokes op Warmup times, synchronizes, then times Iterations
// invocations bracketed by barriers. The result is the total elapsed time in
// milliseconds over all Iterations; callers divide when they need a per-call
// figure.
func (h Harness) Run(ctx context.Context, dev Synchronizer, op Operation, a, b device.Tensor) (float64, error) {
	// every result stays referenced until the closing barrier
	var held []device.Tensor
	defer func() {
		if len(held) > 0 {
			_ = dev.Synchronize()
			release(dev, held)
		}
	}()

	for i := 0; i < h.Warmup; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		out, err := op(a, b)
		held = append(held, out...)
		if err != nil {
			return 0, fmt.Errorf("warmup %d: %w", i, err)
		}
	}
	if err := dev.Synchronize(); err != nil {
		return 0, fmt.Errorf("synchronize before timing: %w", err)
	}
	held = release(dev, held)

	start := time.Now()
	for i := 0; i < h.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		out, err := op(a, b)
		held = append(held, out...)
		if err != nil {
			return 0, fmt.Errorf("iteration %d: %w", i, err)
		}
	}
	if err := dev.Synchronize(); err != nil {
		return 0, fmt.Errorf("synchronize after timing: %w", err)
	}
	elapsed := time.Since(start)

	return float64(elapsed.Nanoseconds()) * 1e-6, nil
}

type releaser interface {
	Release(t device.Tensor)
}

// release hands ts back to dev when it tracks allocations. Only call it once
// the tensors are no longer referenced by queued work.
func release(dev Synchronizer, ts []device.Tensor) []device.Tensor {
	if r, ok := dev.(releaser); ok {
		for _, t := range ts {
			r.Release(t)
		}
	}
	return ts[:0]
}

// BMM is a single batched matmul on dev.
func BMM(dev device.Device, mode device.Transpose) Operation {
	return func(a, b device.Tensor) ([]device.Tensor, error) {
		out, err := dev.BatchedMatMul(a, b, mode)
		if err != nil {
			return nil, err
		}
		return []device.Tensor{out}, nil
	}
}

// Repeat wraps the primitive so that one invocation calls it n times and then
// synchronizes, amortizing per-call dispatch overhead.
func Repeat(dev device.Device, n int, primitive Operation) Operation {
	return func(a, b device.Tensor) ([]device.Tensor, error) {
		ys := make([]device.Tensor, 0, n)
		for i := 0; i < n; i++ {
			out, err := primitive(a, b)
			if err != nil {
				return ys, err
			}
			ys = append(ys, out...)
		}
		if err := dev.Synchronize(); err != nil {
			return ys, err
		}
		return ys, nil
	}
}
