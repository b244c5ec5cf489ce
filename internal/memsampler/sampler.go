// Package memsampler polls process resident memory on a background goroutine
// while a measured operation runs.
package memsampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-bmm/internal/metrics"
)

const (
	DefaultInterval = 30 * time.Millisecond
	DefaultTimeout  = 10 * time.Second
	// DefaultCount is fixed and does not derive from Timeout / Interval.
	DefaultCount = 2
)

const bytesPerGB = float64(1 << 30)

var ErrNoSamples = errors.New("memory sampler collected no samples")

// Inspector reports the resident set size of the current process in bytes.
type Inspector interface {
	ResidentBytes() (int64, error)
}

// InspectorFunc adapts a function to Inspector.
type InspectorFunc func() (int64, error)

func (f InspectorFunc) ResidentBytes() (int64, error) { return f() }

// Buffer holds the samples of one measurement window, in gigabytes.
type Buffer []float64

type Sampler struct {
	Inspector Inspector
	Interval  time.Duration
	Timeout   time.Duration
	Count     int
}

func New(inspector Inspector) *Sampler {
	return &Sampler{
		Inspector: inspector,
		Interval:  DefaultInterval,
		Timeout:   DefaultTimeout,
		Count:     DefaultCount,
	}
}

// Run takes Count samples, sleeping Interval after each one. The first sample
// is taken immediately. Cancellation of ctx, or Timeout elapsing, stops
// sampling between samples and returns what was gathered so far.
func (s *Sampler) Run(ctx context.Context) (Buffer, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	buf := make(Buffer, 0, s.Count)
	for i := 0; i < s.Count; i++ {
		if ctx.Err() != nil {
			return buf, nil
		}
		rss, err := s.Inspector.ResidentBytes()
		if err != nil {
			return buf, fmt.Errorf("read resident memory: %w", err)
		}
		buf = append(buf, float64(rss)/bytesPerGB)
		metrics.RecordMemorySample()

		select {
		case <-ctx.Done():
			return buf, nil
		case <-time.After(s.Interval):
		}
	}
	return buf, nil
}

// Measure runs fn while the sampler polls in the background and returns the
// samples only after the sampler goroutine has exited.
func Measure(ctx context.Context, s *Sampler, fn func(ctx context.Context) error) (Buffer, error) {
	var buf Buffer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		buf, err = s.Run(gctx)
		return err
	})

	fnErr := fn(ctx)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if fnErr != nil {
		return nil, fnErr
	}
	return buf, nil
}

// Peak returns the largest sample in buf.
func Peak(buf Buffer) (float64, error) {
	if len(buf) == 0 {
		return 0, ErrNoSamples
	}
	peak := buf[0]
	for _, v := range buf[1:] {
		if v > peak {
			peak = v
		}
	}
	return peak, nil
}
