package memsampler

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func constant(bytes int64) Inspector {
	return InspectorFunc(func() (int64, error) { return bytes, nil })
}

func TestMeasureCollectsExactlyTwoSamples(t *testing.T) {
	s := New(constant(1 << 30))
	s.Interval = 5 * time.Millisecond

	buf, err := Measure(context.Background(), s, func(ctx context.Context) error {
		time.Sleep(4 * s.Interval)
		return nil
	})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if len(buf) != 2 {
		t.Fatalf("expected exactly 2 samples, got %d", len(buf))
	}
	for _, v := range buf {
		if v != 1.0 {
			t.Errorf("expected 1.0 GB, got %v", v)
		}
	}
}

func TestSampleCountIgnoresTimeout(t *testing.T) {
	s := New(constant(0))
	s.Interval = time.Millisecond
	s.Timeout = time.Hour

	buf, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(buf) != DefaultCount {
		t.Errorf("expected %d samples regardless of timeout, got %d", DefaultCount, len(buf))
	}
}

func TestMeasureWaitsForSampler(t *testing.T) {
	var calls atomic.Int32
	s := New(InspectorFunc(func() (int64, error) {
		calls.Add(1)
		return 2 << 30, nil
	}))
	s.Interval = 10 * time.Millisecond

	start := time.Now()
	buf, err := Measure(context.Background(), s, func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	// the sampler sleeps after each of its two samples
	if time.Since(start) < 2*s.Interval {
		t.Errorf("Measure returned before the sampler finished")
	}
	if int(calls.Load()) != len(buf) || len(buf) != 2 {
		t.Errorf("expected 2 samples and 2 reads, got %d samples and %d reads", len(buf), calls.Load())
	}
}

func TestTimeoutStopsSampling(t *testing.T) {
	s := New(constant(1 << 20))
	s.Interval = 50 * time.Millisecond
	s.Timeout = 10 * time.Millisecond
	s.Count = 100

	start := time.Now()
	buf, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(buf) != 1 {
		t.Errorf("expected sampling to stop after the first sample, got %d", len(buf))
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout did not stop the sampler")
	}
}

func TestCancelledBeforeFirstSample(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf, err := New(constant(1)).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := Peak(buf); !errors.Is(err, ErrNoSamples) {
		t.Errorf("expected ErrNoSamples for an empty window, got %v", err)
	}
}

func TestInspectorErrorPropagates(t *testing.T) {
	boom := errors.New("no proc")
	s := New(InspectorFunc(func() (int64, error) { return 0, boom }))

	_, err := Measure(context.Background(), s, func(ctx context.Context) error { return nil })
	if !errors.Is(err, boom) {
		t.Errorf("expected inspector error, got %v", err)
	}
}

func TestMeasureReturnsOperationError(t *testing.T) {
	s := New(constant(1))
	s.Interval = time.Millisecond
	boom := errors.New("oom")

	_, err := Measure(context.Background(), s, func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected operation error, got %v", err)
	}
}

func TestPeak(t *testing.T) {
	if _, err := Peak(nil); !errors.Is(err, ErrNoSamples) {
		t.Errorf("expected ErrNoSamples, got %v", err)
	}
	got, err := Peak(Buffer{0.5, 1.75, 1.25})
	if err != nil {
		t.Fatalf("Peak: %v", err)
	}
	if got != 1.75 {
		t.Errorf("expected 1.75, got %v", got)
	}
}

func TestProcInspector(t *testing.T) {
	i, err := NewProcInspector()
	if err != nil {
		t.Skipf("process inspector unavailable: %v", err)
	}
	rss, err := i.ResidentBytes()
	if err != nil {
		t.Fatalf("ResidentBytes: %v", err)
	}
	if rss <= 0 {
		t.Errorf("expected positive resident memory, got %d", rss)
	}
}

func TestProcInspectorTracksResidentGrowth(t *testing.T) {
	i, err := NewProcInspector()
	if err != nil {
		t.Skipf("process inspector unavailable: %v", err)
	}
	before, err := i.ResidentBytes()
	if err != nil {
		t.Fatalf("ResidentBytes: %v", err)
	}

	buf := make([]byte, 64<<20)
	for j := 0; j < len(buf); j += 4096 {
		buf[j] = 1
	}
	after, err := i.ResidentBytes()
	if err != nil {
		t.Fatalf("ResidentBytes: %v", err)
	}
	runtime.KeepAlive(buf)

	if after-before < 32<<20 {
		t.Errorf("expected RSS to grow by at least 32 MiB after touching 64 MiB, got %d -> %d", before, after)
	}
}
