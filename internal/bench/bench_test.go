package bench

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/23skdu/longbow-bmm/internal/device"
)

type fakeTensor struct{ shape device.Shape }

func (t fakeTensor) Shape() device.Shape { return t.shape }
func (t fakeTensor) DType() device.DType { return device.Float32 }
func (t fakeTensor) Bytes() int64        { return 0 }

// recorder tracks the order of calls seen by the harness.
type recorder struct {
	events   []string
	released int
	syncErr  error
}

func (r *recorder) Synchronize() error {
	r.events = append(r.events, "sync")
	return r.syncErr
}

func (r *recorder) Release(device.Tensor) { r.released++ }

func (r *recorder) op(a, b device.Tensor) ([]device.Tensor, error) {
	r.events = append(r.events, "op")
	return []device.Tensor{a}, nil
}

func TestRunCallSequence(t *testing.T) {
	r := &recorder{}
	h := Harness{Warmup: 2, Iterations: 3}

	elapsed, err := h.Run(context.Background(), r, r.op, fakeTensor{}, fakeTensor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed < 0 {
		t.Errorf("elapsed must be non-negative, got %v", elapsed)
	}

	want := []string{"op", "op", "sync", "op", "op", "op", "sync", "sync"}
	if len(r.events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, r.events)
	}
	for i := range want {
		if r.events[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s (%v)", i, want[i], r.events[i], r.events)
		}
	}
	if r.released != 5 {
		t.Errorf("expected all 5 results released, got %d", r.released)
	}
}

func TestRunMeasuresOnlyTimedRegion(t *testing.T) {
	sleep := 5 * time.Millisecond
	op := func(a, b device.Tensor) ([]device.Tensor, error) {
		time.Sleep(sleep)
		return nil, nil
	}
	h := Harness{Warmup: 4, Iterations: 2}

	elapsed, err := h.Run(context.Background(), &recorder{}, op, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed < 2*5 {
		t.Errorf("expected at least 10ms, got %vms", elapsed)
	}
	// warmup sleeps must not be counted
	if elapsed > 6*5*3 {
		t.Errorf("elapsed %vms looks like it includes warmup", elapsed)
	}
}

func TestRunGrowsWithIterations(t *testing.T) {
	op := func(a, b device.Tensor) ([]device.Tensor, error) {
		time.Sleep(time.Millisecond)
		return nil, nil
	}

	short, err := Harness{Warmup: 0, Iterations: 2}.Run(context.Background(), &recorder{}, op, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	long, err := Harness{Warmup: 0, Iterations: 20}.Run(context.Background(), &recorder{}, op, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if long < short {
		t.Errorf("20 iterations (%vms) finished faster than 2 (%vms)", long, short)
	}
}

func TestRunRepeatable(t *testing.T) {
	op := func(a, b device.Tensor) ([]device.Tensor, error) {
		time.Sleep(2 * time.Millisecond)
		return []device.Tensor{a}, nil
	}
	h := Harness{Warmup: 1, Iterations: 5}

	first, err := h.Run(context.Background(), &recorder{}, op, fakeTensor{}, fakeTensor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := h.Run(context.Background(), &recorder{}, op, fakeTensor{}, fakeTensor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// both runs sleep at least 10ms; allow generous scheduler noise
	for _, v := range []float64{first, second} {
		if v < 10 || v > 1000 {
			t.Errorf("elapsed %vms outside expected bounds", v)
		}
	}
	if ratio := math.Max(first, second) / math.Min(first, second); ratio > 2 {
		t.Errorf("repeated runs differ by %.2fx (%vms vs %vms)", ratio, first, second)
	}
}

func TestRunPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")

	failing := func(a, b device.Tensor) ([]device.Tensor, error) { return nil, boom }
	if _, err := (Harness{Warmup: 1, Iterations: 1}).Run(context.Background(), &recorder{}, failing, nil, nil); !errors.Is(err, boom) {
		t.Errorf("expected op error, got %v", err)
	}

	r := &recorder{syncErr: boom}
	if _, err := (Harness{Warmup: 0, Iterations: 1}).Run(context.Background(), r, r.op, nil, nil); !errors.Is(err, boom) {
		t.Errorf("expected sync error, got %v", err)
	}
}

func TestRunHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &recorder{}
	if _, err := NewHarness().Run(ctx, r, r.op, nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRepeatAndBMMOnDevice(t *testing.T) {
	dev := device.NewContext(device.WithNumThreads(2))
	defer dev.Close()

	a, err := dev.Randn(device.Shape{2, 16, 16}, device.Float32, 0.1)
	if err != nil {
		t.Fatalf("Randn: %v", err)
	}
	b, err := dev.Randn(device.Shape{2, 16, 16}, device.Float32, 0.1)
	if err != nil {
		t.Fatalf("Randn: %v", err)
	}
	base := dev.AllocatedBytes()

	op := Repeat(dev, 3, BMM(dev, device.NN))
	ys, err := op(a, b)
	if err != nil {
		t.Fatalf("op: %v", err)
	}
	if len(ys) != 3 {
		t.Fatalf("expected 3 results, got %d", len(ys))
	}
	for _, y := range ys {
		dev.Release(y)
	}

	elapsed, err := Harness{Warmup: 1, Iterations: 2}.Run(context.Background(), dev, op, a, b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed < 0 {
		t.Errorf("negative elapsed %v", elapsed)
	}
	if dev.AllocatedBytes() != base {
		t.Errorf("harness leaked %d bytes", dev.AllocatedBytes()-base)
	}
}
