package device

import (
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/23skdu/longbow-bmm/internal/metrics"
)

// Tensor is a batched matrix resident on a device.
type Tensor interface {
	Shape() Shape
	DType() DType
	Bytes() int64
}

// Device is the tensor backend the benchmarks drive. Kernels may run
// asynchronously; Synchronize blocks until all queued work has finished.
type Device interface {
	Name() string
	Randn(shape Shape, dtype DType, std float64) (Tensor, error)
	BatchedMatMul(a, b Tensor, mode Transpose) (Tensor, error)
	Synchronize() error
	Release(t Tensor)
	AllocatedBytes() int64
}

const streamDepth = 64

// Context is a CPU device with a single in-order stream. Kernels are queued
// and executed by the stream goroutine, so BatchedMatMul returns before the
// product is computed.
type Context struct {
	numThreads  int
	memoryLimit int64
	memUsed     atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand

	queue   chan func() error
	pending sync.WaitGroup
	errMu   sync.Mutex
	err     error
	closeMu sync.Once
}

type Option func(*Context)

// WithMemoryLimit rejects allocations that would push usage past limit bytes.
// Zero means unlimited.
func WithMemoryLimit(limit int64) Option {
	return func(c *Context) { c.memoryLimit = limit }
}

func WithSeed(seed uint64) Option {
	return func(c *Context) { c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func WithNumThreads(n int) Option {
	return func(c *Context) {
		if n > 0 {
			c.numThreads = n
		}
	}
}

func NewContext(opts ...Option) *Context {
	c := &Context{
		numThreads: runtime.NumCPU(),
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		queue:      make(chan func() error, streamDepth),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.runStream()
	return c
}

func (c *Context) Name() string {
	return "cpu"
}

func (c *Context) NumThreads() int {
	return c.numThreads
}

func (c *Context) AllocatedBytes() int64 {
	return c.memUsed.Load()
}

// Close drains the stream and stops its goroutine.
func (c *Context) Close() error {
	err := c.Synchronize()
	c.closeMu.Do(func() { close(c.queue) })
	return err
}

func (c *Context) runStream() {
	for kernel := range c.queue {
		if err := kernel(); err != nil {
			c.errMu.Lock()
			if c.err == nil {
				c.err = err
			}
			c.errMu.Unlock()
		}
		c.pending.Done()
	}
}

func (c *Context) enqueue(kernel func() error) {
	c.pending.Add(1)
	c.queue <- kernel
}

// Synchronize waits for every queued kernel and returns the first kernel
// error raised since the previous barrier.
func (c *Context) Synchronize() error {
	c.pending.Wait()
	c.errMu.Lock()
	defer c.errMu.Unlock()
	err := c.err
	c.err = nil
	return err
}

type cpuTensor struct {
	shape    Shape
	dtype    DType
	f32      []float32
	u16      []uint16
	released atomic.Bool
}

func (t *cpuTensor) Shape() Shape { return t.shape }
func (t *cpuTensor) DType() DType { return t.dtype }

func (t *cpuTensor) Bytes() int64 {
	return int64(t.shape.Elements()) * int64(t.dtype.Size())
}

func (c *Context) alloc(shape Shape, dtype DType) (*cpuTensor, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidShape, shape)
	}
	t := &cpuTensor{shape: shape, dtype: dtype}
	size := t.Bytes()
	used := c.memUsed.Add(size)
	if c.memoryLimit > 0 && used > c.memoryLimit {
		c.memUsed.Add(-size)
		metrics.RecordAllocationFailure()
		return nil, fmt.Errorf("%w: tried to allocate %d bytes with %d of %d in use",
			ErrOutOfMemory, size, used-size, c.memoryLimit)
	}
	metrics.RecordDeviceMemory(used)

	n := shape.Elements()
	if dtype == Float32 {
		t.f32 = make([]float32, n)
	} else {
		t.u16 = make([]uint16, n)
	}
	return t, nil
}

// Randn allocates a tensor filled with Normal(0, std) samples.
func (c *Context) Randn(shape Shape, dtype DType, std float64) (Tensor, error) {
	t, err := c.alloc(shape, dtype)
	if err != nil {
		return nil, err
	}

	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	if dtype == Float32 {
		for i := range t.f32 {
			t.f32[i] = float32(c.rng.NormFloat64() * std)
		}
		return t, nil
	}
	for i := range t.u16 {
		v := float32(c.rng.NormFloat64() * std)
		if dtype == BFloat16 {
			t.u16[i] = Float32ToBFloat16(v)
		} else {
			t.u16[i] = Float32ToFloat16(v)
		}
	}
	return t, nil
}

// FromFloat32 copies data into a new tensor of the given shape and dtype.
func (c *Context) FromFloat32(shape Shape, dtype DType, data []float32) (Tensor, error) {
	if len(data) != shape.Elements() {
		return nil, fmt.Errorf("%w: %d values for %s", ErrShapeMismatch, len(data), shape)
	}
	t, err := c.alloc(shape, dtype)
	if err != nil {
		return nil, err
	}
	if dtype == Float32 {
		copy(t.f32, data)
	} else {
		encodeHalf(dtype, data, t.u16)
	}
	return t, nil
}

// ToFloat32 synchronizes the stream and returns a float32 copy of t.
func (c *Context) ToFloat32(t Tensor) ([]float32, error) {
	ct, err := c.own(t)
	if err != nil {
		return nil, err
	}
	if err := c.Synchronize(); err != nil {
		return nil, err
	}
	out := make([]float32, ct.shape.Elements())
	if ct.dtype == Float32 {
		copy(out, ct.f32)
	} else {
		decodeHalf(ct.dtype, ct.u16, out)
	}
	return out, nil
}

// Release returns t's memory to the device. Tensors read by queued kernels
// must only be released after Synchronize.
func (c *Context) Release(t Tensor) {
	ct, ok := t.(*cpuTensor)
	if !ok || ct == nil || ct.released.Swap(true) {
		return
	}
	used := c.memUsed.Add(-ct.Bytes())
	metrics.RecordDeviceMemory(used)
	ct.f32 = nil
	ct.u16 = nil
}

func (c *Context) own(t Tensor) (*cpuTensor, error) {
	ct, ok := t.(*cpuTensor)
	if !ok || ct == nil {
		return nil, fmt.Errorf("tensor %T does not belong to the cpu device", t)
	}
	if ct.released.Load() {
		return nil, ErrReleased
	}
	return ct, nil
}

// BatchedMatMul queues out[i] = op(a[i]) * op(b[i]) for every batch index and
// returns out immediately.
func (c *Context) BatchedMatMul(a, b Tensor, mode Transpose) (Tensor, error) {
	ta, err := c.own(a)
	if err != nil {
		return nil, err
	}
	tb, err := c.own(b)
	if err != nil {
		return nil, err
	}
	if ta.dtype != tb.dtype {
		return nil, fmt.Errorf("%w: %s x %s", ErrDTypeMismatch, ta.dtype, tb.dtype)
	}
	shape, err := ResultShape(ta.shape, tb.shape, mode)
	if err != nil {
		return nil, err
	}
	out, err := c.alloc(shape, ta.dtype)
	if err != nil {
		return nil, err
	}

	c.enqueue(func() error {
		start := time.Now()
		if err := c.bmm(ta, tb, out, mode); err != nil {
			return err
		}
		metrics.RecordKernelDuration(out.dtype.String(), time.Since(start))
		return nil
	})
	return out, nil
}

// bmm fans the batch out over worker goroutines. A panic in a worker (for
// example an operand released while the kernel was queued) is returned as an
// error instead of crashing the stream.
func (c *Context) bmm(a, b, out *cpuTensor, mode Transpose) error {
	batches := out.shape.Batch()
	parallelism := c.numThreads
	if parallelism > batches {
		parallelism = batches
	}
	chunkSize := (batches + parallelism - 1) / parallelism

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i := 0; i < batches; i += chunkSize {
		end := i + chunkSize
		if end > batches {
			end = batches
		}
		wg.Add(1)
		go func(batchStart, batchEnd int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("%w: batched matmul %s x %s: %v", ErrKernelFault, a.shape, b.shape, r)
					}
					mu.Unlock()
				}
			}()
			k := newGemmKernel(a, b, out, mode)
			for n := batchStart; n < batchEnd; n++ {
				k.run(n)
			}
		}(i, end)
	}
	wg.Wait()
	return firstErr
}
