package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bmm_kernel_duration_seconds",
		Help:    "Histogram of batched matmul kernel execution times",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
	}, []string{"dtype"})

	DeviceMemoryAllocated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "device_memory_allocated_bytes",
		Help: "Current bytes allocated on the compute device",
	})

	DeviceAllocationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_allocation_failures_total",
		Help: "Allocations rejected because they exceed the device memory limit",
	})

	SweepConfigurationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_configurations_total",
		Help: "Number of sweep configurations measured",
	}, []string{"variant", "dtype"})

	BenchElapsed = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bench_elapsed_milliseconds",
		Help:    "Elapsed wall-clock time reported by the timing harness",
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 12),
	}, []string{"variant"})

	PeakResidentMemory = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "peak_resident_memory_gigabytes",
		Help: "Peak resident memory observed for the last configuration of a given shape",
	}, []string{"batch_size", "matrix_size"})

	MemorySamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memory_samples_total",
		Help: "Resident memory samples taken by the memory sampler",
	})
)

func RecordKernelDuration(dtype string, duration time.Duration) {
	KernelDuration.WithLabelValues(dtype).Observe(duration.Seconds())
}

func RecordDeviceMemory(bytes int64) {
	DeviceMemoryAllocated.Set(float64(bytes))
}

func RecordAllocationFailure() {
	DeviceAllocationFailures.Inc()
}

func RecordMemorySample() {
	MemorySamples.Inc()
}

// RecordMeasurement is called once per completed sweep configuration.
func RecordMeasurement(variant, dtype string, elapsedMs float64) {
	SweepConfigurationsTotal.WithLabelValues(variant, dtype).Inc()
	BenchElapsed.WithLabelValues(variant).Observe(elapsedMs)
}

func RecordPeakMemory(batchSize, matrixSize int, gigabytes float64) {
	PeakResidentMemory.WithLabelValues(strconv.Itoa(batchSize), strconv.Itoa(matrixSize)).Set(gigabytes)
}
