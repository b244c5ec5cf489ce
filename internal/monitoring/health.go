package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-bmm/internal/logger"
	"github.com/23skdu/longbow-bmm/internal/results"
	"github.com/23skdu/longbow-bmm/internal/sweep"
)

// HealthStatus represents the health status of a benchmark run
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Variant   string        `json:"variant"`
	Uptime    time.Duration `json:"uptime"`
	System    SystemInfo    `json:"system"`
	Sweep     SweepInfo     `json:"sweep"`
	Alerts    []Alert       `json:"alerts"`
}

// SystemInfo contains system-level information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// SweepInfo reports how far the sweep has progressed.
type SweepInfo struct {
	Done        int             `json:"done"`
	Total       int             `json:"total"`
	Current     string          `json:"current,omitempty"`
	Last        *results.Record `json:"last,omitempty"`
	Finished    bool            `json:"finished"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Alert represents a run alert
type Alert struct {
	Level     string    `json:"level"` // info, warning, error, critical
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const maxAlerts = 100

// HealthMonitor serves /healthz, /status and /metrics for a running sweep.
type HealthMonitor struct {
	startTime time.Time
	variant   string
	server    *http.Server
	listener  net.Listener

	mu     sync.RWMutex
	sweep  SweepInfo
	alerts []Alert
}

func NewHealthMonitor(variant string) *HealthMonitor {
	return &HealthMonitor{
		startTime: time.Now(),
		variant:   variant,
		alerts:    make([]Alert, 0),
	}
}

// Handler returns the monitor's routes.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	mux.HandleFunc("/status", hm.handleDetailedStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound.
func (hm *HealthMonitor) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	hm.listener = ln
	hm.server = &http.Server{
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Log.Info("Health monitor starting", "addr", ln.Addr().String())
	go func() {
		if err := hm.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Health monitor stopped", "error", err)
		}
	}()
	return nil
}

// Addr is the bound address, empty before Start.
func (hm *HealthMonitor) Addr() string {
	if hm.listener == nil {
		return ""
	}
	return hm.listener.Addr().String()
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	if hm.server != nil {
		return hm.server.Shutdown(ctx)
	}
	return nil
}

// SetTotal records the number of configurations before the sweep starts.
func (hm *HealthMonitor) SetTotal(total int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.sweep.Total = total
	hm.sweep.LastUpdated = time.Now()
}

// Observe has the signature of sweep.Progress.
func (hm *HealthMonitor) Observe(done, total int, c sweep.Configuration, rec results.Record) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.sweep.Done = done
	hm.sweep.Total = total
	hm.sweep.Current = c.String()
	hm.sweep.Last = &rec
	hm.sweep.LastUpdated = time.Now()
}

// Finish marks the sweep complete. A non-nil err raises a critical alert.
func (hm *HealthMonitor) Finish(err error) {
	hm.mu.Lock()
	hm.sweep.Finished = true
	hm.sweep.LastUpdated = time.Now()
	hm.mu.Unlock()

	if err != nil {
		hm.AddAlert("critical", "sweep", err.Error())
	}
}

func (hm *HealthMonitor) AddAlert(level, component, message string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.alerts = append(hm.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(hm.alerts) > maxAlerts {
		hm.alerts = hm.alerts[1:]
	}

	logger.Log.Warn("ALERT", "level", level, "component", component, "message", message)
}

// HTTP Handlers

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.Status()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hm.Status())
}

// Status snapshots the current health.
func (hm *HealthMonitor) Status() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := "healthy"
	for _, alert := range hm.alerts {
		if alert.Level == "critical" {
			status = "critical"
			break
		} else if alert.Level == "error" {
			status = "degraded"
		}
	}

	alerts := make([]Alert, len(hm.alerts))
	copy(alerts, hm.alerts)

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Variant:   hm.variant,
		Uptime:    time.Since(hm.startTime),
		System:    systemInfo(),
		Sweep:     hm.sweep,
		Alerts:    alerts,
	}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}
