package sniffer

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/btlesniffer/internal/registry"
)

// Health statuses.
const (
	HealthRunning  = "running"
	HealthStopping = "stopping"
)

const defaultHealthInterval = 30 * time.Second

// Health is a point-in-time summary of the node.
type Health struct {
	Status         string                 `json:"status"`
	NodeID         string                 `json:"node_id"`
	Version        string                 `json:"version"`
	Timestamp      time.Time              `json:"timestamp"`
	UptimeSeconds  int64                  `json:"uptime_seconds"`
	Devices        int                    `json:"devices"`
	ByState        map[registry.State]int `json:"by_state"`
	Pending        int                    `json:"pending"`
	Advertisements uint64                 `json:"advertisements"`
	AttemptStats
}

// Uptime returns the uptime as a duration.
func (h Health) Uptime() time.Duration {
	return time.Duration(h.UptimeSeconds) * time.Second
}

// HealthSink receives periodic health reports.
type HealthSink interface {
	ReportHealth(ctx context.Context, h Health) error
}

// HealthSinkFunc adapts a function to HealthSink.
type HealthSinkFunc func(ctx context.Context, h Health) error

// ReportHealth calls f.
func (f HealthSinkFunc) ReportHealth(ctx context.Context, h Health) error {
	return f(ctx, h)
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	NodeID  string
	Version string

	// Interval is how often to report. Default: 30 seconds.
	Interval time.Duration

	Registry  *registry.Registry
	Attempter *Attempter
	Sinks     []HealthSink
}

// HealthReporter periodically reports node health to its sinks.
type HealthReporter struct {
	nodeID    string
	version   string
	startTime time.Time
	interval  time.Duration
	registry  *registry.Registry
	attempter *Attempter
	sinks     []HealthSink
	now       func() time.Time

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		nodeID:    cfg.NodeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		registry:  cfg.Registry,
		attempter: cfg.Attempter,
		sinks:     cfg.Sinks,
		now:       time.Now,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *HealthReporter) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and sends a final "stopping" report.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
		defer cancel()
		h.report(ctx, HealthStopping)
	})
}

// Snapshot returns the current health.
func (h *HealthReporter) Snapshot(status string) Health {
	now := h.now()
	snap := Health{
		Status:        status,
		NodeID:        h.nodeID,
		Version:       h.version,
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
	}
	if h.registry != nil {
		stats := h.registry.Stats()
		snap.Devices = stats.TotalDevices
		snap.ByState = stats.ByState
		snap.Pending = stats.ByState[registry.StatePendingConnect]
		snap.Advertisements = stats.Advertisements
	}
	if h.attempter != nil {
		snap.AttemptStats = h.attempter.Stats()
	}
	return snap
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.report(ctx, HealthRunning)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.report(ctx, HealthRunning)
		}
	}
}

func (h *HealthReporter) report(ctx context.Context, status string) {
	snap := h.Snapshot(status)
	for _, s := range h.sinks {
		if err := s.ReportHealth(ctx, snap); err != nil {
			h.getLogger().Warn("failed to report health", "error", err)
		}
	}
}
