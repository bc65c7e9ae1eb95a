// Package health probes the dependencies of the service in the background
// and reports their state on /healthz.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	StatusUnknown  = "unknown"
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one dependency. A nil error means the dependency is usable.
type Probe func(ctx context.Context) error

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(component string, success bool)

// ComponentStatus is the last known state of one dependency.
type ComponentStatus struct {
	Status    string    `json:"status"`
	FailCount int       `json:"fail_count,omitempty"`
	// LastError is logged only; it is not part of the served report.
	LastError string    `json:"-"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// Report is the state of every registered dependency.
type Report struct {
	Healthy    bool                       `json:"healthy"`
	Components map[string]ComponentStatus `json:"components"`
}

// Checker runs periodic dependency probes. A dependency is reported
// degraded once FailThreshold consecutive probes have failed.
type Checker struct {
	mu        sync.Mutex
	probes    map[string]Probe
	state     map[string]ComponentStatus
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new Checker.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		probes: make(map[string]Probe),
		state:  make(map[string]ComponentStatus),
		cfg:    cfg,
		logger: logger,
	}
}

// Add registers a probe under name. It must be called before Start.
func (h *Checker) Add(name string, p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = p
	h.state[name] = ComponentStatus{Status: StatusUnknown}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start probes once immediately, then every CheckInterval until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently and waits for them to finish.
func (h *Checker) CheckAll(ctx context.Context) {
	h.mu.Lock()
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for name, p := range probes {
		wg.Add(1)
		go func(name string, p Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p(pctx)
			cancel()
			h.record(name, err)
		}(name, p)
	}
	wg.Wait()
}

func (h *Checker) record(name string, err error) {
	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}

	h.mu.Lock()
	prev := h.state[name]
	next := ComponentStatus{CheckedAt: time.Now().UTC()}
	if err == nil {
		next.Status = StatusHealthy
	} else {
		next.FailCount = prev.FailCount + 1
		next.LastError = err.Error()
		next.Status = prev.Status
		if next.Status == StatusUnknown {
			next.Status = StatusHealthy
		}
		if next.FailCount >= h.cfg.FailThreshold {
			next.Status = StatusDegraded
		}
	}
	h.state[name] = next
	h.mu.Unlock()

	switch {
	case err != nil && next.FailCount < h.cfg.FailThreshold:
		h.logger.Debug("health: probe failed",
			zap.String("component", name),
			zap.Int("fail_count", next.FailCount),
			zap.Error(err),
		)
	case err == nil && prev.Status == StatusDegraded:
		h.logger.Info("health: recovered", zap.String("component", name))
	case err != nil && next.FailCount == h.cfg.FailThreshold:
		h.logger.Warn("health: degraded",
			zap.String("component", name),
			zap.Int("fail_count", next.FailCount),
			zap.Error(err),
		)
	}
}

// Report returns the current state. Components that have never been probed
// count as healthy.
func (h *Checker) Report() Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := Report{Healthy: true, Components: make(map[string]ComponentStatus, len(h.state))}
	for name, s := range h.state {
		r.Components[name] = s
		if s.Status == StatusDegraded {
			r.Healthy = false
		}
	}
	return r
}

// Components lists the registered probe names in order.
func (h *Checker) Components() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.probes))
	for name := range h.probes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HTTPProbe reports whether endpoint answers at all. It tries HEAD and
// falls back to GET; any status below 500 counts as reachable, since OAuth
// endpoints reject bare requests with 4xx.
func HTTPProbe(client *http.Client, endpoint string) Probe {
	return func(ctx context.Context) error {
		status, err := probeOnce(ctx, client, http.MethodHead, endpoint)
		if err == nil && status < 500 {
			return nil
		}
		status, err = probeOnce(ctx, client, http.MethodGet, endpoint)
		if err != nil {
			return err
		}
		if status >= 500 {
			return fmt.Errorf("%s answered %d", endpoint, status)
		}
		return nil
	}
}

func probeOnce(ctx context.Context, client *http.Client, method, endpoint string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
