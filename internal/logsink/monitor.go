package logsink

import (
	"context"
	"sync/atomic"
	"time"

	"courier/internal/constants"
	"courier/internal/logger"
	"courier/pkg/metrics"
)

// HealthChecker answers whether the primary store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthMonitor tracks whether the primary log store is usable. The flag
// only ever changes on a positive probe result or an observed write failure,
// so a flaky probe cannot flap the sink between stores mid-burst.
type HealthMonitor struct {
	store        HealthChecker
	interval     time.Duration
	probeTimeout time.Duration
	logger       logger.Logger

	healthy atomic.Bool
}

func NewHealthMonitor(store HealthChecker, interval, probeTimeout time.Duration, log logger.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = constants.DefaultHealthCheckInterval
	}
	if probeTimeout <= 0 {
		probeTimeout = constants.DefaultHealthCheckTimeout
	}
	return &HealthMonitor{
		store:        store,
		interval:     interval,
		probeTimeout: probeTimeout,
		logger:       log,
	}
}

// Healthy reports the last known state of the primary store.
func (m *HealthMonitor) Healthy() bool {
	return m.healthy.Load()
}

// MarkUnhealthy records an observed write failure so subsequent events go
// straight to the fallback until a probe succeeds.
func (m *HealthMonitor) MarkUnhealthy() {
	if m.healthy.CompareAndSwap(true, false) {
		m.logger.Warnw("Primary log store marked unhealthy after write failure")
		metrics.SetPrimaryHealthy(false)
	}
}

// AwaitStartup polls the primary until it answers healthy or the startup
// deadline passes. The sink starts either way; on timeout events flow to the
// fallback while Run keeps probing in the background.
func (m *HealthMonitor) AwaitStartup(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = constants.DefaultPrimaryStartupTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		if m.probe(ctx) {
			return true
		}
		if time.Now().After(deadline) {
			m.logger.Warnw("Primary log store unavailable at startup, continuing with fallback",
				"waited", timeout,
			)
			return false
		}

		m.logger.Infow("Waiting for primary log store",
			"retry_in", m.interval,
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(m.interval):
		}
	}
}

// Run probes the primary at a fixed interval until ctx is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *HealthMonitor) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	err := m.store.HealthCheck(probeCtx)
	if err != nil {
		if m.healthy.CompareAndSwap(true, false) {
			m.logger.Warnw("Primary log store became unhealthy",
				"error", err,
			)
			metrics.SetPrimaryHealthy(false)
		}
		return false
	}

	if m.healthy.CompareAndSwap(false, true) {
		m.logger.Infow("Primary log store healthy")
		metrics.SetPrimaryHealthy(true)
	}
	return true
}
