package nexus

import (
	"context"
	"sync"
	"time"
)

// HeartbeatMonitor periodically scans the registry for modules that stopped
// heartbeating and walks them through the staleness state machine:
//
//	active -> (no heartbeat for timeout) -> degraded
//	degraded -> (no heartbeat for another full timeout) -> unresponsive
//
// Transitions are reported as status-changed events, never as errors; a
// stale module is a normal state change, not a fault. A heartbeat received
// at any point resets the module to active via the registry, and the monitor
// never overrides a heartbeat that lands mid-scan.
//
// The monitor is a cancellable recurring task with an explicit stop signal.
// Each pass samples the registry under a short read lock, then applies
// transitions one record at a time, so the registry lock is never held for
// the full scan.
type HeartbeatMonitor struct {
	registry     *ModuleRegistry
	logger       Logger
	subject      *EventSubject
	pollInterval time.Duration
	timeout      time.Duration
	now          func() time.Time

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isStarted bool
}

// NewHeartbeatMonitor creates a monitor for the given registry. pollInterval
// controls the scan cadence; timeout is the heartbeat window after which a
// module is considered degraded, and after a second such window,
// unresponsive.
func NewHeartbeatMonitor(registry *ModuleRegistry, logger Logger, subject *EventSubject, pollInterval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		registry:     registry,
		logger:       logger,
		subject:      subject,
		pollInterval: pollInterval,
		timeout:      timeout,
		now:          time.Now,
	}
}

// Start launches the background scan loop. Calling Start on a running
// monitor is a no-op.
func (m *HeartbeatMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isStarted {
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run()

	m.isStarted = true
	m.logger.Info("Heartbeat monitor started", "pollInterval", m.pollInterval, "timeout", m.timeout)
	if m.subject != nil {
		m.subject.emitEvent(ctx, EventTypeMonitorStarted, "heartbeat-monitor", map[string]interface{}{
			"pollInterval": m.pollInterval.String(),
			"timeout":      m.timeout.String(),
		}, nil)
	}
	return nil
}

// Stop signals the scan loop to exit and waits for it, bounded by the given
// context. Returns ErrShutdownTimeout if the loop doesn't exit in time.
func (m *HeartbeatMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isStarted {
		return nil
	}

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ErrShutdownTimeout
	}

	m.isStarted = false
	m.logger.Info("Heartbeat monitor stopped")
	if m.subject != nil {
		m.subject.emitEvent(context.WithoutCancel(ctx), EventTypeMonitorStopped, "heartbeat-monitor", nil, nil)
	}
	return nil
}

// run is the recurring scan loop.
func (m *HeartbeatMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.ScanOnce(m.ctx)
		}
	}
}

// ScanOnce performs a single staleness pass over all non-deregistered
// records. Exported so tests and embedding applications can single-step the
// monitor without waiting for the poll cadence. Scan cost is linear in
// registered-module count and performs no blocking I/O.
func (m *HeartbeatMonitor) ScanOnce(ctx context.Context) {
	now := m.now()
	degradedThreshold := now.Add(-m.timeout)
	unresponsiveThreshold := now.Add(-2 * m.timeout)

	transitions := 0
	for _, sample := range m.registry.liveSamples() {
		switch sample.status {
		case ModuleStatusActive:
			if sample.lastHeartbeat.Before(degradedThreshold) {
				if m.registry.markStale(ctx, sample.id, ModuleStatusActive, ModuleStatusDegraded, degradedThreshold) {
					transitions++
				}
			}
		case ModuleStatusDegraded:
			if sample.lastHeartbeat.Before(unresponsiveThreshold) {
				if m.registry.markStale(ctx, sample.id, ModuleStatusDegraded, ModuleStatusUnresponsive, unresponsiveThreshold) {
					transitions++
				}
			}
		}
	}

	if transitions > 0 {
		m.logger.Debug("Heartbeat scan applied transitions", "count", transitions)
	}
}
