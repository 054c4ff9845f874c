// Package connectivity decides whether the content service is reachable.
package connectivity

import (
	"context"
	"time"

	"boneguide-go/internal/guide"
)

// Prober checks reachability of the remote.
type Prober interface {
	Ping(ctx context.Context) error
}

// Reporter receives reachability observations.
type Reporter interface {
	SetOnline(online bool)
}

// Monitor probes the remote on a fixed interval and reports the result.
// Repeated identical results are harmless: the reporter ignores them.
type Monitor struct {
	prober   Prober
	reporter Reporter
	interval time.Duration
	timeout  time.Duration
	logger   guide.Logger
}

func NewMonitor(prober Prober, reporter Reporter, interval time.Duration, logger guide.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := interval
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Monitor{
		prober:   prober,
		reporter: reporter,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Check runs one probe and reports the result.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Ping(probeCtx)
	if ctx.Err() != nil {
		// Shutting down; not an observation about the remote.
		return false
	}
	online := err == nil
	if !online {
		m.logger.Debug("remote unreachable", "error", err)
	}
	m.reporter.SetOnline(online)
	return online
}

// Run probes immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
