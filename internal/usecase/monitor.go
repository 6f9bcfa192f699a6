package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"voxchat/internal/domain"
	"voxchat/internal/ports"
)

// Monitor probes backend health. Probe failures of any classification report
// as "not connected"; only the boolean reaches subscribers.
type Monitor struct {
	backend  ports.BackendClient
	interval time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	state    domain.ConnectivityState
	onChange func(connected bool)
}

func NewMonitor(backend ports.BackendClient, interval time.Duration, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{backend: backend, interval: interval, logger: logger}
}

// OnChange registers the single subscriber notified after every probe.
func (m *Monitor) OnChange(fn func(connected bool)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// CheckNow performs one health probe and records the result.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	connected := m.backend.HealthCheck(ctx)

	m.mu.Lock()
	m.state = domain.ConnectivityState{Connected: connected, CheckedAt: time.Now()}
	notify := m.onChange
	m.mu.Unlock()

	if !connected {
		m.logger.Warn("backend health probe failed")
	}
	if notify != nil {
		notify(connected)
	}
	return connected
}

// Run polls health on the configured interval until ctx is cancelled. A zero
// interval disables polling; CheckNow remains available.
func (m *Monitor) Run(ctx context.Context) {
	if m.interval <= 0 {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// State returns the most recent probe result.
func (m *Monitor) State() domain.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
