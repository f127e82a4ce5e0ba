package health

import (
	"sync"

	"github.com/c360/offlinekit/pkg/timestamp"
)

// Monitor keeps the latest status per component. Each update is stamped with
// the monitor's clock and Since records when the component entered its
// current state.
type Monitor struct {
	mu       sync.RWMutex
	clock    timestamp.Clock
	statuses map[string]Status
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithClock sets the clock used to stamp updates.
func WithClock(c timestamp.Clock) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

// NewMonitor creates an empty monitor.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{statuses: make(map[string]Status)}
	for _, opt := range opts {
		opt(m)
	}
	m.clock = m.clock.OrSystem()
	return m
}

// Update records status under name. Since carries over while the state is
// unchanged and resets on a transition.
func (m *Monitor) Update(name string, status Status) {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	status.Status = normalize(status.Status)
	status.Healthy = status.Status == StateHealthy
	status.Timestamp = now
	status.Since = now
	if prev, ok := m.statuses[name]; ok && prev.Status == status.Status {
		status.Since = prev.Since
	}
	m.statuses[name] = status
}

func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get returns the latest status for name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[name]
	return status, ok
}

func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
}

// AggregateHealth folds every component into one status named systemName.
// When healthy, Since is the latest recovery among components. Otherwise it
// is the earliest Since among the components in the worst state.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	m.mu.RUnlock()

	agg := Aggregate(systemName, subs)
	agg.Timestamp = m.clock()
	for _, sub := range agg.SubStatuses {
		if sub.Status != agg.Status {
			continue
		}
		switch {
		case agg.Since.IsZero():
			agg.Since = sub.Since
		case agg.Healthy && sub.Since.After(agg.Since):
			agg.Since = sub.Since
		case !agg.Healthy && sub.Since.Before(agg.Since):
			agg.Since = sub.Since
		}
	}
	return agg
}

func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.statuses)
}
