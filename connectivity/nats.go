package connectivity

import "sync"

// HealthSource reports connection health and its changes. *natsclient.Client
// implements it.
type HealthSource interface {
	IsHealthy() bool
	OnHealthChange(fn func(healthy bool)) (remove func())
}

// NATSMonitor follows the health of a NATS connection: connected is Online,
// disconnected or reconnecting is Offline.
type NATSMonitor struct {
	*broadcaster
	remove func()
	once   sync.Once
}

var _ Monitor = (*NATSMonitor)(nil)

// NewNATSMonitor subscribes to source and starts in its current state.
func NewNATSMonitor(source HealthSource, opts ...Option) *NATSMonitor {
	o := applyOptions(opts)

	initial := Offline
	if source.IsHealthy() {
		initial = Online
	}

	m := &NATSMonitor{broadcaster: newBroadcaster("nats", initial, o.logger, o.registry)}
	m.remove = source.OnHealthChange(func(healthy bool) {
		if healthy {
			m.set(Online)
			return
		}
		m.set(Offline)
	})
	return m
}

// Close stops following the connection.
func (m *NATSMonitor) Close() {
	m.once.Do(m.remove)
}
