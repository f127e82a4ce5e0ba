// Package health provides health monitoring for offlinekit components with
// thread-safe status tracking and aggregation.
//
// # Health States
//
//   - Healthy: component operating normally
//   - Degraded: component operating with reduced functionality
//   - Unhealthy: component not functioning properly
//
// Telemetry produces a 0-100 score which FromScore maps onto these states
// (>= 80 healthy, >= 50 degraded, otherwise unhealthy). The offline facade
// keeps one Monitor with an entry per component (telemetry, sync, connectivity)
// and exposes the aggregate:
//
//	monitor := health.NewMonitor()
//	monitor.Update("telemetry", health.FromScore("telemetry", 72, "error rate 6%"))
//	monitor.UpdateHealthy("connectivity", "online")
//	status := monitor.AggregateHealth("offlinekit") // "degraded: telemetry"
//
// The aggregate takes the worst component state and names the components
// holding it. Each status also carries Since, the time its component entered
// the current state.
//
// Error text placed into a status should go through Sanitize, which strips
// URLs, paths, addresses and credentials.
package health
