// Package connectivity abstracts the online/offline signal that triggers queue
// draining. Hosts pick a source: Manual (driven by the host), NATSMonitor
// (driven by a natsclient connection) or Probe (periodic HTTP HEAD).
package connectivity

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/offlinekit/metric"
)

// State is the binary connectivity state.
type State int

// Connectivity states
const (
	Offline State = iota
	Online
)

// String returns the state name.
func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Monitor is a source of connectivity state.
type Monitor interface {
	// State returns the current state.
	State() State

	// Subscribe registers fn for state transitions. fn is called with the new
	// state only when it differs from the previous one. The returned function
	// removes the subscription.
	Subscribe(fn func(State)) (unsubscribe func())
}

// broadcaster holds the state and subscriber set shared by every monitor.
type broadcaster struct {
	mu       sync.Mutex
	notifyMu sync.Mutex // orders deliveries across concurrent transitions
	state    State
	subs     map[int]func(State)
	nextID   int

	name    string
	logger  *slog.Logger
	metrics *metric.Metrics
}

func newBroadcaster(name string, initial State, logger *slog.Logger, registry *metric.MetricsRegistry) *broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	b := &broadcaster{
		state:  initial,
		subs:   make(map[int]func(State)),
		name:   name,
		logger: logger,
	}
	if registry != nil {
		b.metrics = registry.CoreMetrics()
		b.metrics.RecordOnline(initial == Online)
	}
	return b
}

// State returns the current state.
func (b *broadcaster) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscribe registers fn for transitions.
func (b *broadcaster) Subscribe(fn func(State)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// set records s and notifies subscribers, outside the state lock, when it
// changed. Subscribers must not call set synchronously.
func (b *broadcaster) set(s State) bool {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	if b.state == s {
		b.mu.Unlock()
		return false
	}
	prev := b.state
	b.state = s
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	fns := make([]func(State), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.Unlock()

	b.logger.Info("Connectivity changed", "monitor", b.name, "from", prev.String(), "to", s.String())
	if b.metrics != nil {
		b.metrics.RecordOnline(s == Online)
	}
	for _, fn := range fns {
		fn(s)
	}
	return true
}
