package health

import (
	"sort"
	"strings"
	"time"
)

// severity orders states from best to worst.
var severity = map[string]int{
	StateHealthy:   0,
	StateDegraded:  1,
	StateUnhealthy: 2,
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Worse reports whether state a is worse than state b. Unknown states rank
// as unhealthy.
func Worse(a, b string) bool {
	return rank(a) > rank(b)
}

func rank(state string) int {
	return severity[normalize(state)]
}

func normalize(state string) string {
	if _, ok := severity[state]; ok {
		return state
	}
	return StateUnhealthy
}

// Aggregate folds sub-statuses into one status for component. The worst
// sub-state wins and the message names the components holding it, e.g.
// "degraded: connectivity, queue". Sub-statuses are copied and sorted by
// component name.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no components reporting")
	}

	subs := make([]Status, len(subStatuses))
	copy(subs, subStatuses)
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].Component < subs[j].Component
	})

	worst := StateHealthy
	for _, sub := range subs {
		if Worse(sub.Status, worst) {
			worst = normalize(sub.Status)
		}
	}

	var status Status
	if worst == StateHealthy {
		status = NewHealthy(component, "all components healthy")
	} else {
		var names []string
		for _, sub := range subs {
			if normalize(sub.Status) == worst {
				names = append(names, sub.Component)
			}
		}
		status = newStatus(component, worst, worst+": "+strings.Join(names, ", "))
	}
	status.SubStatuses = subs
	return status
}
