package syncer

import (
	"time"

	"github.com/c360/offlinekit/queue"
)

// EventType names what happened to a queued operation.
type EventType string

// Event types
const (
	EventCompleted EventType = "completed"
	EventRetrying  EventType = "retrying"
	EventFailed    EventType = "failed"
)

// Event reports one execution of a queued operation.
type Event struct {
	Type      EventType              `json:"type"`
	Operation queue.PendingOperation `json:"operation"`
	// Err is the failure that caused a retrying or failed event.
	Err error `json:"-"`
	// Delay is the backoff before the next attempt of a retrying event.
	Delay time.Duration `json:"delay,omitempty"`
	// Result is the response body of a completed event.
	Result []byte    `json:"-"`
	At     time.Time `json:"at"`
}

// Summary counts the outcomes of one Drain.
type Summary struct {
	Completed int `json:"completed"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
}

func (s *Summary) add(o Summary) {
	s.Completed += o.Completed
	s.Retrying += o.Retrying
	s.Failed += o.Failed
}
