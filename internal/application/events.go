package application

import (
	"sync"
	"time"

	"github.com/boxvps/boxvpsd/internal/domain"
)

// EventKind classifies what the usage sweep observed about an account.
type EventKind string

const (
	EventQuotaBreach EventKind = "quota_breach"
	EventExpired     EventKind = "expired"
)

// Event is a notification that an account crossed a limit. Consumers that
// lag behind see at most one pending event per account and kind.
type Event struct {
	Kind       EventKind
	AccountID  domain.AccountID
	Protocol   domain.Protocol
	UsageBytes int64
	QuotaBytes int64
	At         time.Time
}

type eventKey struct {
	kind EventKind
	id   domain.AccountID
}

// EventQueue coalesces events per account so a slow consumer never sees
// a backlog of duplicates for the same breach.
type EventQueue struct {
	mu      sync.Mutex
	pending map[eventKey]Event
	order   []eventKey
	wake    chan struct{}
}

func NewEventQueue() *EventQueue {
	return &EventQueue{
		pending: make(map[eventKey]Event),
		wake:    make(chan struct{}, 1),
	}
}

// Push enqueues an event, replacing any undelivered event for the same
// account and kind.
func (q *EventQueue) Push(ev Event) {
	q.mu.Lock()
	key := eventKey{kind: ev.Kind, id: ev.AccountID}
	if _, exists := q.pending[key]; !exists {
		q.order = append(q.order, key)
	}
	q.pending[key] = ev
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Drain returns all pending events in arrival order and clears the queue.
func (q *EventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return nil
	}
	events := make([]Event, 0, len(q.order))
	for _, key := range q.order {
		events = append(events, q.pending[key])
	}
	q.pending = make(map[eventKey]Event)
	q.order = nil
	return events
}

// Wait returns a channel that receives a signal when new events arrive.
func (q *EventQueue) Wait() <-chan struct{} {
	return q.wake
}
