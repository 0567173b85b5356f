package sync

import (
	"sync"
	"time"

	"github.com/cutover-sh/cutover/internal/ring"
)

// maxEventLogSize caps the coordinator event log. Oldest entries are evicted
// first.
const maxEventLogSize = 10000

// EventType identifies a sync lifecycle event.
type EventType string

// Event types.
const (
	EventOperationStarted        EventType = "operation-started"
	EventOperationCompleted      EventType = "operation-completed"
	EventOperationFailed         EventType = "operation-failed"
	EventConflictDetected        EventType = "conflict-detected"
	EventRepairInitiated         EventType = "repair-initiated"
	EventReconciliationStarted   EventType = "reconciliation-started"
	EventCircuitBreakerTriggered EventType = "circuit-breaker-triggered"
)

// Event records one point in an operation's lifecycle.
type Event struct {
	Type        EventType         `json:"event_type"`
	OperationID string            `json:"operation_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Details     map[string]string `json:"details,omitempty"`
	Duration    time.Duration     `json:"duration,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// eventLog is a concurrency-safe bounded event buffer.
type eventLog struct {
	mu  sync.Mutex
	buf *ring.Buffer[Event]
}

func newEventLog(capacity int) *eventLog {
	return &eventLog{buf: ring.New[Event](capacity)}
}

func (l *eventLog) append(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Append(e)
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Snapshot()
}
