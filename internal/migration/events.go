package migration

import (
	"sync"
	"time"

	"github.com/cutover-sh/cutover/internal/ring"
)

// maxEventLogSize caps the migration event log.
const maxEventLogSize = 1000

// EventType identifies a migration lifecycle event.
type EventType string

// Event types.
const (
	EventPhaseChanged    EventType = "phase-changed"
	EventRollback        EventType = "rollback"
	EventSessionsCleared EventType = "sessions-cleared"
)

// Severity grades an event for operators scanning the log.
type Severity string

// Severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event records a migration state change.
type Event struct {
	Type      EventType         `json:"event_type"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	FromPhase Phase             `json:"from_phase"`
	ToPhase   Phase             `json:"to_phase"`
	Details   map[string]string `json:"details,omitempty"`
}

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
