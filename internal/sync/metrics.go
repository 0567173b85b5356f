package sync

import (
	"sync"
	"time"
)

// StrategyMetrics is a snapshot of a single strategy's counters.
type StrategyMetrics struct {
	OperationsHandled uint64        `json:"operations_handled"`
	Failures          uint64        `json:"failures"`
	Retries           uint64        `json:"retries"`
	QueueDepth        int           `json:"queue_depth,omitempty"`
	LastRun           time.Time     `json:"last_run,omitempty"`
	AverageLatency    time.Duration `json:"average_latency"`
}

// StorageMetrics is a snapshot of per-target counters.
type StorageMetrics struct {
	Writes         uint64        `json:"writes"`
	Reads          uint64        `json:"reads"`
	Deletes        uint64        `json:"deletes"`
	Failures       uint64        `json:"failures"`
	AverageLatency time.Duration `json:"average_latency"`
	BytesWritten   uint64        `json:"bytes_written"`
	BytesRead      uint64        `json:"bytes_read"`
}

// Stats is a snapshot of coordinator-wide counters.
type Stats struct {
	TotalOperations      uint64                     `json:"total_operations"`
	SuccessfulOperations uint64                     `json:"successful_operations"`
	FailedOperations     uint64                     `json:"failed_operations"`
	ActiveOperations     int                        `json:"active_operations"`
	AverageLatency       time.Duration              `json:"average_latency"`
	Strategies           map[string]StrategyMetrics `json:"strategies"`
	Storage              map[string]StorageMetrics  `json:"storage"`
}

// statsTracker accumulates coordinator counters under a single mutex. Latency
// is tracked as a running average blended with each new sample so the value
// stays responsive to recent behaviour without keeping a window.
type statsTracker struct {
	mu         sync.Mutex
	total      uint64
	successful uint64
	failed     uint64
	avgLatency time.Duration
	storage    map[string]*storageCounters
}

type storageCounters struct {
	writes       uint64
	reads        uint64
	deletes      uint64
	failures     uint64
	avgLatency   time.Duration
	bytesWritten uint64
	bytesRead    uint64
}

func newStatsTracker() *statsTracker {
	return &statsTracker{storage: make(map[string]*storageCounters)}
}

// blendLatency folds a new sample into the running average.
func blendLatency(avg, sample time.Duration) time.Duration {
	if avg == 0 {
		return sample
	}
	return (avg + sample) / 2
}

func (s *statsTracker) recordOperation(success bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if success {
		s.successful++
	} else {
		s.failed++
	}
	s.avgLatency = blendLatency(s.avgLatency, latency)
}

func (s *statsTracker) recordStorage(targetID string, opType OperationType, res StorageResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.storage[targetID]
	if !ok {
		c = &storageCounters{}
		s.storage[targetID] = c
	}

	switch opType {
	case OpWrite:
		c.writes++
		if res.Success {
			c.bytesWritten += uint64(res.DataSize)
		}
	case OpRead:
		c.reads++
		if res.Success {
			c.bytesRead += uint64(res.DataSize)
		}
	case OpDelete:
		c.deletes++
	}
	if !res.Success {
		c.failures++
	}
	c.avgLatency = blendLatency(c.avgLatency, res.Latency)
}

func (s *statsTracker) snapshot(active int, strategies map[string]StrategyMetrics) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	storage := make(map[string]StorageMetrics, len(s.storage))
	for id, c := range s.storage {
		storage[id] = StorageMetrics{
			Writes:         c.writes,
			Reads:          c.reads,
			Deletes:        c.deletes,
			Failures:       c.failures,
			AverageLatency: c.avgLatency,
			BytesWritten:   c.bytesWritten,
			BytesRead:      c.bytesRead,
		}
	}

	return Stats{
		TotalOperations:      s.total,
		SuccessfulOperations: s.successful,
		FailedOperations:     s.failed,
		ActiveOperations:     active,
		AverageLatency:       s.avgLatency,
		Strategies:           strategies,
		Storage:              storage,
	}
}
