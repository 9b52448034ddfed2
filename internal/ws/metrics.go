package ws

import (
	"log/slog"
	"sync"
	"time"
)

// BroadcastMetrics aggregates fan-out results for the health endpoint.
type BroadcastMetrics struct {
	mu sync.RWMutex

	totalBroadcasts     int64
	totalDelivered      int64
	totalFailed         int64
	totalDropped        int64
	totalBroadcastTime  time.Duration
	peakBroadcastTime   time.Duration
	peakMessageSize     int
	peakSubscriberCount int
	lastBroadcastAt     time.Time

	// Broadcasts slower than this are logged
	slowThreshold time.Duration
	logger        *slog.Logger
}

// MetricsSnapshot is a point-in-time copy of BroadcastMetrics.
type MetricsSnapshot struct {
	TotalBroadcasts      int64         `json:"totalBroadcasts"`
	TotalDelivered       int64         `json:"totalDelivered"`
	TotalFailed          int64         `json:"totalFailed"`
	TotalDropped         int64         `json:"totalDropped"`
	AverageBroadcastTime time.Duration `json:"averageBroadcastTime"`
	PeakBroadcastTime    time.Duration `json:"peakBroadcastTime"`
	PeakMessageSize      int           `json:"peakMessageSize"`
	PeakSubscriberCount  int           `json:"peakSubscriberCount"`
	ErrorRate            float64       `json:"errorRate"`
	LastBroadcastAt      time.Time     `json:"lastBroadcastAt,omitempty"`
}

func NewBroadcastMetrics(slowThreshold time.Duration, logger *slog.Logger) *BroadcastMetrics {
	if slowThreshold <= 0 {
		slowThreshold = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BroadcastMetrics{slowThreshold: slowThreshold, logger: logger}
}

// RecordBroadcast accounts for one completed publish.
func (m *BroadcastMetrics) RecordBroadcast(communityID string, report Report, messageSize int, duration time.Duration) {
	m.mu.Lock()
	m.totalBroadcasts++
	m.totalDelivered += int64(report.ConnectionsSucceeded)
	m.totalFailed += int64(report.ConnectionsFailed)
	m.totalBroadcastTime += duration
	m.lastBroadcastAt = time.Now()
	if duration > m.peakBroadcastTime {
		m.peakBroadcastTime = duration
	}
	if messageSize > m.peakMessageSize {
		m.peakMessageSize = messageSize
	}
	if report.SubscribersTargeted > m.peakSubscriberCount {
		m.peakSubscriberCount = report.SubscribersTargeted
	}
	m.mu.Unlock()

	if duration > m.slowThreshold {
		m.logger.Warn("Slow broadcast",
			"communityID", communityID,
			"duration", duration,
			"threshold", m.slowThreshold,
			"connections", report.ConnectionsAttempted,
		)
	}
}

// RecordDropped accounts for a publish discarded before fan-out.
func (m *BroadcastMetrics) RecordDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalDropped++
}

func (m *BroadcastMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := MetricsSnapshot{
		TotalBroadcasts:     m.totalBroadcasts,
		TotalDelivered:      m.totalDelivered,
		TotalFailed:         m.totalFailed,
		TotalDropped:        m.totalDropped,
		PeakBroadcastTime:   m.peakBroadcastTime,
		PeakMessageSize:     m.peakMessageSize,
		PeakSubscriberCount: m.peakSubscriberCount,
		LastBroadcastAt:     m.lastBroadcastAt,
	}
	if m.totalBroadcasts > 0 {
		s.AverageBroadcastTime = m.totalBroadcastTime / time.Duration(m.totalBroadcasts)
	}
	if attempts := m.totalDelivered + m.totalFailed; attempts > 0 {
		s.ErrorRate = float64(m.totalFailed) / float64(attempts) * 100
	}
	return s
}
