package pipeline

import (
	"time"

	"github.com/labviros/is-aruco-localization/vision/aruco/fusion"
)

// LastResult summarizes the most recent result of a camera.
type LastResult struct {
	Generation  uint64        `json:"generation"`
	Timestamp   time.Time     `json:"timestamp"`
	Status      fusion.Status `json:"status"`
	Confidence  float64       `json:"confidence"`
	MarkerCount int           `json:"marker_count"`
	Rejected    int           `json:"rejected"`
}

// Stats is a snapshot of the counters of a camera pipeline.
type Stats struct {
	CameraID        string        `json:"camera_id"`
	Accepted        uint64        `json:"accepted"`
	Dropped         uint64        `json:"dropped"`
	Processed       uint64        `json:"processed"`
	NoDetection     uint64        `json:"no_detection"`
	PublishFailures uint64        `json:"publish_failures"`
	LastLatency     time.Duration `json:"last_latency_ns"`
	// RecentLatencies holds the latencies of the latest cycles, oldest first.
	RecentLatencies []time.Duration `json:"-"`
	Last            *LastResult     `json:"last,omitempty"`
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	s := Stats{
		CameraID:        c.cameraID,
		Accepted:        c.accepted.Load(),
		Dropped:         c.dropped.Load(),
		Processed:       c.processed.Load(),
		NoDetection:     c.noDetection.Load(),
		PublishFailures: c.publishFailures.Load(),
		LastLatency:     c.lastLatency.Load(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s.RecentLatencies = append([]time.Duration(nil), c.latencies...)
	if c.last != nil {
		s.Last = &LastResult{
			Generation:  c.last.Generation,
			Timestamp:   c.last.Timestamp,
			Status:      c.last.Status,
			Confidence:  c.last.Confidence,
			MarkerCount: c.last.MarkerCount,
			Rejected:    len(c.last.Rejected()),
		}
	}
	return s
}
