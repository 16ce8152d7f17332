package async

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/scribe/errors"
)

const bytesPerGB = 1024 * 1024 * 1024

// SystemMetrics is a point-in-time view of the dispatcher for health checks.
type SystemMetrics struct {
	MemoryUsedGB   float64 `json:"memory_used_gb"`
	MemoryTotalGB  float64 `json:"memory_total_gb"`
	MemoryPercent  float64 `json:"memory_percent"`
	QueueDepth     int     `json:"queue_depth"`
	JobsQueued     int     `json:"jobs_queued"`
	JobsProcessing int     `json:"jobs_processing"`
	JobsCompleted  int     `json:"jobs_completed"`
	JobsFailed     int     `json:"jobs_failed"`
	JobsProcessed  int     `json:"jobs_processed"` // finished by this worker since start
	CurrentJob     string  `json:"current_job,omitempty"`
}

// memoryStats is swapped in tests.
var memoryStats = getMemoryStats

// getMemoryStats returns total and available memory in bytes.
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// CollectMetrics gathers memory usage, queue depth and per-status job
// counts. Memory figures are zero when the OS cannot be queried. w may be nil.
func CollectMetrics(q *Queue, s *Store, w *Worker) SystemMetrics {
	var m SystemMetrics

	if total, available, err := memoryStats(); err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / bytesPerGB
		m.MemoryUsedGB = float64(total-available) / bytesPerGB
		m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	}

	if q != nil {
		m.QueueDepth = q.Len()
	}
	if s != nil {
		counts := s.Counts()
		m.JobsQueued = counts[JobStatusQueued]
		m.JobsProcessing = counts[JobStatusProcessing]
		m.JobsCompleted = counts[JobStatusCompleted]
		m.JobsFailed = counts[JobStatusFailed]
	}
	if w != nil {
		m.JobsProcessed = w.Processed()
		m.CurrentJob = w.Current()
	}
	return m
}
