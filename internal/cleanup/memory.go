package cleanup

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultInterval between periodic housekeeping sweeps.
	DefaultInterval = 5 * time.Minute
	// DefaultTempMaxAge before a transient file is considered stale.
	DefaultTempMaxAge = time.Hour
	// DefaultJobPressureLimit is the total job count that triggers an
	// on-demand cleanup and a health warning.
	DefaultJobPressureLimit = 800
	// DefaultDeadLetterPressureLimit warns before the dead-letter cap.
	DefaultDeadLetterPressureLimit = 80
)

// JobEvicter is the job manager surface the memory manager drives.
type JobEvicter interface {
	CleanupOldJobs() int
	Counts() (queued, retryPending, active, deadLetter, total int)
}

// AccumulatorEvicter is the transcript manager surface.
type AccumulatorEvicter interface {
	CleanupOldAccumulators() int
	ShouldPerformAggressiveCleanup() bool
	SegmentCount(recordingID string) int
	AccumulatorCount() int
}

// ResourceSweeper is the processor surface.
type ResourceSweeper interface {
	SweepStaleResources(maxAge time.Duration) (int, int64)
}

// Stats accumulates housekeeping counters across sweeps.
type Stats struct {
	PeakJobs          int           `json:"peak_jobs"`
	PeakSegments      int           `json:"peak_segments"`
	TotalCleanups     int64         `json:"total_cleanups"`
	JobsEvicted       int64         `json:"jobs_evicted"`
	AccumulatorsSwept int64         `json:"accumulators_swept"`
	TempFilesDeleted  int64         `json:"temp_files_deleted"`
	BytesFreed        int64         `json:"bytes_freed"`
	LastCleanup       time.Time     `json:"last_cleanup,omitempty"`
	LastDuration      time.Duration `json:"last_duration_ns,omitempty"`
}

// HealthReport is a non-fatal diagnostic snapshot.
type HealthReport struct {
	Healthy          bool     `json:"healthy"`
	Issues           []string `json:"issues,omitempty"`
	JobCount         int      `json:"job_count"`
	DeadLetterCount  int      `json:"dead_letter_count"`
	AccumulatorCount int      `json:"accumulator_count"`
	SegmentCount     int      `json:"segment_count"`
	Stats            Stats    `json:"stats"`
}

// Manager runs periodic and on-demand housekeeping across the job manager,
// transcript manager, and processor so every in-memory collection and
// on-disk temporary stays bounded.
type Manager struct {
	jobs        JobEvicter
	transcripts AccumulatorEvicter
	sweeper     ResourceSweeper

	interval   time.Duration
	tempMaxAge time.Duration

	jobLimit        int
	deadLetterLimit int

	mu       sync.Mutex
	stats    Stats
	stopChan chan struct{}
	stopOnce sync.Once

	log *logrus.Entry
}

// NewManager creates a memory manager. Zero durations and limits select
// the defaults.
func NewManager(jobs JobEvicter, transcripts AccumulatorEvicter, sweeper ResourceSweeper, interval, tempMaxAge time.Duration, log *logrus.Entry) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if tempMaxAge <= 0 {
		tempMaxAge = DefaultTempMaxAge
	}
	return &Manager{
		jobs:            jobs,
		transcripts:     transcripts,
		sweeper:         sweeper,
		interval:        interval,
		tempMaxAge:      tempMaxAge,
		jobLimit:        DefaultJobPressureLimit,
		deadLetterLimit: DefaultDeadLetterPressureLimit,
		stopChan:        make(chan struct{}),
		log:             log,
	}
}

// Start launches the periodic sweep, running one pass immediately.
func (m *Manager) Start() {
	m.RunCleanup()

	ticker := time.NewTicker(m.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				m.RunCleanup()
			case <-m.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	m.log.WithField("interval", m.interval.String()).Info("memory manager started")
}

// Stop halts the periodic sweep.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// RunCleanup runs one housekeeping pass and folds the results into the
// running statistics.
func (m *Manager) RunCleanup() {
	start := time.Now()

	jobsEvicted := m.jobs.CleanupOldJobs()
	accsSwept := m.transcripts.CleanupOldAccumulators()
	filesDeleted, bytesFreed := m.sweeper.SweepStaleResources(m.tempMaxAge)

	_, _, _, _, totalJobs := m.jobs.Counts()
	totalSegments := m.transcripts.SegmentCount("")

	m.mu.Lock()
	m.stats.TotalCleanups++
	m.stats.JobsEvicted += int64(jobsEvicted)
	m.stats.AccumulatorsSwept += int64(accsSwept)
	m.stats.TempFilesDeleted += int64(filesDeleted)
	m.stats.BytesFreed += bytesFreed
	if totalJobs > m.stats.PeakJobs {
		m.stats.PeakJobs = totalJobs
	}
	if totalSegments > m.stats.PeakSegments {
		m.stats.PeakSegments = totalSegments
	}
	m.stats.LastCleanup = start
	m.stats.LastDuration = time.Since(start)
	m.mu.Unlock()

	if jobsEvicted > 0 || accsSwept > 0 || filesDeleted > 0 {
		m.log.WithFields(logrus.Fields{
			"jobs_evicted": jobsEvicted,
			"accumulators": accsSwept,
			"temp_files":   filesDeleted,
			"bytes_freed":  bytesFreed,
			"duration":     time.Since(start).String(),
		}).Info("cleanup pass complete")
	}
}

// CheckPressure is the backpressure valve invoked before accepting new
// work: when any collection is past its limit it runs a synchronous
// cleanup pass. There is no hard rejection, only best-effort shedding.
func (m *Manager) CheckPressure() {
	if m.underPressure() {
		m.log.Debug("memory pressure detected, running synchronous cleanup")
		m.RunCleanup()
	}
}

func (m *Manager) underPressure() bool {
	_, _, _, deadLetter, total := m.jobs.Counts()
	if total > m.jobLimit || deadLetter > m.deadLetterLimit {
		return true
	}
	return m.transcripts.ShouldPerformAggressiveCleanup()
}

// IsHealthy reports whether all collections are within limits.
func (m *Manager) IsHealthy() bool {
	return len(m.Health().Issues) == 0
}

// Health builds the diagnostic report with actionable messages.
func (m *Manager) Health() HealthReport {
	_, _, _, deadLetter, total := m.jobs.Counts()
	segments := m.transcripts.SegmentCount("")
	accumulators := m.transcripts.AccumulatorCount()

	var issues []string
	if total > m.jobLimit {
		issues = append(issues, fmt.Sprintf("job count %d exceeds limit %d; consider raising cleanup frequency", total, m.jobLimit))
	}
	if deadLetter > m.deadLetterLimit {
		issues = append(issues, fmt.Sprintf("dead-letter set holds %d jobs; inspect recurring non-recoverable failures", deadLetter))
	}
	if m.transcripts.ShouldPerformAggressiveCleanup() {
		issues = append(issues, "one or more accumulators exceed age or segment limits; a cleanup pass will finalize them")
	}

	m.mu.Lock()
	stats := m.stats
	m.mu.Unlock()

	return HealthReport{
		Healthy:          len(issues) == 0,
		Issues:           issues,
		JobCount:         total,
		DeadLetterCount:  deadLetter,
		AccumulatorCount: accumulators,
		SegmentCount:     segments,
		Stats:            stats,
	}
}

// Snapshot returns a copy of the running statistics.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
