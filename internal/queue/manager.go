package queue

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxpipe/realtime-transcription/internal/types"
)

const (
	// DefaultDeadLetterCap bounds the diagnostics set of non-recoverable
	// failures; the oldest entry is evicted past the cap.
	DefaultDeadLetterCap = 100
	// DefaultMaxTerminalJobs bounds terminal jobs kept in memory.
	DefaultMaxTerminalJobs = 500
)

// retryDelays is the fixed backoff table indexed by min(retryCount-1, len-1).
var retryDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// retryJitter is the half-width of the uniform jitter added to each delay.
const retryJitter = time.Second

// ErrJobNotFound is returned for operations on unknown or evicted jobs.
var ErrJobNotFound = errors.New("job not found")

// ResourceReleaser frees a job's transient resource. Satisfied by the
// transcription processor.
type ResourceReleaser interface {
	CleanupResource(ref string)
}

// Manager owns the job lifecycle: creation, queueing, retry scheduling,
// cancellation, dead-lettering, and eviction. All collections are guarded
// by one mutex since the dispatch loop runs concurrently with ingress,
// cancel, and stop calls.
type Manager struct {
	mu sync.Mutex

	jobs        map[string]*Job
	queue       []*Job // sorted by Priority ascending
	retryQueue  []*Job // drained before the main queue
	active      map[string]*Job
	retryTimers map[string]*time.Timer
	deadLetter  []*Job

	deadLetterCap   int
	maxTerminalJobs int

	releaser ResourceReleaser
	log      *logrus.Entry
}

// NewManager creates a job manager. Zero caps select the defaults.
func NewManager(releaser ResourceReleaser, deadLetterCap, maxTerminalJobs int, log *logrus.Entry) *Manager {
	if deadLetterCap <= 0 {
		deadLetterCap = DefaultDeadLetterCap
	}
	if maxTerminalJobs <= 0 {
		maxTerminalJobs = DefaultMaxTerminalJobs
	}
	return &Manager{
		jobs:            make(map[string]*Job),
		active:          make(map[string]*Job),
		retryTimers:     make(map[string]*time.Timer),
		deadLetterCap:   deadLetterCap,
		maxTerminalJobs: maxTerminalJobs,
		releaser:        releaser,
		log:             log,
	}
}

// CreateJob enqueues a new job for a chunk and returns it.
func (m *Manager) CreateJob(recordingID string, chunk *types.Chunk, maxRetries int) *Job {
	job := newJob(recordingID, chunk, maxRetries)

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.queue = append(m.queue, job)
	sort.Slice(m.queue, func(i, j int) bool { return m.queue[i].Priority < m.queue[j].Priority })
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"job_id":       job.ID,
		"recording_id": recordingID,
		"chunk_id":     chunk.ID,
	}).Debug("job enqueued")
	return job.snapshot()
}

// NextJob removes and returns the next dispatchable job: retries first,
// then the oldest fresh arrival. Returns nil when nothing is ready.
func (m *Manager) NextJob() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.retryQueue) > 0 {
		job := m.retryQueue[0]
		m.retryQueue = m.retryQueue[1:]
		return job.snapshot()
	}
	if len(m.queue) > 0 {
		job := m.queue[0]
		m.queue = m.queue[1:]
		return job.snapshot()
	}
	return nil
}

// MarkActive transitions a dequeued job to processing.
func (m *Manager) MarkActive(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != types.StatusQueued {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, types.StatusProcessing)
	}
	now := time.Now()
	job.Status = types.StatusProcessing
	job.StartedAt = &now
	m.active[job.ID] = job
	return nil
}

// SetTempResource records the transient resource backing an active job.
func (m *Manager) SetTempResource(jobID, ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.TempResource = ref
	}
}

// MarkCompleted transitions an active job to completed with its result.
func (m *Manager) MarkCompleted(jobID string, result *types.EngineResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != types.StatusProcessing {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, types.StatusCompleted)
	}
	now := time.Now()
	job.Status = types.StatusCompleted
	job.Result = result
	job.CompletedAt = &now
	job.TempResource = ""
	delete(m.active, jobID)
	return nil
}

// MarkFailed transitions an active job to failed. Non-recoverable failures
// are additionally appended to the bounded dead-letter set.
func (m *Manager) MarkFailed(jobID, errMsg string, kind types.ErrorKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.IsTerminal() {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, types.StatusFailed)
	}
	now := time.Now()
	job.Status = types.StatusFailed
	job.Error = errMsg
	job.ErrorKind = kind
	job.CompletedAt = &now
	delete(m.active, jobID)

	if kind == types.ErrorKindNonRecoverable {
		m.deadLetter = append(m.deadLetter, job)
		if len(m.deadLetter) > m.deadLetterCap {
			m.deadLetter = m.deadLetter[1:]
		}
		m.log.WithFields(logrus.Fields{
			"job_id": jobID,
			"error":  errMsg,
		}).Warn("job dead-lettered")
	}
	return nil
}

// ScheduleRetry moves a failed-in-flight job back toward the queue after an
// exponential backoff delay with jitter, releasing its temp resource first.
// Returns the computed delay.
func (m *Manager) ScheduleRetry(jobID string) (time.Duration, error) {
	m.mu.Lock()

	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return 0, ErrJobNotFound
	}
	if job.Status != types.StatusProcessing {
		m.mu.Unlock()
		return 0, fmt.Errorf("invalid transition: %s -> %s", job.Status, types.StatusRetrying)
	}

	delete(m.active, jobID)
	job.RetryCount++
	now := time.Now()
	job.LastRetryAt = &now
	job.Status = types.StatusRetrying

	ref := job.TempResource
	job.TempResource = ""

	idx := job.RetryCount - 1
	if idx >= len(retryDelays) {
		idx = len(retryDelays) - 1
	}
	delay := retryDelays[idx] + time.Duration((rand.Float64()*2-1)*float64(retryJitter))
	if delay < 100*time.Millisecond {
		delay = 100 * time.Millisecond
	}

	retryCount := job.RetryCount
	m.retryTimers[jobID] = time.AfterFunc(delay, func() {
		m.requeueRetry(jobID)
	})
	m.mu.Unlock()

	if ref != "" {
		m.releaser.CleanupResource(ref)
	}

	m.log.WithFields(logrus.Fields{
		"job_id": jobID,
		"retry":  retryCount,
		"delay":  delay.String(),
	}).Info("retry scheduled")
	return delay, nil
}

// requeueRetry fires when a retry delay elapses; the job re-enters the
// retry queue ahead of fresh arrivals.
func (m *Manager) requeueRetry(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.retryTimers, jobID)
	job, ok := m.jobs[jobID]
	if !ok || job.Status != types.StatusRetrying {
		return
	}
	job.Status = types.StatusQueued
	m.retryQueue = append(m.retryQueue, job)
}

// CancelJob removes a job from whichever collection holds it and marks it
// cancelled. Returns false if the job is unknown or already terminal. For
// active jobs the engine call is the caller's to terminate; the state
// transition here is immediate.
func (m *Manager) CancelJob(jobID string) bool {
	m.mu.Lock()

	job, ok := m.jobs[jobID]
	if !ok || job.IsTerminal() {
		m.mu.Unlock()
		return false
	}

	wasActive := job.Status == types.StatusProcessing
	m.removeFromQueuesLocked(jobID)
	if timer, ok := m.retryTimers[jobID]; ok {
		timer.Stop()
		delete(m.retryTimers, jobID)
	}
	delete(m.active, jobID)

	now := time.Now()
	job.Status = types.StatusCancelled
	job.CompletedAt = &now

	ref := job.TempResource
	job.TempResource = ""
	m.mu.Unlock()

	// An active job's resource is released by its execution path; releasing
	// it here too is safe since cleanup is idempotent, but skipping avoids
	// pulling the file out from under an in-flight engine call.
	if ref != "" && !wasActive {
		m.releaser.CleanupResource(ref)
	}

	m.log.WithField("job_id", jobID).Info("job cancelled")
	return true
}

// CancelJobsForRecording cancels every non-terminal job for a recording and
// returns their ids.
func (m *Manager) CancelJobsForRecording(recordingID string) []string {
	m.mu.Lock()
	var ids []string
	for id, job := range m.jobs {
		if job.RecordingID == recordingID && !job.IsTerminal() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var cancelled []string
	for _, id := range ids {
		if m.CancelJob(id) {
			cancelled = append(cancelled, id)
		}
	}
	return cancelled
}

// removeFromQueuesLocked drops a job from the main and retry queues.
func (m *Manager) removeFromQueuesLocked(jobID string) {
	filter := func(jobs []*Job) []*Job {
		out := jobs[:0]
		for _, j := range jobs {
			if j.ID != jobID {
				out = append(out, j)
			}
		}
		return out
	}
	m.queue = filter(m.queue)
	m.retryQueue = filter(m.retryQueue)
}

// CanProcessMoreJobs reports whether a dispatch slot is free.
func (m *Manager) CanProcessMoreJobs(limit int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) < limit
}

// GetJob returns a snapshot of a job by id.
func (m *Manager) GetJob(jobID string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.snapshot(), true
}

// DeadLetter returns a snapshot of the dead-letter set, oldest first.
func (m *Manager) DeadLetter() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Job, 0, len(m.deadLetter))
	for _, job := range m.deadLetter {
		out = append(out, job.snapshot())
	}
	return out
}

// CleanupOldJobs evicts terminal jobs beyond the in-memory cap, oldest
// completed first, and returns the eviction count.
func (m *Manager) CleanupOldJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var terminal []*Job
	for _, job := range m.jobs {
		if job.IsTerminal() {
			terminal = append(terminal, job)
		}
	}
	if len(terminal) <= m.maxTerminalJobs {
		return 0
	}

	sort.Slice(terminal, func(i, j int) bool {
		return evictionKey(terminal[i]).Before(evictionKey(terminal[j]))
	})

	evict := len(terminal) - m.maxTerminalJobs
	for _, job := range terminal[:evict] {
		delete(m.jobs, job.ID)
	}
	m.log.WithField("evicted", evict).Info("terminal jobs evicted")
	return evict
}

// evictionKey orders terminal jobs for eviction; jobs cancelled before ever
// completing fall back to creation time.
func evictionKey(job *Job) time.Time {
	if job.CompletedAt != nil {
		return *job.CompletedAt
	}
	return job.CreatedAt
}

// Counts reports collection sizes for stats and health checks.
func (m *Manager) Counts() (queued, retryPending, active, deadLetter, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) + len(m.retryQueue), len(m.retryTimers), len(m.active), len(m.deadLetter), len(m.jobs)
}
