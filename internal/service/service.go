package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/voxpipe/realtime-transcription/internal/cleanup"
	"github.com/voxpipe/realtime-transcription/internal/notify"
	"github.com/voxpipe/realtime-transcription/internal/queue"
	"github.com/voxpipe/realtime-transcription/internal/transcript"
	"github.com/voxpipe/realtime-transcription/internal/transcription"
	"github.com/voxpipe/realtime-transcription/internal/types"
)

// DefaultTickInterval is the dispatch loop poll interval.
const DefaultTickInterval = 100 * time.Millisecond

var (
	// ErrDisabled is returned when transcription is switched off in config.
	ErrDisabled = errors.New("transcription is disabled")
	// ErrRecordingNotActive is returned for chunks or stops on a recording
	// that was never started.
	ErrRecordingNotActive = errors.New("recording is not being transcribed")
	// ErrInvalidChunk is returned for chunks failing boundary validation.
	ErrInvalidChunk = errors.New("invalid chunk")
)

// inflightJob tracks one dispatched job so cancellation can reach its
// engine call and stop can wait for its cleanup to finish.
type inflightJob struct {
	recordingID string
	cancel      context.CancelFunc
	done        chan struct{}
}

// Service is the orchestrator: it owns the per-recording transcription
// state machine and the dispatch loop that pulls ready jobs, gates them on
// concurrency and the circuit breaker, and routes outcomes back into the
// job manager, transcript manager, and breaker.
type Service struct {
	mu  sync.Mutex
	cfg types.Config

	jobs        *queue.Manager
	transcripts *transcript.Manager
	processor   *transcription.Processor
	breaker     *transcription.CircuitBreaker
	memory      *cleanup.Manager
	hub         *notify.Hub

	tick time.Duration

	recordings map[string]struct{}
	inflight   map[string]*inflightJob

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	log *logrus.Entry
}

// New wires the orchestrator. A zero tick selects the default interval.
func New(cfg types.Config, jobs *queue.Manager, transcripts *transcript.Manager,
	processor *transcription.Processor, breaker *transcription.CircuitBreaker,
	memory *cleanup.Manager, hub *notify.Hub, tick time.Duration, log *logrus.Entry) *Service {

	if tick <= 0 {
		tick = DefaultTickInterval
	}
	s := &Service{
		cfg:         cfg,
		jobs:        jobs,
		transcripts: transcripts,
		processor:   processor,
		breaker:     breaker,
		memory:      memory,
		hub:         hub,
		tick:        tick,
		recordings:  make(map[string]struct{}),
		inflight:    make(map[string]*inflightJob),
		stopChan:    make(chan struct{}),
		log:         log,
	}

	breaker.OnOpen(func() {
		hub.Publish(notify.Event{Type: notify.EventBreakerOpened})
	})
	breaker.OnReset(func() {
		hub.Publish(notify.Event{Type: notify.EventBreakerReset})
	})
	return s
}

// Start launches the dispatch loop and the periodic memory sweep.
func (s *Service) Start() {
	s.memory.Start()
	s.wg.Add(1)
	go s.dispatchLoop()
	s.log.WithField("tick", s.tick.String()).Info("dispatch loop started")
}

// Shutdown stops the dispatch loop, cancels in-flight work, and waits for
// resource cleanup to finish.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.memory.Stop()

	s.mu.Lock()
	for _, inf := range s.inflight {
		inf.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("service stopped")
}

// dispatchLoop polls at a fixed interval. Each tick it skips when the
// circuit is open or no slot is free, otherwise pulls the next job and
// executes it concurrently. Job execution never blocks the loop.
func (s *Service) dispatchLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.dispatchOne()
		}
	}
}

func (s *Service) dispatchOne() {
	if s.breaker.IsOpen() {
		return
	}
	if !s.jobs.CanProcessMoreJobs(s.maxConcurrent()) {
		return
	}

	job := s.jobs.NextJob()
	if job == nil {
		return
	}
	if err := s.jobs.MarkActive(job.ID); err != nil {
		// cancelled between dequeue and activation
		return
	}

	s.hub.Publish(notify.Event{
		Type:        notify.EventJobStarted,
		RecordingID: job.RecordingID,
		JobID:       job.ID,
		ChunkID:     job.ChunkID,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.WithFields(logrus.Fields{
					"job_id": job.ID,
					"panic":  r,
				}).Error(string(debug.Stack()))
				s.jobs.MarkFailed(job.ID, fmt.Sprintf("worker panic: %v", r), types.ErrorKindRecoverable)
			}
		}()
		s.executeJob(job)
	}()
}

// executeJob runs one job end to end: materialize the chunk, invoke the
// engine, and route the outcome. The temp resource is released on every
// path.
func (s *Service) executeJob(job *queue.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	inf := &inflightJob{
		recordingID: job.RecordingID,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.mu.Lock()
	s.inflight[job.ID] = inf
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, job.ID)
		s.mu.Unlock()
		cancel()
		close(inf.done)
	}()

	ref, err := s.processor.CreateTempResource(job.Chunk)
	if err != nil {
		s.handleFailure(job, err.Error())
		return
	}
	s.jobs.SetTempResource(job.ID, ref)
	defer s.processor.CleanupResource(ref)

	params := s.modelParams()
	result, err := s.processor.Transcribe(ctx, ref, params)

	if current, ok := s.jobs.GetJob(job.ID); ok && current.Status == types.StatusCancelled {
		// cancelled mid-flight; the deferred cleanup still runs
		return
	}
	if err != nil {
		s.handleFailure(job, err.Error())
		return
	}

	segment := s.buildSegment(job, result)
	s.transcripts.AddSegment(job.RecordingID, segment)

	if err := s.jobs.MarkCompleted(job.ID, result); err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Warn("completion transition rejected")
		return
	}
	s.breaker.RecordSuccess()

	s.hub.Publish(notify.Event{
		Type:        notify.EventJobCompleted,
		RecordingID: job.RecordingID,
		JobID:       job.ID,
		ChunkID:     job.ChunkID,
		Segment:     segment,
	})
}

// buildSegment converts an engine result into the chunk's segment. With
// segment merging disabled the overlap flag is not honored and every
// segment contributes to the merged text.
func (s *Service) buildSegment(job *queue.Job, result *types.EngineResult) *types.Segment {
	s.mu.Lock()
	merging := s.cfg.EnableSegmentMerging
	s.mu.Unlock()

	return &types.Segment{
		ID:          uuid.New().String(),
		ChunkID:     job.ChunkID,
		RecordingID: job.RecordingID,
		Text:        result.Text,
		StartTime:   job.Chunk.StartOffset,
		EndTime:     job.Chunk.EndOffset,
		Confidence:  result.Confidence,
		Language:    result.Language,
		IsOverlap:   merging && job.Chunk.IsOverlap,
	}
}

// handleFailure classifies the error and decides between retry and terminal
// failure. Retry eligibility is evaluated against the breaker state from
// before this failure is recorded, so the failure that opens the circuit
// can still schedule its own retry while subsequent ones fail fast. Every
// failure feeds the breaker regardless of kind.
func (s *Service) handleFailure(job *queue.Job, errMsg string) {
	if current, ok := s.jobs.GetJob(job.ID); ok && current.Status == types.StatusCancelled {
		return
	}

	kind := transcription.Classify(errMsg)
	circuitOpen := s.breaker.IsOpen()
	s.breaker.RecordFailure()

	retryCount := job.RetryCount
	if current, ok := s.jobs.GetJob(job.ID); ok {
		retryCount = current.RetryCount
	}

	if transcription.ShouldRetry(kind, retryCount, job.MaxRetries, circuitOpen) {
		delay, err := s.jobs.ScheduleRetry(job.ID)
		if err == nil {
			s.hub.Publish(notify.Event{
				Type:        notify.EventJobRetryScheduled,
				RecordingID: job.RecordingID,
				JobID:       job.ID,
				ChunkID:     job.ChunkID,
				Error:       errMsg,
				ErrorKind:   kind,
				RetryCount:  retryCount + 1,
				Delay:       delay,
			})
			return
		}
		s.log.WithError(err).WithField("job_id", job.ID).Warn("retry scheduling rejected, failing job")
	}

	if err := s.jobs.MarkFailed(job.ID, errMsg, kind); err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Warn("failure transition rejected")
		return
	}
	s.hub.Publish(notify.Event{
		Type:        notify.EventJobFailed,
		RecordingID: job.RecordingID,
		JobID:       job.ID,
		ChunkID:     job.ChunkID,
		Error:       errMsg,
		ErrorKind:   kind,
		RetryCount:  retryCount,
	})
	s.log.WithFields(logrus.Fields{
		"job_id": job.ID,
		"kind":   kind,
		"error":  errMsg,
	}).Warn("job failed")
}

// StartTranscription opens the accumulator for a recording and begins
// accepting its chunks.
func (s *Service) StartTranscription(recordingID string) error {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	s.recordings[recordingID] = struct{}{}
	s.mu.Unlock()

	s.transcripts.CreateAccumulator(recordingID)
	s.hub.Publish(notify.Event{Type: notify.EventStarted, RecordingID: recordingID})
	s.log.WithField("recording_id", recordingID).Info("transcription started")
	return nil
}

// StopTranscription cancels the recording's outstanding jobs, waits out its
// in-flight work, finalizes the transcript, and discards the accumulator.
// Finalization never races an in-flight job for the recording.
func (s *Service) StopTranscription(recordingID string) error {
	s.mu.Lock()
	_, active := s.recordings[recordingID]
	delete(s.recordings, recordingID)
	s.mu.Unlock()

	if !active {
		return ErrRecordingNotActive
	}

	cancelled := s.jobs.CancelJobsForRecording(recordingID)

	s.mu.Lock()
	var waiting []*inflightJob
	for _, inf := range s.inflight {
		if inf.recordingID == recordingID {
			inf.cancel()
			waiting = append(waiting, inf)
		}
	}
	s.mu.Unlock()

	for _, inf := range waiting {
		<-inf.done
	}

	for _, jobID := range cancelled {
		s.hub.Publish(notify.Event{
			Type:        notify.EventJobCancelled,
			RecordingID: recordingID,
			JobID:       jobID,
		})
	}

	if err := s.transcripts.FinalizeTranscript(recordingID); err != nil {
		s.log.WithError(err).WithField("recording_id", recordingID).Error("finalize failed on stop")
	}
	s.transcripts.CleanupAccumulator(recordingID)

	s.hub.Publish(notify.Event{Type: notify.EventStopped, RecordingID: recordingID})
	s.log.WithFields(logrus.Fields{
		"recording_id": recordingID,
		"cancelled":    len(cancelled),
	}).Info("transcription stopped")
	return nil
}

// ProcessChunk is the sole ingress point: it validates the chunk, applies
// the backpressure check, and enqueues a job. Returns the job id.
func (s *Service) ProcessChunk(recordingID string, chunk *types.Chunk) (string, error) {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	autoStart := s.cfg.AutoStartForRecordings
	maxRetries := s.cfg.MaxRetries
	_, active := s.recordings[recordingID]
	s.mu.Unlock()

	if !enabled {
		return "", ErrDisabled
	}
	if !active {
		if !autoStart {
			return "", ErrRecordingNotActive
		}
		if err := s.StartTranscription(recordingID); err != nil {
			return "", err
		}
	}

	if len(chunk.Data) == 0 {
		return "", fmt.Errorf("%w: no audio bytes", ErrInvalidChunk)
	}
	if chunk.EndOffset <= chunk.StartOffset {
		return "", fmt.Errorf("%w: end offset %.3f not after start offset %.3f", ErrInvalidChunk, chunk.EndOffset, chunk.StartOffset)
	}
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}

	// backpressure valve: shed load before accepting new work
	s.memory.CheckPressure()

	job := s.jobs.CreateJob(recordingID, chunk, maxRetries)
	s.hub.Publish(notify.Event{
		Type:        notify.EventChunkQueued,
		RecordingID: recordingID,
		JobID:       job.ID,
		ChunkID:     chunk.ID,
	})
	return job.ID, nil
}

// CancelJob cancels a single job; best-effort for active jobs.
func (s *Service) CancelJob(jobID string) bool {
	job, ok := s.jobs.GetJob(jobID)
	if !ok {
		return false
	}
	if !s.jobs.CancelJob(jobID) {
		return false
	}

	s.mu.Lock()
	inf, running := s.inflight[jobID]
	s.mu.Unlock()
	if running {
		inf.cancel()
	}

	s.hub.Publish(notify.Event{
		Type:        notify.EventJobCancelled,
		RecordingID: job.RecordingID,
		JobID:       jobID,
		ChunkID:     job.ChunkID,
	})
	return true
}

// GetJob returns a job snapshot.
func (s *Service) GetJob(jobID string) (*queue.Job, bool) {
	return s.jobs.GetJob(jobID)
}

// GetTranscript returns the recording's segments in start-time order.
func (s *Service) GetTranscript(recordingID string) []types.Segment {
	return s.transcripts.GetTranscript(recordingID)
}

// GetMergedText returns the recording's current merged transcript.
func (s *Service) GetMergedText(recordingID string) string {
	return s.transcripts.GetMergedText(recordingID)
}

// UpdateConfig applies a partial config update atomically.
func (s *Service) UpdateConfig(patch types.ConfigPatch) types.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Apply(patch)
	return s.cfg
}

// Config returns a copy of the current config.
func (s *Service) Config() types.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Stats is the aggregate service snapshot for the stats endpoint.
type Stats struct {
	ActiveRecordings int           `json:"active_recordings"`
	QueuedJobs       int           `json:"queued_jobs"`
	RetryPendingJobs int           `json:"retry_pending_jobs"`
	ActiveJobs       int           `json:"active_jobs"`
	DeadLetterJobs   int           `json:"dead_letter_jobs"`
	TotalJobs        int           `json:"total_jobs"`
	Accumulators     int           `json:"accumulators"`
	Segments         int           `json:"segments"`
	BreakerFailures  int           `json:"breaker_failures"`
	BreakerOpen      bool          `json:"breaker_open"`
	Memory           cleanup.Stats `json:"memory"`
}

// GetStats gathers counters from every component.
func (s *Service) GetStats() Stats {
	queued, retryPending, active, deadLetter, total := s.jobs.Counts()

	s.mu.Lock()
	activeRecordings := len(s.recordings)
	s.mu.Unlock()

	return Stats{
		ActiveRecordings: activeRecordings,
		QueuedJobs:       queued,
		RetryPendingJobs: retryPending,
		ActiveJobs:       active,
		DeadLetterJobs:   deadLetter,
		TotalJobs:        total,
		Accumulators:     s.transcripts.AccumulatorCount(),
		Segments:         s.transcripts.SegmentCount(""),
		BreakerFailures:  s.breaker.FailureCount(),
		BreakerOpen:      s.breaker.IsOpen(),
		Memory:           s.memory.Snapshot(),
	}
}

// HealthReport exposes the memory manager's diagnostics.
func (s *Service) HealthReport() cleanup.HealthReport {
	return s.memory.Health()
}

// ResetBreaker is the manual operator override.
func (s *Service) ResetBreaker() {
	s.breaker.Reset()
}

func (s *Service) maxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxConcurrentJobs <= 0 {
		return 2
	}
	return s.cfg.MaxConcurrentJobs
}

func (s *Service) modelParams() types.ModelParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.ModelParams{Model: s.cfg.Model, Language: s.cfg.Language}
}
