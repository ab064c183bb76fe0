package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/voxpipe/realtime-transcription/internal/types"
)

// Job wraps one chunk through to a terminal outcome. A job lives in exactly
// one of: main queue, retry wait, retry queue, active set, dead-letter set,
// or nowhere once evicted.
type Job struct {
	ID           string              `json:"id"`
	RecordingID  string              `json:"recording_id"`
	ChunkID      string              `json:"chunk_id"`
	Status       string              `json:"status"`
	Priority     int64               `json:"priority"`
	Chunk        *types.Chunk        `json:"-"`
	TempResource string              `json:"-"`
	Result       *types.EngineResult `json:"result,omitempty"`
	Error        string              `json:"error,omitempty"`
	ErrorKind    types.ErrorKind     `json:"error_kind,omitempty"`
	RetryCount   int                 `json:"retry_count"`
	MaxRetries   int                 `json:"max_retries"`
	LastRetryAt  *time.Time          `json:"last_retry_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}

// newJob builds a queued job for a chunk. Priority is the submission time,
// which gives FIFO ordering in the sorted main queue.
func newJob(recordingID string, chunk *types.Chunk, maxRetries int) *Job {
	now := time.Now()
	return &Job{
		ID:          uuid.New().String(),
		RecordingID: recordingID,
		ChunkID:     chunk.ID,
		Status:      types.StatusQueued,
		Priority:    now.UnixNano(),
		Chunk:       chunk,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
	}
}

// IsTerminal reports whether the job reached a terminal state.
func (j *Job) IsTerminal() bool {
	return types.IsTerminalStatus(j.Status)
}

// snapshot returns a copy safe to hand outside the manager's lock. The
// chunk pointer is shared; chunks are immutable once submitted.
func (j *Job) snapshot() *Job {
	cp := *j
	return &cp
}
