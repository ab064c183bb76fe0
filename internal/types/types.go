package types

import "time"

// Job status constants
const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusRetrying   = "RETRYING"
	StatusCancelled  = "CANCELLED"
)

// ErrorKind buckets engine failures for retry policy decisions.
type ErrorKind string

const (
	ErrorKindRecoverable    ErrorKind = "recoverable"
	ErrorKindResource       ErrorKind = "resource"
	ErrorKindConfig         ErrorKind = "config"
	ErrorKindNonRecoverable ErrorKind = "non_recoverable"
)

// IsTerminalStatus reports whether a job status admits no further transitions.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusCancelled || status == StatusFailed
}

// Chunk is a time-bounded slice of raw audio submitted for transcription.
// Offsets are recording-relative seconds. The external slicer marks chunks
// that fall entirely inside an overlap window; the flag is carried through
// to the resulting segment. Immutable once submitted.
type Chunk struct {
	ID              string  `json:"id"`
	Data            []byte  `json:"data"`
	StartOffset     float64 `json:"start_offset"`
	EndOffset       float64 `json:"end_offset"`
	RecordingOffset float64 `json:"recording_offset"`
	IsOverlap       bool    `json:"is_overlap"`
}

// Segment is the transcribed result for one chunk.
type Segment struct {
	ID          string  `json:"id"`
	ChunkID     string  `json:"chunk_id"`
	RecordingID string  `json:"recording_id"`
	Text        string  `json:"text"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Confidence  float64 `json:"confidence,omitempty"`
	Language    string  `json:"language,omitempty"`
	IsFinal     bool    `json:"is_final"`
	IsOverlap   bool    `json:"is_overlap"`
}

// EngineResult is the validated output of one Transcription Engine call.
type EngineResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// ModelParams carries the engine invocation parameters for one chunk.
type ModelParams struct {
	Model    string
	Language string
}

// Config holds the runtime-tunable transcription options.
type Config struct {
	Enabled                bool    `json:"enabled" yaml:"enabled"`
	Model                  string  `json:"model" yaml:"model"`
	ChunkDuration          float64 `json:"chunk_duration" yaml:"chunk_duration"`
	ChunkOverlap           float64 `json:"chunk_overlap" yaml:"chunk_overlap"`
	MaxConcurrentJobs      int     `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	MaxRetries             int     `json:"max_retries" yaml:"max_retries"`
	EnableSegmentMerging   bool    `json:"enable_segment_merging" yaml:"enable_segment_merging"`
	AutoStartForRecordings bool    `json:"auto_start_for_recordings" yaml:"auto_start_for_recordings"`
	Language               string  `json:"language,omitempty" yaml:"language"`
}

// ConfigPatch is a partial config update; nil fields are left unchanged.
type ConfigPatch struct {
	Enabled                *bool    `json:"enabled,omitempty"`
	Model                  *string  `json:"model,omitempty"`
	ChunkDuration          *float64 `json:"chunk_duration,omitempty"`
	ChunkOverlap           *float64 `json:"chunk_overlap,omitempty"`
	MaxConcurrentJobs      *int     `json:"max_concurrent_jobs,omitempty"`
	MaxRetries             *int     `json:"max_retries,omitempty"`
	EnableSegmentMerging   *bool    `json:"enable_segment_merging,omitempty"`
	AutoStartForRecordings *bool    `json:"auto_start_for_recordings,omitempty"`
	Language               *string  `json:"language,omitempty"`
}

// DefaultConfig returns the baseline transcription options.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		Model:                  "base",
		ChunkDuration:          5,
		ChunkOverlap:           1,
		MaxConcurrentJobs:      2,
		MaxRetries:             3,
		EnableSegmentMerging:   true,
		AutoStartForRecordings: false,
	}
}

// Apply merges non-nil patch fields into the config.
func (c *Config) Apply(patch ConfigPatch) {
	if patch.Enabled != nil {
		c.Enabled = *patch.Enabled
	}
	if patch.Model != nil {
		c.Model = *patch.Model
	}
	if patch.ChunkDuration != nil {
		c.ChunkDuration = *patch.ChunkDuration
	}
	if patch.ChunkOverlap != nil {
		c.ChunkOverlap = *patch.ChunkOverlap
	}
	if patch.MaxConcurrentJobs != nil {
		c.MaxConcurrentJobs = *patch.MaxConcurrentJobs
	}
	if patch.MaxRetries != nil {
		c.MaxRetries = *patch.MaxRetries
	}
	if patch.EnableSegmentMerging != nil {
		c.EnableSegmentMerging = *patch.EnableSegmentMerging
	}
	if patch.AutoStartForRecordings != nil {
		c.AutoStartForRecordings = *patch.AutoStartForRecordings
	}
	if patch.Language != nil {
		c.Language = *patch.Language
	}
}

// FinalizedTranscript is the unit handed to persistent storage when a
// recording's accumulator is finalized.
type FinalizedTranscript struct {
	RecordingID string    `json:"recording_id"`
	Segments    []Segment `json:"segments"`
	MergedText  string    `json:"merged_text"`
	Language    string    `json:"language,omitempty"`
	Duration    float64   `json:"duration"`
	WordCount   int       `json:"word_count"`
	FinalizedAt time.Time `json:"finalized_at"`
}
