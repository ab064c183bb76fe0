package notify

import (
	"sync"
	"time"

	"github.com/voxpipe/realtime-transcription/internal/types"
)

// EventType names the notifications emitted by the pipeline.
type EventType string

const (
	EventStarted           EventType = "started"
	EventStopped           EventType = "stopped"
	EventChunkQueued       EventType = "chunk-queued"
	EventJobStarted        EventType = "job-started"
	EventJobCompleted      EventType = "job-completed"
	EventJobFailed         EventType = "job-failed"
	EventJobCancelled      EventType = "job-cancelled"
	EventJobRetryScheduled EventType = "job-retry-scheduled"
	EventSegmentAdded      EventType = "segment-added"
	EventTextUpdated       EventType = "text-updated"
	EventFinalized         EventType = "finalized"
	EventBreakerOpened     EventType = "circuit-breaker-opened"
	EventBreakerReset      EventType = "circuit-breaker-reset"
)

// Event is one notification payload. Fields beyond Type are populated per
// event kind and omitted otherwise.
type Event struct {
	Seq         int64           `json:"seq"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        EventType       `json:"type"`
	RecordingID string          `json:"recording_id,omitempty"`
	JobID       string          `json:"job_id,omitempty"`
	ChunkID     string          `json:"chunk_id,omitempty"`
	Segment     *types.Segment  `json:"segment,omitempty"`
	Segments    []types.Segment `json:"segments,omitempty"`
	Text        string          `json:"text,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   types.ErrorKind `json:"error_kind,omitempty"`
	RetryCount  int             `json:"retry_count,omitempty"`
	Delay       time.Duration   `json:"delay_ms,omitempty"`
}

// Hub fans events out to subscribers over bounded buffered channels.
// Publishing never blocks: a subscriber whose buffer is full loses the
// event. Events published from a single goroutine arrive in order, which
// gives per-recording FIFO since all mutations of one recording are
// serialized upstream.
type Hub struct {
	mu      sync.Mutex
	nextSeq int64
	nextID  int
	subs    map[int]chan Event
	buffer  int
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a new listener and returns its id and channel.
func (h *Hub) Subscribe() (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish stamps and delivers an event to every subscriber, dropping it for
// any subscriber whose buffer is full.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	event.Seq = h.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			// subscriber is lagging; delivery is best-effort
		}
	}
}

// SubscriberCount returns the number of active listeners.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
