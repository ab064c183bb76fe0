package transcript

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxpipe/realtime-transcription/internal/notify"
	"github.com/voxpipe/realtime-transcription/internal/types"
)

const (
	// DefaultMaxAccumulatorAge finalizes accumulators that a caller started
	// but never stopped.
	DefaultMaxAccumulatorAge = 24 * time.Hour
	// DefaultMaxSegments caps segments per accumulator before aggressive
	// cleanup kicks in.
	DefaultMaxSegments = 1000
)

// Store receives ownership of a recording's transcript at finalization.
type Store interface {
	SaveTranscript(t *types.FinalizedTranscript) error
}

// accumulator holds all segments for one in-progress recording plus the
// derived merged text.
type accumulator struct {
	recordingID string
	segments    map[string]*types.Segment
	mergedText  string
	createdAt   time.Time
	lastUpdate  time.Time
}

// Manager accumulates completed segments per recording into a time-ordered,
// deduplicated merged transcript.
type Manager struct {
	mu   sync.Mutex
	accs map[string]*accumulator

	store Store
	hub   *notify.Hub

	maxAge      time.Duration
	maxSegments int

	log *logrus.Entry
}

// NewManager creates a transcript manager persisting to store and emitting
// segment/text events on hub. Zero limits select the defaults.
func NewManager(store Store, hub *notify.Hub, maxAge time.Duration, maxSegments int, log *logrus.Entry) *Manager {
	if maxAge <= 0 {
		maxAge = DefaultMaxAccumulatorAge
	}
	if maxSegments <= 0 {
		maxSegments = DefaultMaxSegments
	}
	return &Manager{
		accs:        make(map[string]*accumulator),
		store:       store,
		hub:         hub,
		maxAge:      maxAge,
		maxSegments: maxSegments,
		log:         log,
	}
}

// CreateAccumulator opens the per-recording accumulator. Idempotent.
func (m *Manager) CreateAccumulator(recordingID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accs[recordingID]; ok {
		return
	}
	now := time.Now()
	m.accs[recordingID] = &accumulator{
		recordingID: recordingID,
		segments:    make(map[string]*types.Segment),
		createdAt:   now,
		lastUpdate:  now,
	}
	m.log.WithField("recording_id", recordingID).Debug("accumulator created")
}

// AddSegment inserts or replaces a segment by id and recomputes the merged
// text. Segments may arrive in any completion order; the merge restores
// time order. Notifies listeners of the segment and the updated text.
func (m *Manager) AddSegment(recordingID string, segment *types.Segment) {
	m.mu.Lock()
	acc, ok := m.accs[recordingID]
	if !ok {
		m.mu.Unlock()
		m.log.WithField("recording_id", recordingID).Warn("segment for unknown recording dropped")
		return
	}

	acc.segments[segment.ID] = segment
	acc.mergedText = mergeText(acc.segments)
	acc.lastUpdate = time.Now()
	text := acc.mergedText
	m.mu.Unlock()

	m.hub.Publish(notify.Event{
		Type:        notify.EventSegmentAdded,
		RecordingID: recordingID,
		Segment:     segment,
	})
	m.hub.Publish(notify.Event{
		Type:        notify.EventTextUpdated,
		RecordingID: recordingID,
		Text:        text,
	})
}

// mergeText rebuilds the merged transcript from scratch: non-overlap
// segments only, ascending start time, joined with single spaces. Never
// hand-patched, so it is deterministic for any arrival order.
func mergeText(segments map[string]*types.Segment) string {
	ordered := make([]*types.Segment, 0, len(segments))
	for _, seg := range segments {
		if seg.IsOverlap {
			continue
		}
		ordered = append(ordered, seg)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].StartTime != ordered[j].StartTime {
			return ordered[i].StartTime < ordered[j].StartTime
		}
		return ordered[i].ID < ordered[j].ID
	})

	parts := make([]string, 0, len(ordered))
	for _, seg := range ordered {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// GetTranscript returns the recording's segments ordered by start time.
func (m *Manager) GetTranscript(recordingID string) []types.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accs[recordingID]
	if !ok {
		return nil
	}
	return orderedSegmentsLocked(acc)
}

// GetMergedText returns the current merged transcript text.
func (m *Manager) GetMergedText(recordingID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acc, ok := m.accs[recordingID]; ok {
		return acc.mergedText
	}
	return ""
}

// SegmentCount returns the recording's segment count, or the total across
// accumulators when recordingID is empty.
func (m *Manager) SegmentCount(recordingID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if recordingID != "" {
		if acc, ok := m.accs[recordingID]; ok {
			return len(acc.segments)
		}
		return 0
	}
	total := 0
	for _, acc := range m.accs {
		total += len(acc.segments)
	}
	return total
}

// AccumulatorCount returns the number of open accumulators.
func (m *Manager) AccumulatorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accs)
}

// FinalizeTranscript marks all segments final, hands the transcript to
// persistent storage, and emits the finalized event. A recording with zero
// segments is a no-op. The accumulator stays in memory until
// CleanupAccumulator.
func (m *Manager) FinalizeTranscript(recordingID string) error {
	m.mu.Lock()
	acc, ok := m.accs[recordingID]
	if !ok || len(acc.segments) == 0 {
		m.mu.Unlock()
		return nil
	}

	for _, seg := range acc.segments {
		seg.IsFinal = true
	}
	segments := orderedSegmentsLocked(acc)
	finalized := &types.FinalizedTranscript{
		RecordingID: recordingID,
		Segments:    segments,
		MergedText:  acc.mergedText,
		Duration:    transcriptDuration(segments),
		WordCount:   len(strings.Fields(acc.mergedText)),
		FinalizedAt: time.Now(),
	}
	if len(segments) > 0 {
		finalized.Language = segments[0].Language
	}
	m.mu.Unlock()

	if err := m.store.SaveTranscript(finalized); err != nil {
		m.log.WithError(err).WithField("recording_id", recordingID).Error("failed to persist finalized transcript")
		return err
	}

	m.hub.Publish(notify.Event{
		Type:        notify.EventFinalized,
		RecordingID: recordingID,
		Segments:    finalized.Segments,
		Text:        finalized.MergedText,
	})
	m.log.WithFields(logrus.Fields{
		"recording_id": recordingID,
		"segments":     len(finalized.Segments),
		"words":        finalized.WordCount,
	}).Info("transcript finalized")
	return nil
}

// CleanupAccumulator discards the in-memory accumulator after finalization.
func (m *Manager) CleanupAccumulator(recordingID string) {
	m.mu.Lock()
	delete(m.accs, recordingID)
	m.mu.Unlock()
}

// ShouldPerformAggressiveCleanup reports whether any accumulator exceeds
// the age or segment limits.
func (m *Manager) ShouldPerformAggressiveCleanup() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, acc := range m.accs {
		if now.Sub(acc.lastUpdate) > m.maxAge || len(acc.segments) > m.maxSegments {
			return true
		}
	}
	return false
}

// CleanupOldAccumulators finalizes then discards every accumulator past
// the limits, covering callers that start but never stop a recording.
// Returns the number cleaned.
func (m *Manager) CleanupOldAccumulators() int {
	m.mu.Lock()
	now := time.Now()
	var stale []string
	for id, acc := range m.accs {
		if now.Sub(acc.lastUpdate) > m.maxAge || len(acc.segments) > m.maxSegments {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.FinalizeTranscript(id); err != nil {
			m.log.WithError(err).WithField("recording_id", id).Warn("finalize during cleanup failed, discarding anyway")
		}
		m.CleanupAccumulator(id)
	}
	return len(stale)
}

// orderedSegmentsLocked copies segments ordered by start time; caller holds
// the lock.
func orderedSegmentsLocked(acc *accumulator) []types.Segment {
	out := make([]types.Segment, 0, len(acc.segments))
	for _, seg := range acc.segments {
		out = append(out, *seg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// transcriptDuration is the latest segment end time.
func transcriptDuration(segments []types.Segment) float64 {
	var d float64
	for _, seg := range segments {
		if seg.EndTime > d {
			d = seg.EndTime
		}
	}
	return d
}
