package transcription

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/voxpipe/realtime-transcription/internal/types"
)

// Processor materializes chunk bytes into transient files, runs the engine
// against them, and guarantees the intermediates are released.
type Processor struct {
	tempDir string
	engine  Engine
	log     *logrus.Entry

	// normalize is swapped out in tests to avoid the ffmpeg dependency.
	normalize func(inputPath, tempDir string) (string, error)
}

// ProcessorOption customizes processor construction.
type ProcessorOption func(*Processor)

// WithNormalizer overrides the audio normalization step. Tests use this to
// avoid the ffmpeg dependency.
func WithNormalizer(fn func(inputPath, tempDir string) (string, error)) ProcessorOption {
	return func(p *Processor) { p.normalize = fn }
}

// NewProcessor creates a processor writing transient resources under tempDir.
func NewProcessor(tempDir string, engine Engine, log *logrus.Entry, opts ...ProcessorOption) *Processor {
	p := &Processor{
		tempDir:   tempDir,
		engine:    engine,
		log:       log,
		normalize: NormalizeAudio,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureTempDir creates the transient store directory if missing.
func (p *Processor) EnsureTempDir() error {
	return os.MkdirAll(p.tempDir, 0755)
}

// CreateTempResource writes chunk bytes to a uniquely-named transient file
// and returns its path. The file stays addressable for the job's lifetime.
func (p *Processor) CreateTempResource(chunk *types.Chunk) (string, error) {
	if len(chunk.Data) == 0 {
		return "", fmt.Errorf("invalid audio: chunk %s carries no bytes", chunk.ID)
	}
	if err := os.MkdirAll(p.tempDir, 0755); err != nil {
		return "", fmt.Errorf("failed to prepare temp dir: %v", err)
	}

	path := filepath.Join(p.tempDir, fmt.Sprintf("chunk_%s_%s.webm", chunk.ID, uuid.New().String()))
	if err := os.WriteFile(path, chunk.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to write chunk resource: %v", err)
	}
	return path, nil
}

// Transcribe normalizes the chunk resource and invokes the engine. The
// normalized intermediate is removed before returning regardless of outcome.
// An empty engine response is surfaced as a non-recoverable error.
func (p *Processor) Transcribe(ctx context.Context, resourceRef string, params types.ModelParams) (*types.EngineResult, error) {
	normalizedPath, err := p.normalize(resourceRef, p.tempDir)
	if err != nil {
		return nil, fmt.Errorf("audio normalization failed: %v", err)
	}
	defer p.CleanupResource(normalizedPath)

	result, err := p.engine.Transcribe(ctx, normalizedPath, params)
	if err != nil {
		return nil, err
	}
	if result == nil || result.Text == "" {
		return nil, fmt.Errorf("empty transcription result: engine returned no text")
	}
	return result, nil
}

// CleanupResource removes a transient file. Idempotent; a missing file is
// not an error.
func (p *Processor) CleanupResource(ref string) {
	if ref == "" {
		return
	}
	if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
		p.log.WithError(err).WithField("resource", ref).Warn("failed to cleanup temp resource")
	}
}

// SweepStaleResources deletes transient files older than maxAge, guarding
// against leftovers from crashed runs. Returns the count and bytes removed.
func (p *Processor) SweepStaleResources(maxAge time.Duration) (int, int64) {
	now := time.Now()
	var deletedCount int
	var deletedBytes int64

	err := filepath.Walk(p.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip files we can't access
		}
		if info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age > maxAge {
			size := info.Size()
			if err := os.Remove(path); err != nil {
				p.log.WithError(err).WithField("file", path).Warn("failed to delete stale temp file")
			} else {
				deletedCount++
				deletedBytes += size
				p.log.WithFields(logrus.Fields{
					"file": filepath.Base(path),
					"age":  age.Round(time.Second).String(),
				}).Debug("deleted stale temp file")
			}
		}
		return nil
	})
	if err != nil {
		p.log.WithError(err).Warn("stale resource sweep failed")
	}

	if deletedCount > 0 {
		p.log.WithFields(logrus.Fields{
			"files": deletedCount,
			"bytes": deletedBytes,
		}).Info("stale temp resources swept")
	}
	return deletedCount, deletedBytes
}
