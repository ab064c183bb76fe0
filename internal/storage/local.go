package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxpipe/realtime-transcription/internal/types"
)

// LocalStorage writes finalized transcripts to the local filesystem.
type LocalStorage struct {
	outputDir string
}

// NewLocalStorage creates a local storage handler rooted at outputDir.
func NewLocalStorage(outputDir string) *LocalStorage {
	return &LocalStorage{outputDir: outputDir}
}

// SaveTranscript writes the merged text and a metadata JSON into a dated
// directory (outputs/2026/08/24/) and returns the text file path.
func (ls *LocalStorage) SaveTranscript(t *types.FinalizedTranscript) (string, error) {
	now := t.FinalizedAt
	if now.IsZero() {
		now = time.Now()
	}
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %v", err)
	}

	timestamp := now.Format("20060102_150405")
	baseFilename := fmt.Sprintf("%s_%s", timestamp, sanitizeFilename(t.RecordingID))

	txtPath := filepath.Join(dateDir, baseFilename+".txt")
	metaPath := filepath.Join(dateDir, baseFilename+"_meta.json")

	if err := os.WriteFile(txtPath, []byte(t.MergedText), 0644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %v", err)
	}

	metadata := map[string]interface{}{
		"recording_id":     t.RecordingID,
		"duration_seconds": t.Duration,
		"word_count":       t.WordCount,
		"segment_count":    len(t.Segments),
		"language":         t.Language,
		"finalized_at":     t.FinalizedAt,
		"segments":         t.Segments,
		"local_path":       txtPath,
	}

	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", fmt.Errorf("failed to save metadata: %v", err)
	}

	return txtPath, nil
}

// sanitizeFilename strips path separators and invalid characters.
func sanitizeFilename(name string) string {
	result := filepath.Base(name)
	for _, ch := range []string{":", "*", "?", "\"", "<", ">", "|", "\\"} {
		result = strings.ReplaceAll(result, ch, "_")
	}
	if len(result) > 100 {
		result = result[:100]
	}
	return result
}
