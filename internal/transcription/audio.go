package transcription

import (
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// NormalizeAudio converts chunk audio to 16kHz mono WAV, the input format
// the engine requires. The output lands in tempDir and is the caller's to
// release.
func NormalizeAudio(inputPath, tempDir string) (string, error) {
	outputPath := filepath.Join(tempDir, fmt.Sprintf("normalized_%s.wav", uuid.New().String()))

	cmd := exec.Command("ffmpeg",
		"-i", inputPath,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg failed: %v\nOutput: %s", err, string(output))
	}

	return outputPath, nil
}
