package transcription

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/voxpipe/realtime-transcription/internal/types"
)

// WhisperEngine invokes a Python Whisper worker per chunk. The worker
// streams JSON messages over stdout, one per line:
//
//	{"type": "progress", "progress": 30, "message": "..."}
//	{"type": "result", "text": "...", "language": "en", "confidence": 0.91}
//	{"type": "error", "error": "..."}
type WhisperEngine struct {
	pythonCmd    string
	workerScript string
	log          *logrus.Entry
}

// NewWhisperEngine creates an engine adapter around the worker script.
func NewWhisperEngine(pythonCmd, workerScript string, log *logrus.Entry) *WhisperEngine {
	if pythonCmd == "" {
		pythonCmd = "python3"
	}
	return &WhisperEngine{
		pythonCmd:    pythonCmd,
		workerScript: workerScript,
		log:          log,
	}
}

// workerMessage is one JSON line emitted by the Whisper worker.
type workerMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Progress   int     `json:"progress"`
	Message    string  `json:"message"`
	Error      string  `json:"error"`
	Details    string  `json:"details"`
}

// Transcribe runs the worker against one audio file and parses its output.
func (we *WhisperEngine) Transcribe(ctx context.Context, audioPath string, params types.ModelParams) (*types.EngineResult, error) {
	args := []string{
		we.workerScript,
		"--audio-file", audioPath,
		"--model", params.Model,
	}
	if params.Language != "" {
		args = append(args, "--language", params.Language)
	}

	cmd := exec.CommandContext(ctx, we.pythonCmd, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to start whisper worker: %v", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start whisper worker: %v", err)
	}

	var result *types.EngineResult
	var workerErr error

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg workerMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			we.log.WithField("line", line).Debug("ignoring non-JSON worker output")
			continue
		}

		switch msg.Type {
		case "progress":
			we.log.WithFields(logrus.Fields{
				"progress": msg.Progress,
				"message":  msg.Message,
			}).Debug("whisper worker progress")
		case "result":
			result = &types.EngineResult{
				Text:       strings.TrimSpace(msg.Text),
				Language:   msg.Language,
				Confidence: msg.Confidence,
			}
		case "error":
			workerErr = fmt.Errorf("%s", msg.Error)
		}
	}

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if workerErr != nil {
		return nil, workerErr
	}
	if waitErr != nil {
		return nil, fmt.Errorf("whisper worker failed: %v: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	if result == nil {
		return nil, fmt.Errorf("empty transcription result: worker produced no result message")
	}
	return result, nil
}
