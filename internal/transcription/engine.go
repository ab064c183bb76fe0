package transcription

import (
	"context"

	"github.com/voxpipe/realtime-transcription/internal/types"
)

// Engine is the external speech-to-text collaborator. The core treats it as
// an opaque, slow, unreliable call: invocations may block for seconds to
// minutes and fail with engine-specific error strings.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, params types.ModelParams) (*types.EngineResult, error)
}
