package transcription

import (
	"testing"

	"github.com/voxpipe/realtime-transcription/internal/types"
)

// TestClassifyBuckets checks the keyword taxonomy mapping.
func TestClassifyBuckets(t *testing.T) {
	cases := []struct {
		msg  string
		want types.ErrorKind
	}{
		{"invalid audio format", types.ErrorKindNonRecoverable},
		{"chunk data is corrupt", types.ErrorKindNonRecoverable},
		{"Malformed container header", types.ErrorKindNonRecoverable},
		{"empty transcription result: engine returned no text", types.ErrorKindNonRecoverable},
		{"model not found: ggml-huge", types.ErrorKindConfig},
		{"invalid parameter: beam_size", types.ErrorKindConfig},
		{"cannot allocate 2GB buffer", types.ErrorKindResource},
		{"no space left on device", types.ErrorKindResource},
		{"exec: \"python3\": executable file not found in $PATH", types.ErrorKindResource},
		{"Missing dependency: whisper", types.ErrorKindResource},
		{"connection reset by peer", types.ErrorKindRecoverable},
		{"engine timed out", types.ErrorKindRecoverable},
		{"", types.ErrorKindRecoverable},
	}

	for _, tc := range cases {
		if got := Classify(tc.msg); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

// TestClassifyDeterministic verifies identical inputs map identically.
func TestClassifyDeterministic(t *testing.T) {
	msg := "No space left on device while writing model cache"
	first := Classify(msg)
	for i := 0; i < 10; i++ {
		if got := Classify(msg); got != first {
			t.Fatalf("Classify not deterministic: %s then %s", first, got)
		}
	}
}

// TestShouldRetry covers the retry eligibility matrix.
func TestShouldRetry(t *testing.T) {
	cases := []struct {
		name        string
		kind        types.ErrorKind
		retryCount  int
		maxRetries  int
		circuitOpen bool
		want        bool
	}{
		{"recoverable under limit", types.ErrorKindRecoverable, 0, 3, false, true},
		{"resource under limit", types.ErrorKindResource, 2, 3, false, true},
		{"retries exhausted", types.ErrorKindRecoverable, 3, 3, false, false},
		{"circuit open blocks retry", types.ErrorKindRecoverable, 0, 3, true, false},
		{"config never retries", types.ErrorKindConfig, 0, 3, false, false},
		{"non-recoverable never retries", types.ErrorKindNonRecoverable, 0, 3, false, false},
	}

	for _, tc := range cases {
		if got := ShouldRetry(tc.kind, tc.retryCount, tc.maxRetries, tc.circuitOpen); got != tc.want {
			t.Errorf("%s: ShouldRetry = %v, want %v", tc.name, got, tc.want)
		}
	}
}
