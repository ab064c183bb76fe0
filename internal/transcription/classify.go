package transcription

import (
	"strings"

	"github.com/voxpipe/realtime-transcription/internal/types"
)

// Keyword sets for error classification. Checked in order: corrupt input
// beats configuration beats resource; anything unmatched is treated as
// transient. The sets are disjoint so classification is deterministic.
var (
	nonRecoverableKeywords = []string{
		"invalid audio",
		"corrupt",
		"malformed",
		"unsupported format",
		"decode error",
		"empty transcription result",
	}
	configKeywords = []string{
		"model not found",
		"no such model",
		"unknown model",
		"invalid parameter",
		"bad parameter",
		"invalid language",
	}
	resourceKeywords = []string{
		"out of memory",
		"cannot allocate",
		"no space left",
		"disk full",
		"executable file not found",
		"failed to start",
		"missing dependency",
		"no such file or directory",
	}
)

// Classify maps an engine error message to its taxonomy bucket.
// Total and deterministic: identical inputs always yield the same kind.
func Classify(errMsg string) types.ErrorKind {
	msg := strings.ToLower(errMsg)

	for _, kw := range nonRecoverableKeywords {
		if strings.Contains(msg, kw) {
			return types.ErrorKindNonRecoverable
		}
	}
	for _, kw := range configKeywords {
		if strings.Contains(msg, kw) {
			return types.ErrorKindConfig
		}
	}
	for _, kw := range resourceKeywords {
		if strings.Contains(msg, kw) {
			return types.ErrorKindResource
		}
	}
	return types.ErrorKindRecoverable
}

// ShouldRetry decides whether a failed job is eligible for another attempt.
// Only recoverable and resource errors retry, and never past maxRetries or
// through an open circuit.
func ShouldRetry(kind types.ErrorKind, retryCount, maxRetries int, circuitOpen bool) bool {
	if circuitOpen {
		return false
	}
	if retryCount >= maxRetries {
		return false
	}
	return kind == types.ErrorKindRecoverable || kind == types.ErrorKindResource
}
