// Package speechtotext defines the transcription contracts used by the
// voice pipeline: a duplex stream fed while the user speaks and a one-shot
// batch request used as fallback.
package speechtotext

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNoResult  = errors.New("speechtotext: stream ended without a result")
	ErrNotReady  = errors.New("speechtotext: stream is not ready")
	ErrClosed    = errors.New("speechtotext: stream closed")
	ErrNoBaseURL = errors.New("speechtotext: base URL is not configured")
)

type Result struct {
	Text string
	Raw  map[string]any
}

// Stream is one streaming transcription session. It becomes usable once
// Ready is closed; Done is closed when the stream failed or ended, after
// which Err reports why.
type Stream interface {
	Ready() <-chan struct{}
	Done() <-chan struct{}
	Err() error

	SendAudio(audio []byte) error
	// Finish signals end of audio and waits for the final result.
	Finish(ctx context.Context) (Result, error)
	Close() error
}

type StreamingTranscriber interface {
	OpenStream(ctx context.Context, opts ...TranscriptionOption) (Stream, error)
}

type BatchTranscriber interface {
	Transcribe(ctx context.Context, wav []byte, opts ...TranscriptionOption) (Result, error)
}

// ExtractTranscript reads the transcript from either payload.text or
// payload.data.text.
func ExtractTranscript(payload map[string]any) string {
	if text, ok := payload["text"].(string); ok {
		return strings.TrimSpace(text)
	}
	if data, ok := payload["data"].(map[string]any); ok {
		if text, ok := data["text"].(string); ok {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

// NewResult wraps a raw engine payload.
func NewResult(payload map[string]any) Result {
	return Result{Text: ExtractTranscript(payload), Raw: payload}
}
