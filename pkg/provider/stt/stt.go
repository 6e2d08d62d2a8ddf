// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A transcriber turns one finalised audio segment into text as a bounded,
// cancellable unit of work. whisper.cpp is a batch engine, so the contract is
// deliberately one-shot: the orchestrator submits segments one at a time and
// the backend has no streaming state to manage.
//
// Implementations must be safe for concurrent use, although the pipeline
// itself never runs more than one invocation at a time.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies transcription failures so the orchestrator can count
// and log them distinctly. Failures are always absorbed — a missed caption is
// preferred over a broken one.
type ErrorKind string

const (
	// KindTimeout means the per-call deadline expired.
	KindTimeout ErrorKind = "timeout"

	// KindProcessFailure means the engine exited abnormally, could not be
	// started, or produced malformed output.
	KindProcessFailure ErrorKind = "process_failure"

	// KindEmptyOutput means the engine ran successfully but produced no text.
	KindEmptyOutput ErrorKind = "empty_output"
)

// Error is a classified transcription failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stt: %s", e.Kind)
	}
	return fmt.Sprintf("stt: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err. Unclassified errors map to
// KindProcessFailure.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindProcessFailure
}

// Result is a successful transcription of one audio segment.
type Result struct {
	// Text is the transcribed speech content, whitespace-trimmed.
	Text string

	// Language is the ISO 639-1 code the engine transcribed in.
	Language string
}

// Transcriber obtains a transcript for one finalised segment of 16-bit
// little-endian mono PCM audio.
type Transcriber interface {
	// Transcribe runs the engine on pcm at the given sample rate. The call
	// respects ctx cancellation and deadline; expiry is reported as an
	// *Error with KindTimeout.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Result, error)

	// Available reports whether the backend's prerequisites (binary, model
	// file) are present. Used by the readiness probe.
	Available() bool
}
