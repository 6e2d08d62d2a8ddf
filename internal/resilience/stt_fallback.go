package resilience

import (
	"context"
	"errors"
	"io"

	"github.com/lobahq/loba/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple transcription backends. Each backend has its own circuit breaker;
// when the primary fails or its breaker is open, the next healthy fallback is
// tried.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe runs the segment against the first healthy backend.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (stt.Result, error) {
		return t.Transcribe(ctx, pcm, sampleRate)
	})
}

// Available reports whether any backend is available.
func (f *STTFallback) Available() bool {
	for i := range f.group.entries {
		if f.group.entries[i].value.Available() {
			return true
		}
	}
	return false
}

// Close releases backends holding native resources, such as a loaded
// whisper.cpp model.
func (f *STTFallback) Close() error {
	var errs []error
	for i := range f.group.entries {
		if c, ok := f.group.entries[i].value.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
