// Package whispernative provides an stt.Transcriber backed by the
// whisper.cpp CGO bindings, eliminating subprocess overhead entirely. The
// model is loaded once at startup and shared across invocations.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whispernative

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/lobahq/loba/pkg/audio"
	"github.com/lobahq/loba/pkg/provider/stt"
)

const defaultLanguage = "en"

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the transcription language code (e.g. "en"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// Transcriber implements stt.Transcriber using an in-process whisper.cpp
// model. Each Transcribe call creates its own whisper context, so the shared
// model may serve concurrent invocations.
type Transcriber struct {
	model    whisperlib.Model
	language string
}

// New loads the whisper.cpp model from modelPath. The caller must call Close
// when the transcriber is no longer needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whispernative: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispernative: load model %q: %w", modelPath, err)
	}
	t := &Transcriber{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model.
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Available reports whether the model is loaded.
func (t *Transcriber) Available() bool { return t.model != nil }

// Transcribe runs in-process inference on pcm. The bindings do not accept a
// context, so cancellation is checked before the call and deadline expiry is
// reported only when ctx was already done.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, _ int) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, &stt.Error{Kind: stt.KindTimeout, Err: err}
	}

	samples := audio.PCMToFloat32(pcm)

	// Each whisper context is single-use and not thread-safe; the model
	// itself may be shared.
	wctx, err := t.model.NewContext()
	if err != nil {
		return stt.Result{}, &stt.Error{Kind: stt.KindProcessFailure, Err: fmt.Errorf("create context: %w", err)}
	}

	if err := wctx.SetLanguage(t.language); err != nil {
		slog.Warn("whispernative: failed to set language, using default",
			"language", t.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, &stt.Error{Kind: stt.KindProcessFailure, Err: fmt.Errorf("process audio: %w", err)}
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, &stt.Error{Kind: stt.KindProcessFailure, Err: fmt.Errorf("read segment: %w", err)}
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	text := strings.Join(parts, " ")
	if text == "" {
		return stt.Result{}, &stt.Error{Kind: stt.KindEmptyOutput}
	}
	return stt.Result{Text: text, Language: t.language}, nil
}
