// Package translate defines the Translator interface for text translation
// backends and the Passthrough translator used as the graceful-degradation
// fallback.
//
// The language pair is fixed at construction time — it is configuration, not
// negotiated at runtime. Only final transcripts are ever translated; partial
// text bypasses this stage entirely.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies translation failures.
type ErrorKind string

const (
	// KindTimeout means the per-call deadline expired.
	KindTimeout ErrorKind = "timeout"

	// KindServiceUnavailable means the backend could not be reached or
	// returned an error response.
	KindServiceUnavailable ErrorKind = "service_unavailable"

	// KindEmptyInput means the submitted text was empty after trimming.
	KindEmptyInput ErrorKind = "empty_input"
)

// Error is a classified translation failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("translate: %s", e.Kind)
	}
	return fmt.Sprintf("translate: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err. Unclassified errors map to
// KindServiceUnavailable.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindServiceUnavailable
}

// Result is a completed translation.
type Result struct {
	SourceText     string
	TranslatedText string
	SourceLang     string
	TargetLang     string
}

// Translator converts text from its fixed source language to its fixed
// target language. Implementations must be safe for concurrent use.
type Translator interface {
	// Translate converts text. It respects ctx cancellation and deadline;
	// expiry is reported as an *Error with KindTimeout.
	Translate(ctx context.Context, text string) (Result, error)

	// Languages returns the fixed (source, target) ISO 639-1 pair.
	Languages() (source, target string)
}

// Passthrough returns text unchanged with the target language equal to the
// source language. It backs two configurations: translation disabled, and
// the last entry of the translator fallback chain, where an untranslated
// caption with a source-language tag is preferred over no caption at all.
type Passthrough struct {
	// Lang is the language tag applied to both sides. Defaults to "en"
	// when empty.
	Lang string
}

// Compile-time assertion that Passthrough implements Translator.
var _ Translator = (*Passthrough)(nil)

// Translate returns text unchanged.
func (p *Passthrough) Translate(_ context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, &Error{Kind: KindEmptyInput}
	}
	lang := p.lang()
	return Result{
		SourceText:     text,
		TranslatedText: text,
		SourceLang:     lang,
		TargetLang:     lang,
	}, nil
}

// Languages returns the configured language for both source and target.
func (p *Passthrough) Languages() (string, string) {
	lang := p.lang()
	return lang, lang
}

func (p *Passthrough) lang() string {
	if p.Lang == "" {
		return "en"
	}
	return p.Lang
}
