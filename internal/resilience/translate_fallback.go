package resilience

import (
	"context"

	"github.com/lobahq/loba/pkg/provider/translate"
)

// TranslateFallback implements [translate.Translator] with automatic failover
// across multiple translation backends. The last registered fallback is
// typically a [translate.Passthrough], so a caption always gets emitted even
// when every real translator is down.
type TranslateFallback struct {
	group *FallbackGroup[translate.Translator]
}

// Compile-time interface assertion.
var _ translate.Translator = (*TranslateFallback)(nil)

// NewTranslateFallback creates a [TranslateFallback] with primary as the
// preferred backend.
func NewTranslateFallback(primary translate.Translator, primaryName string, cfg FallbackConfig) *TranslateFallback {
	return &TranslateFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional translator as a fallback.
func (f *TranslateFallback) AddFallback(name string, t translate.Translator) {
	f.group.AddFallback(name, t)
}

// Translate runs text through the first healthy backend.
func (f *TranslateFallback) Translate(ctx context.Context, text string) (translate.Result, error) {
	return ExecuteWithResult(f.group, func(t translate.Translator) (translate.Result, error) {
		return t.Translate(ctx, text)
	})
}

// Languages returns the primary's language pair; all entries are expected to
// share it (the passthrough tail reports the source language twice, which is
// exactly what its untranslated output carries).
func (f *TranslateFallback) Languages() (string, string) {
	return f.group.entries[0].value.Languages()
}
