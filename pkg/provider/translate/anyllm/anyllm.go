// Package anyllm provides a translate.Translator backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider LLM interface.
// It is the way to run translation against a local model (Ollama, llama.cpp)
// or any hosted provider without a dedicated SDK per backend.
//
// Usage:
//
//	t, err := anyllm.New("ollama", "qwen2.5:3b", "en", "pt")
//	t, err := anyllm.New("gemini", "gemini-2.0-flash", "en", "pt",
//	    anyllmlib.WithAPIKey("..."))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/lobahq/loba/pkg/provider/translate"
)

const systemPromptFormat = "You are a translation engine. Translate the user's text from %s to %s. " +
	"Reply with the translated text only, no quotes, no explanations."

// Compile-time assertion that Translator implements translate.Translator.
var _ translate.Translator = (*Translator)(nil)

// Translator implements translate.Translator by wrapping any-llm-go.
type Translator struct {
	backend      anyllmlib.Provider
	model        string
	sourceLang   string
	targetLang   string
	systemPrompt string
}

// New creates a Translator backed by the named LLM provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". Without an API key
// option, the relevant environment variable is used (e.g. OPENAI_API_KEY).
func New(providerName, model, sourceLang, targetLang string, opts ...anyllmlib.Option) (*Translator, error) {
	if providerName == "" {
		return nil, errors.New("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	if sourceLang == "" || targetLang == "" {
		return nil, errors.New("anyllm: language pair must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Translator{
		backend:      backend,
		model:        model,
		sourceLang:   sourceLang,
		targetLang:   targetLang,
		systemPrompt: fmt.Sprintf(systemPromptFormat, sourceLang, targetLang),
	}, nil
}

// createBackend maps a provider name to its any-llm-go constructor.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Languages returns the fixed (source, target) pair.
func (t *Translator) Languages() (string, string) {
	return t.sourceLang, t.targetLang
}

// Translate implements translate.Translator.
func (t *Translator) Translate(ctx context.Context, text string) (translate.Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return translate.Result{}, &translate.Error{Kind: translate.KindEmptyInput}
	}

	temp := 0.0
	params := anyllmlib.CompletionParams{
		Model: t.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: t.systemPrompt},
			{Role: anyllmlib.RoleUser, Content: text},
		},
		Temperature: &temp,
	}

	resp, err := t.backend.Completion(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return translate.Result{}, &translate.Error{Kind: translate.KindTimeout, Err: err}
		}
		return translate.Result{}, &translate.Error{Kind: translate.KindServiceUnavailable, Err: fmt.Errorf("anyllm: completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return translate.Result{}, &translate.Error{Kind: translate.KindServiceUnavailable, Err: errors.New("anyllm: empty choices in response")}
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if translated == "" {
		return translate.Result{}, &translate.Error{Kind: translate.KindServiceUnavailable, Err: errors.New("anyllm: empty translation")}
	}

	return translate.Result{
		SourceText:     text,
		TranslatedText: translated,
		SourceLang:     t.sourceLang,
		TargetLang:     t.targetLang,
	}, nil
}
