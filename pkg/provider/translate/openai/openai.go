// Package openai provides a translate.Translator backed by the OpenAI chat
// completions API. The model is instructed to act as a pure translation
// engine and to return nothing but the translated text.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/lobahq/loba/pkg/provider/translate"
)

const systemPromptFormat = "You are a translation engine. Translate the user's text from %s to %s. " +
	"Preserve the tone and register of spoken language. Reply with the translated text only, " +
	"no quotes, no explanations."

// Compile-time assertion that Translator implements translate.Translator.
var _ translate.Translator = (*Translator)(nil)

// config holds optional configuration for the translator.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Translator.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL (e.g. for an
// OpenAI-compatible local server).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout in addition to the caller's
// context deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Translator implements translate.Translator using the OpenAI API.
type Translator struct {
	client       oai.Client
	model        string
	sourceLang   string
	targetLang   string
	systemPrompt string
}

// New constructs a Translator for the fixed sourceLang→targetLang pair.
func New(apiKey, model, sourceLang, targetLang string, opts ...Option) (*Translator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}
	if sourceLang == "" || targetLang == "" {
		return nil, fmt.Errorf("openai: language pair must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Translator{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		sourceLang:   sourceLang,
		targetLang:   targetLang,
		systemPrompt: fmt.Sprintf(systemPromptFormat, languageName(sourceLang), languageName(targetLang)),
	}, nil
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

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(t.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(t.systemPrompt),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(0.0),
	}

	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return translate.Result{}, &translate.Error{Kind: translate.KindTimeout, Err: err}
		}
		return translate.Result{}, &translate.Error{Kind: translate.KindServiceUnavailable, Err: fmt.Errorf("openai: chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return translate.Result{}, &translate.Error{Kind: translate.KindServiceUnavailable, Err: errors.New("openai: empty choices in response")}
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translated == "" {
		return translate.Result{}, &translate.Error{Kind: translate.KindServiceUnavailable, Err: errors.New("openai: empty translation")}
	}

	return translate.Result{
		SourceText:     text,
		TranslatedText: translated,
		SourceLang:     t.sourceLang,
		TargetLang:     t.targetLang,
	}, nil
}

// languageName expands common ISO 639-1 codes so the prompt reads naturally;
// unknown codes are passed through unchanged.
func languageName(code string) string {
	switch strings.ToLower(code) {
	case "en":
		return "English"
	case "pt":
		return "Portuguese"
	case "es":
		return "Spanish"
	case "fr":
		return "French"
	case "de":
		return "German"
	case "it":
		return "Italian"
	case "ja":
		return "Japanese"
	default:
		return code
	}
}
