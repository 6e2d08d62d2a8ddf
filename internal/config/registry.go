package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lobahq/loba/pkg/provider/stt"
	"github.com/lobahq/loba/pkg/provider/translate"
	"github.com/lobahq/loba/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[string]func(ProviderEntry) (stt.Transcriber, error)
	translator  map[string]func(TranslatorConfig) (translate.Translator, error)
	vad         map[string]func(SegmenterConfig) (vad.Detector, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		translator:  make(map[string]func(TranslatorConfig) (translate.Translator, error)),
		vad:         make(map[string]func(SegmenterConfig) (vad.Detector, error)),
	}
}

// RegisterTranscriber registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterTranslator registers a translator factory under name.
func (r *Registry) RegisterTranslator(name string, factory func(TranslatorConfig) (translate.Translator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translator[name] = factory
}

// RegisterVAD registers a voice activity detector factory under name.
func (r *Registry) RegisterVAD(name string, factory func(SegmenterConfig) (vad.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateTranscriber instantiates a transcriber using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranslator instantiates a translator using the factory registered
// under cfg.Name.
func (r *Registry) CreateTranslator(cfg TranslatorConfig) (translate.Translator, error) {
	r.mu.RLock()
	factory, ok := r.translator[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translator/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateVAD instantiates a voice activity detector using the factory
// registered under name.
func (r *Registry) CreateVAD(name string, cfg SegmenterConfig) (vad.Detector, error) {
	r.mu.RLock()
	factory, ok := r.vad[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}
