// Package config provides the configuration schema, loader, and provider
// registry for the Loba live-subtitle server.
package config

import (
	"time"

	"github.com/lobahq/loba/internal/segment"
)

// LogLevel controls log verbosity for the Loba server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Loba.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Audio       AudioConfig      `yaml:"audio"`
	Segmenter   SegmenterConfig  `yaml:"segmenter"`
	Transcriber ProviderEntry    `yaml:"transcriber"`
	Translator  TranslatorConfig `yaml:"translator"`
	Hygiene     HygieneConfig    `yaml:"hygiene"`
	Overlay     OverlayConfig    `yaml:"overlay"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
}

// ServerConfig holds network and logging settings for the Loba server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. The default
	// binds loopback only: overlay and control pages are meant for the
	// machine running the capture.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// SubscriberQueue is the per-subscriber event queue depth.
	SubscriberQueue int `yaml:"subscriber_queue"`

	// SegmentQueue is the segmenter→pipeline queue depth.
	SegmentQueue int `yaml:"segment_queue"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig describes the PCM stream arriving at /ingest.
type AudioConfig struct {
	// SampleRate in Hz. Whisper models expect 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the incoming PCM. Only mono is transcribed.
	Channels int `yaml:"channels"`

	// FrameMs is the expected duration of one ingest frame.
	FrameMs int `yaml:"frame_ms"`

	// Microphone labels the default audio source in emitted events.
	Microphone string `yaml:"microphone"`
}

// SegmenterConfig bounds speech segment formation.
type SegmenterConfig struct {
	// Detector selects the registered voice activity detector.
	Detector string `yaml:"detector"`

	// EnergyThreshold is the normalised RMS level treated as voice.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// StartFrames is how many consecutive voiced frames open a segment.
	StartFrames int `yaml:"start_frames"`

	// SilenceThresholdMs closes a segment after this much trailing silence.
	SilenceThresholdMs int `yaml:"silence_threshold_ms"`

	// MaxSegmentLengthS hard-caps segment duration.
	MaxSegmentLengthS int `yaml:"max_segment_length_s"`

	// MinSpeechDurationMs discards shorter segments as noise.
	MinSpeechDurationMs int `yaml:"min_speech_duration_ms"`

	// OverlapMs carries trailing audio across a max-length split. 0 disables.
	OverlapMs int `yaml:"overlap_ms"`
}

// ProviderEntry is the common configuration block shared by pluggable
// providers. The Name field selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "whisper-cli").
	Name string `yaml:"name"`

	// BinaryPath locates a subprocess backend's executable.
	BinaryPath string `yaml:"binary_path"`

	// ModelPath locates the model weights.
	ModelPath string `yaml:"model_path"`

	// Language is the expected speech language (ISO 639-1).
	Language string `yaml:"language"`

	// Threads limits CPU threads for local inference. 0 means the
	// backend's default.
	Threads int `yaml:"threads"`

	// TimeoutS caps one call to the provider.
	TimeoutS int `yaml:"timeout_s"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`

	// Fallback names a second backend tried when this one fails or its
	// circuit breaker is open. One level only.
	Fallback *ProviderEntry `yaml:"fallback"`
}

// TranslatorConfig selects and configures the translation stage. An empty
// Name disables translation; finals then carry the source-language text.
type TranslatorConfig struct {
	// Name selects the registered translator (e.g. "openai", "anyllm").
	Name string `yaml:"name"`

	// Provider selects the LLM backend for the "anyllm" translator
	// (e.g. "ollama", "gemini"). Ignored by other translators.
	Provider string `yaml:"provider"`

	// APIKey authenticates against hosted backends.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// SourceLang and TargetLang fix the translation pair.
	SourceLang string `yaml:"source_lang"`
	TargetLang string `yaml:"target_lang"`

	// TimeoutS caps one translation call.
	TimeoutS int `yaml:"timeout_s"`
}

// HygieneConfig tunes transcript cleanup.
type HygieneConfig struct {
	// Fillers overrides the built-in hallucination phrase list.
	Fillers []string `yaml:"fillers"`

	// Similarity is the fuzzy-match threshold in (0, 1].
	Similarity float64 `yaml:"similarity"`

	// MinWords holds shorter transcripts for merging. 1 disables.
	MinWords int `yaml:"min_words"`

	// MaxHoldMs releases a held fragment on its own after this long.
	MaxHoldMs int `yaml:"max_hold_ms"`
}

// OverlayConfig is served to overlay clients via /config.
type OverlayConfig struct {
	// SubtitleTTLMs is how long a committed line stays visible.
	SubtitleTTLMs int `yaml:"subtitle_ttl_ms"`

	// MaxLines is the number of caption lines shown at once.
	MaxLines int `yaml:"max_lines"`
}

// PipelineConfig tunes event emission.
type PipelineConfig struct {
	// EmitPartials broadcasts the source-language transcript before the
	// translated final.
	EmitPartials bool `yaml:"emit_partials"`

	// StartEnabled is the subtitle mode at startup.
	StartEnabled *bool `yaml:"start_enabled"`
}

// Default returns a Config with the stock single-machine setup: loopback
// server, 16 kHz mono audio in 100 ms frames, and the overlay timings the
// bundled pages assume.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8765",
			LogLevel:        LogInfo,
			SubscriberQueue: 32,
			SegmentQueue:    8,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			FrameMs:    100,
			Microphone: "default",
		},
		Segmenter: SegmenterConfig{
			Detector:            "energy",
			EnergyThreshold:     0.01,
			StartFrames:         2,
			SilenceThresholdMs:  300,
			MaxSegmentLengthS:   12,
			MinSpeechDurationMs: 200,
		},
		Transcriber: ProviderEntry{
			Name:     "whisper-cli",
			Language: "en",
			Threads:  4,
			TimeoutS: 30,
		},
		Translator: TranslatorConfig{
			SourceLang: "en",
			TargetLang: "pt",
			TimeoutS:   10,
		},
		Hygiene: HygieneConfig{
			MinWords:  1,
			MaxHoldMs: 2000,
		},
		Overlay: OverlayConfig{
			SubtitleTTLMs: 4500,
			MaxLines:      2,
		},
		Pipeline: PipelineConfig{
			EmitPartials: true,
		},
	}
}

// Timeout returns the per-call provider timeout as a duration.
func (p ProviderEntry) Timeout() time.Duration {
	return time.Duration(p.TimeoutS) * time.Second
}

// Timeout returns the per-call translation timeout as a duration.
func (t TranslatorConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutS) * time.Second
}

// MaxHold returns the merger hold limit as a duration.
func (h HygieneConfig) MaxHold() time.Duration {
	return time.Duration(h.MaxHoldMs) * time.Millisecond
}

// SegmentConfig converts the YAML fields into segmenter bounds. StartFrames
// doubles as the pre-roll depth: the frames a detector watches before
// declaring speech are exactly the ones the segment must not lose.
func (s SegmenterConfig) SegmentConfig() segment.Config {
	return segment.Config{
		SilenceThreshold:  time.Duration(s.SilenceThresholdMs) * time.Millisecond,
		MaxSegmentLength:  time.Duration(s.MaxSegmentLengthS) * time.Second,
		MinSpeechDuration: time.Duration(s.MinSpeechDurationMs) * time.Millisecond,
		Overlap:           time.Duration(s.OverlapMs) * time.Millisecond,
		PreRollFrames:     s.StartFrames,
	}
}

// StartEnabledOrDefault returns the configured startup mode, defaulting to
// enabled.
func (p PipelineConfig) StartEnabledOrDefault() bool {
	if p.StartEnabled == nil {
		return true
	}
	return *p.StartEnabled
}

// SubtitleTTL returns the overlay TTL as a duration.
func (o OverlayConfig) SubtitleTTL() time.Duration {
	return time.Duration(o.SubtitleTTLMs) * time.Millisecond
}
