package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcriber": {"whisper-cli", "whisper-native"},
	"translator":  {"openai", "anyllm", "passthrough"},
	"vad":         {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Values not present in the file keep their [Default] settings.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	} else if cfg.Audio.SampleRate != 16000 {
		slog.Warn("whisper models are trained on 16 kHz audio; other rates degrade accuracy",
			"sample_rate", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio.channels %d is unsupported; only mono ingest is transcribed", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", cfg.Audio.FrameMs))
	}

	// Segmenter
	if cfg.Segmenter.EnergyThreshold <= 0 || cfg.Segmenter.EnergyThreshold >= 1 {
		errs = append(errs, fmt.Errorf("segmenter.energy_threshold %.4f is out of range (0, 1)", cfg.Segmenter.EnergyThreshold))
	}
	if cfg.Segmenter.SilenceThresholdMs <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.silence_threshold_ms %d must be positive", cfg.Segmenter.SilenceThresholdMs))
	}
	if cfg.Segmenter.MaxSegmentLengthS <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.max_segment_length_s %d must be positive", cfg.Segmenter.MaxSegmentLengthS))
	}
	if cfg.Segmenter.MinSpeechDurationMs < 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_speech_duration_ms %d must not be negative", cfg.Segmenter.MinSpeechDurationMs))
	}
	if ms := cfg.Segmenter.OverlapMs; ms < 0 || (ms > 0 && ms >= cfg.Segmenter.MaxSegmentLengthS*1000) {
		errs = append(errs, fmt.Errorf("segmenter.overlap_ms %d must be in [0, max_segment_length)", ms))
	}
	if cfg.Segmenter.Detector == "" {
		errs = append(errs, errors.New("segmenter.detector is required"))
	}
	validateProviderName("vad", cfg.Segmenter.Detector)

	// Transcriber
	errs = append(errs, validateTranscriberEntry("transcriber", cfg.Transcriber)...)
	if fb := cfg.Transcriber.Fallback; fb != nil {
		errs = append(errs, validateTranscriberEntry("transcriber.fallback", *fb)...)
		if fb.Fallback != nil {
			errs = append(errs, errors.New("transcriber.fallback.fallback: only one fallback level is supported"))
		}
	}

	// Translator
	validateProviderName("translator", cfg.Translator.Name)
	if cfg.Translator.Name != "" && cfg.Translator.Name != "passthrough" {
		if cfg.Translator.Model == "" {
			errs = append(errs, fmt.Errorf("translator.model is required for %q", cfg.Translator.Name))
		}
		if cfg.Translator.SourceLang == "" || cfg.Translator.TargetLang == "" {
			errs = append(errs, errors.New("translator.source_lang and translator.target_lang are required"))
		}
		if cfg.Translator.Name == "anyllm" && cfg.Translator.Provider == "" {
			errs = append(errs, errors.New("translator.provider is required for anyllm"))
		}
	}
	if cfg.Translator.Name == "" {
		slog.Warn("no translator configured; finals will carry source-language text")
	}

	// Hygiene
	if s := cfg.Hygiene.Similarity; s != 0 && (s <= 0 || s > 1) {
		errs = append(errs, fmt.Errorf("hygiene.similarity %.2f is out of range (0, 1]", s))
	}
	if cfg.Hygiene.MinWords < 1 {
		errs = append(errs, fmt.Errorf("hygiene.min_words %d must be at least 1", cfg.Hygiene.MinWords))
	}

	// Overlay
	if cfg.Overlay.SubtitleTTLMs <= 0 {
		errs = append(errs, fmt.Errorf("overlay.subtitle_ttl_ms %d must be positive", cfg.Overlay.SubtitleTTLMs))
	}
	if cfg.Overlay.MaxLines <= 0 {
		errs = append(errs, fmt.Errorf("overlay.max_lines %d must be positive", cfg.Overlay.MaxLines))
	}

	return errors.Join(errs...)
}

// validateTranscriberEntry checks one transcriber block. prefix names the
// YAML path in error messages so primary and fallback failures read apart.
func validateTranscriberEntry(prefix string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	validateProviderName("transcriber", e.Name)
	switch e.Name {
	case "whisper-cli":
		if e.BinaryPath == "" {
			errs = append(errs, fmt.Errorf("%s.binary_path is required for whisper-cli", prefix))
		}
		if e.ModelPath == "" {
			errs = append(errs, fmt.Errorf("%s.model_path is required for whisper-cli", prefix))
		}
	case "whisper-native":
		if e.ModelPath == "" {
			errs = append(errs, fmt.Errorf("%s.model_path is required for whisper-native", prefix))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
