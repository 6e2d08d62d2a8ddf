// Package whispercli provides an stt.Transcriber backed by the whisper.cpp
// command-line binary (whisper-cli).
//
// Each invocation writes the segment to a temporary WAV file, runs the binary
// with JSON output enabled, and parses the resulting transcript file. When
// the JSON file is missing (older builds print to stdout only), the plain
// text output is parsed instead, stripping any timestamp prefixes.
//
// Usage:
//
//	t, err := whispercli.New("bin/whisper-cli", "models/ggml-small.en-q5_1.bin",
//	    whispercli.WithLanguage("en"),
//	    whispercli.WithThreads(4),
//	)
//	res, err := t.Transcribe(ctx, pcm, 16000)
package whispercli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lobahq/loba/pkg/audio"
	"github.com/lobahq/loba/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultThreads  = 4
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the language hint passed via -l (e.g. "en"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithThreads sets the thread count passed via -t. Defaults to 4.
func WithThreads(n int) Option {
	return func(t *Transcriber) { t.threads = n }
}

// Transcriber invokes the whisper-cli binary once per segment. It is
// stateless between calls and safe for concurrent use.
type Transcriber struct {
	binaryPath string
	modelPath  string
	language   string
	threads    int
}

// New creates a Transcriber for the given binary and model paths. Both must
// be non-empty; their existence is only checked by Available and at
// invocation time so the process can start before models are downloaded.
func New(binaryPath, modelPath string, opts ...Option) (*Transcriber, error) {
	if binaryPath == "" {
		return nil, errors.New("whispercli: binaryPath must not be empty")
	}
	if modelPath == "" {
		return nil, errors.New("whispercli: modelPath must not be empty")
	}
	t := &Transcriber{
		binaryPath: binaryPath,
		modelPath:  modelPath,
		language:   defaultLanguage,
		threads:    defaultThreads,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Available reports whether both the binary and the model file exist.
func (t *Transcriber) Available() bool {
	if _, err := os.Stat(t.binaryPath); err != nil {
		return false
	}
	if _, err := os.Stat(t.modelPath); err != nil {
		return false
	}
	return true
}

// Transcribe writes pcm to a temporary WAV file and runs whisper-cli on it.
// Deadline expiry maps to KindTimeout, abnormal exit or a missing binary to
// KindProcessFailure, and a successful run with no text to KindEmptyOutput.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error) {
	tmpDir, err := os.MkdirTemp("", "whisper-seg-*")
	if err != nil {
		return stt.Result{}, &stt.Error{Kind: stt.KindProcessFailure, Err: fmt.Errorf("create temp dir: %w", err)}
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "audio.wav")
	outputBase := filepath.Join(tmpDir, "audio")

	wav := audio.EncodeWAV(pcm, sampleRate, 1)
	if err := os.WriteFile(wavPath, wav, 0o600); err != nil {
		return stt.Result{}, &stt.Error{Kind: stt.KindProcessFailure, Err: fmt.Errorf("write wav: %w", err)}
	}

	cmd := exec.CommandContext(ctx, t.binaryPath,
		"-m", t.modelPath,
		"-l", t.language,
		"-t", fmt.Sprintf("%d", t.threads),
		"-f", wavPath,
		"-of", outputBase, // output file base; whisper-cli appends .json
		"-oj", // JSON transcript output
		"-np", // no prints (quiet mode)
		"-sns", // suppress non-speech tokens (brackets, musical notes)
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return stt.Result{}, &stt.Error{Kind: stt.KindTimeout, Err: ctx.Err()}
		}
		return stt.Result{}, &stt.Error{
			Kind: stt.KindProcessFailure,
			Err:  fmt.Errorf("whisper-cli: %w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}

	text, err := t.readTranscript(outputBase+".json", stdout.String())
	if err != nil {
		return stt.Result{}, err
	}
	return stt.Result{Text: text, Language: t.language}, nil
}

// readTranscript prefers the JSON output file and falls back to parsing the
// binary's stdout. Returns KindEmptyOutput when neither yields text.
func (t *Transcriber) readTranscript(jsonPath, stdout string) (string, error) {
	if data, err := os.ReadFile(jsonPath); err == nil {
		text, err := ParseJSONTranscript(data)
		if err != nil {
			return "", &stt.Error{Kind: stt.KindProcessFailure, Err: err}
		}
		if text != "" {
			return text, nil
		}
		return "", &stt.Error{Kind: stt.KindEmptyOutput}
	}

	if text := ParseTextTranscript(stdout); text != "" {
		return text, nil
	}
	return "", &stt.Error{Kind: stt.KindEmptyOutput}
}

// ParseJSONTranscript extracts the full transcript text from whisper-cli
// JSON output. The format carries a "transcription" array of segments, each
// with a "text" field.
func ParseJSONTranscript(data []byte) (string, error) {
	var out struct {
		Transcription []struct {
			Text string `json:"text"`
		} `json:"transcription"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("whispercli: parse json output: %w", err)
	}

	parts := make([]string, 0, len(out.Transcription))
	for _, seg := range out.Transcription {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// ParseTextTranscript extracts transcript text from whisper-cli plain
// stdout, stripping "[00:00:00.000 --> 00:00:02.000]" timestamp prefixes.
func ParseTextTranscript(output string) string {
	var parts []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") {
			if idx := strings.Index(line, "]"); idx >= 0 {
				line = strings.TrimSpace(line[idx+1:])
			}
		}
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
