package whispercli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lobahq/loba/pkg/provider/stt"
)

func TestNew_RequiresPaths(t *testing.T) {
	if _, err := New("", "model.bin"); err == nil {
		t.Error("expected error for empty binary path")
	}
	if _, err := New("whisper-cli", ""); err == nil {
		t.Error("expected error for empty model path")
	}
}

func TestParseJSONTranscript(t *testing.T) {
	data := []byte(`{
		"transcription": [
			{"text": " Hello there. "},
			{"text": "How are you?"},
			{"text": "   "}
		]
	}`)

	text, err := ParseJSONTranscript(data)
	if err != nil {
		t.Fatalf("ParseJSONTranscript: %v", err)
	}
	if text != "Hello there. How are you?" {
		t.Errorf("text = %q, want %q", text, "Hello there. How are you?")
	}
}

func TestParseJSONTranscript_Empty(t *testing.T) {
	text, err := ParseJSONTranscript([]byte(`{"transcription": []}`))
	if err != nil {
		t.Fatalf("ParseJSONTranscript: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestParseJSONTranscript_Malformed(t *testing.T) {
	if _, err := ParseJSONTranscript([]byte(`{"transcription"`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestParseTextTranscript_StripsTimestamps(t *testing.T) {
	output := "[00:00:00.000 --> 00:00:02.000]  Hello there.\n" +
		"[00:00:02.000 --> 00:00:04.000]  How are you?\n\n"

	text := ParseTextTranscript(output)
	if text != "Hello there. How are you?" {
		t.Errorf("text = %q, want %q", text, "Hello there. How are you?")
	}
}

func TestParseTextTranscript_PlainLines(t *testing.T) {
	if text := ParseTextTranscript("  just text \n"); text != "just text" {
		t.Errorf("text = %q, want %q", text, "just text")
	}
}

func TestAvailable_MissingFiles(t *testing.T) {
	tr, err := New("/nonexistent/whisper-cli", "/nonexistent/model.bin")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.Available() {
		t.Error("Available() = true for missing binary and model")
	}
}

func TestTranscribe_MissingBinaryIsProcessFailure(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.bin")
	if err := os.WriteFile(model, []byte("stub"), 0o600); err != nil {
		t.Fatal(err)
	}

	tr, err := New(filepath.Join(dir, "no-such-binary"), model)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = tr.Transcribe(ctx, make([]byte, 3200), 16000)
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	var se *stt.Error
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *stt.Error", err)
	}
	if se.Kind != stt.KindProcessFailure {
		t.Errorf("kind = %q, want %q", se.Kind, stt.KindProcessFailure)
	}
}
