package energy

import (
	"math"
	"testing"

	"github.com/lobahq/loba/pkg/audio"
	"github.com/lobahq/loba/pkg/provider/vad"
)

func loudFrame() []byte {
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = int16(0.5 * 32767.0 * math.Sin(2*math.Pi*float64(i)/32.0))
	}
	return audio.Int16sToPCM(samples)
}

func quietFrame() []byte {
	return make([]byte, 320)
}

func TestSpeechStart_RequiresConsecutiveVoicedFrames(t *testing.T) {
	d := New(WithStartFrames(3))

	if ev := d.ProcessFrame(loudFrame()); ev.Type != vad.Silence {
		t.Errorf("frame 1: type = %v, want silence", ev.Type)
	}
	if ev := d.ProcessFrame(loudFrame()); ev.Type != vad.Silence {
		t.Errorf("frame 2: type = %v, want silence", ev.Type)
	}
	if ev := d.ProcessFrame(loudFrame()); ev.Type != vad.SpeechStart {
		t.Errorf("frame 3: type = %v, want speech-start", ev.Type)
	}
	if ev := d.ProcessFrame(loudFrame()); ev.Type != vad.SpeechContinue {
		t.Errorf("frame 4: type = %v, want speech-continue", ev.Type)
	}
}

func TestQuietFrameBreaksStartRun(t *testing.T) {
	d := New(WithStartFrames(2))

	d.ProcessFrame(loudFrame())
	if ev := d.ProcessFrame(quietFrame()); ev.Type != vad.Silence {
		t.Errorf("quiet frame: type = %v, want silence", ev.Type)
	}
	// The run counter restarts: one loud frame is not enough again.
	if ev := d.ProcessFrame(loudFrame()); ev.Type != vad.Silence {
		t.Errorf("after broken run: type = %v, want silence", ev.Type)
	}
	if ev := d.ProcessFrame(loudFrame()); ev.Type != vad.SpeechStart {
		t.Errorf("second consecutive loud frame: type = %v, want speech-start", ev.Type)
	}
}

func TestSpeechPause_WhileSpeaking(t *testing.T) {
	d := New(WithStartFrames(1))

	if ev := d.ProcessFrame(loudFrame()); ev.Type != vad.SpeechStart {
		t.Fatalf("type = %v, want speech-start", ev.Type)
	}
	if ev := d.ProcessFrame(quietFrame()); ev.Type != vad.SpeechPause {
		t.Errorf("type = %v, want speech-pause", ev.Type)
	}
	// Speech resumes within the same utterance.
	if ev := d.ProcessFrame(loudFrame()); ev.Type != vad.SpeechContinue {
		t.Errorf("type = %v, want speech-continue", ev.Type)
	}
}

func TestReset_ClearsSpeakingState(t *testing.T) {
	d := New(WithStartFrames(1))

	d.ProcessFrame(loudFrame())
	d.Reset()

	if ev := d.ProcessFrame(quietFrame()); ev.Type != vad.Silence {
		t.Errorf("after reset: type = %v, want silence", ev.Type)
	}
	if ev := d.ProcessFrame(loudFrame()); ev.Type != vad.SpeechStart {
		t.Errorf("after reset: type = %v, want speech-start", ev.Type)
	}
}

func TestEnergyReported(t *testing.T) {
	d := New()
	ev := d.ProcessFrame(loudFrame())
	if ev.Energy <= 0 || ev.Energy > 1 {
		t.Errorf("energy = %f, want in (0, 1]", ev.Energy)
	}
}
