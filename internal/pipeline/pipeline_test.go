package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lobahq/loba/internal/hygiene"
	"github.com/lobahq/loba/internal/mode"
	"github.com/lobahq/loba/internal/segment"
	"github.com/lobahq/loba/pkg/provider/stt"
	"github.com/lobahq/loba/pkg/provider/translate"
	"github.com/lobahq/loba/pkg/subtitle"
)

type captureSink struct {
	mu     sync.Mutex
	events []subtitle.Event
}

func (s *captureSink) Broadcast(ev subtitle.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) snapshot() []subtitle.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]subtitle.Event(nil), s.events...)
}

type fakeSTT struct {
	mu    sync.Mutex
	text  string
	err   error
	block chan struct{} // when non-nil, Transcribe waits for it to close
}

func (f *fakeSTT) setText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
}

func (f *fakeSTT) Transcribe(ctx context.Context, _ []byte, _ int) (stt.Result, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return stt.Result{}, &stt.Error{Kind: stt.KindTimeout, Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return stt.Result{}, f.err
	}
	return stt.Result{Text: f.text, Language: "en"}, nil
}

func (f *fakeSTT) Available() bool { return true }

type fakeTranslator struct {
	err error
}

func (f *fakeTranslator) Translate(_ context.Context, text string) (translate.Result, error) {
	if f.err != nil {
		return translate.Result{}, f.err
	}
	return translate.Result{
		SourceText:     text,
		TranslatedText: "[pt] " + text,
		SourceLang:     "en",
		TargetLang:     "pt",
	}, nil
}

func (f *fakeTranslator) Languages() (string, string) { return "en", "pt" }

type harness struct {
	orch   *Orchestrator
	sink   *captureSink
	modes  *mode.Controller
	segs   chan segment.Segment
	cancel context.CancelFunc
	done   chan struct{}
}

func newHarness(t *testing.T, p Params) *harness {
	t.Helper()
	sink := &captureSink{}
	modes := mode.New(true, nil)
	p.Sink = sink
	p.Mode = modes

	orch := New(p)
	modes.OnTransition(func(enabled bool) {
		if !enabled {
			orch.EmitClear()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	segs := make(chan segment.Segment, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = orch.Run(ctx, segs)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{orch: orch, sink: sink, modes: modes, segs: segs, cancel: cancel, done: done}
}

func speechSegment(id uint64) segment.Segment {
	return segment.Segment{
		ID:         id,
		PCM:        make([]byte, 3200),
		SampleRate: 16000,
		Channels:   1,
		Reason:     segment.ReasonSilence,
		Microphone: "desk",
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRun_PartialThenTranslatedFinal(t *testing.T) {
	h := newHarness(t, Params{
		Transcriber: &fakeSTT{text: "hello everyone"},
		Translator:  &fakeTranslator{},
		Config:      Config{EmitPartials: true},
	})

	h.segs <- speechSegment(1)
	waitFor(t, "two events", func() bool { return len(h.sink.snapshot()) == 2 })

	evs := h.sink.snapshot()
	if evs[0].Type != subtitle.TypePartial || evs[0].Language != "en" || evs[0].Text != "hello everyone" {
		t.Errorf("event[0] = %+v, want en partial of source text", evs[0])
	}
	if evs[1].Type != subtitle.TypeFinal || evs[1].Language != "pt" || evs[1].Text != "[pt] hello everyone" {
		t.Errorf("event[1] = %+v, want pt final", evs[1])
	}
	if evs[1].Microphone != "desk" {
		t.Errorf("final microphone = %q, want %q", evs[1].Microphone, "desk")
	}
}

func TestRun_DisableMidFlightEmitsOnlyClear(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, Params{
		Transcriber: &fakeSTT{text: "in flight speech", block: block},
		Translator:  &fakeTranslator{},
		Config:      Config{EmitPartials: true},
	})

	h.segs <- speechSegment(1)
	time.Sleep(50 * time.Millisecond) // let the worker enter Transcribe

	// Toggle runs EmitClear synchronously before returning.
	h.modes.Toggle()
	close(block)

	// Give the worker time to finish; its result must be suppressed.
	time.Sleep(100 * time.Millisecond)
	evs := h.sink.snapshot()
	if len(evs) != 1 {
		t.Fatalf("events = %d (%+v), want exactly the clear", len(evs), evs)
	}
	if evs[0].Type != subtitle.TypeClear {
		t.Errorf("event type = %q, want clear", evs[0].Type)
	}
}

func TestRun_ReenableDuringFlightStillSuppresses(t *testing.T) {
	block := make(chan struct{})
	st := &fakeSTT{text: "pre-fence speech", block: block}
	h := newHarness(t, Params{
		Transcriber: st,
		Translator:  &fakeTranslator{},
	})

	h.segs <- speechSegment(1)
	time.Sleep(50 * time.Millisecond) // let the worker enter Transcribe

	// Disable and re-enable before the transcription returns. The result
	// started behind the clear fence, so the quick re-enable must not let
	// it through.
	h.modes.Toggle() // off, clear broadcast
	h.modes.Toggle() // on again
	close(block)

	time.Sleep(100 * time.Millisecond)
	evs := h.sink.snapshot()
	if len(evs) != 1 || evs[0].Type != subtitle.TypeClear {
		t.Fatalf("events = %+v, want only the disable clear", evs)
	}

	// Speech arriving after the re-enable is captioned normally.
	st.setText("fresh speech")
	h.segs <- speechSegment(2)
	waitFor(t, "post-reenable final", func() bool { return len(h.sink.snapshot()) == 2 })
	if ev := h.sink.snapshot()[1]; ev.Type != subtitle.TypeFinal || ev.Text != "[pt] fresh speech" {
		t.Errorf("event = %+v, want the post-reenable final", ev)
	}
}

func TestRun_SegmentsWhileDisabledProduceNothing(t *testing.T) {
	h := newHarness(t, Params{
		Transcriber: &fakeSTT{text: "should never appear"},
		Translator:  &fakeTranslator{},
	})

	h.modes.Toggle() // off; broadcasts one clear
	for i := uint64(1); i <= 3; i++ {
		h.segs <- speechSegment(i)
	}
	time.Sleep(100 * time.Millisecond)

	evs := h.sink.snapshot()
	if len(evs) != 1 || evs[0].Type != subtitle.TypeClear {
		t.Fatalf("events = %+v, want only the disable clear", evs)
	}
}

func TestRun_ReenableResumesCleanly(t *testing.T) {
	h := newHarness(t, Params{
		Transcriber: &fakeSTT{text: "back on air"},
		Translator:  &fakeTranslator{},
	})

	h.modes.Toggle() // off
	h.modes.Toggle() // on again; re-enable must not emit another clear
	h.segs <- speechSegment(1)

	waitFor(t, "final after re-enable", func() bool {
		evs := h.sink.snapshot()
		return len(evs) == 2 && evs[1].Type == subtitle.TypeFinal
	})

	evs := h.sink.snapshot()
	if evs[0].Type != subtitle.TypeClear {
		t.Errorf("event[0] = %q, want the disable clear", evs[0].Type)
	}
	if evs[1].Text != "[pt] back on air" {
		t.Errorf("final text = %q", evs[1].Text)
	}
}

func TestRun_TranslatorFailureFallsBackToSourceText(t *testing.T) {
	h := newHarness(t, Params{
		Transcriber: &fakeSTT{text: "the network is down"},
		Translator:  &fakeTranslator{err: &translate.Error{Kind: translate.KindTimeout}},
	})

	h.segs <- speechSegment(1)
	waitFor(t, "fallback final", func() bool { return len(h.sink.snapshot()) == 1 })

	ev := h.sink.snapshot()[0]
	if ev.Type != subtitle.TypeFinal {
		t.Fatalf("event type = %q, want final", ev.Type)
	}
	if ev.Text != "the network is down" || ev.Language != "en" {
		t.Errorf("event = %+v, want untranslated en text", ev)
	}
}

func TestRun_NoTranslatorEmitsSourceFinalOnly(t *testing.T) {
	h := newHarness(t, Params{
		Transcriber: &fakeSTT{text: "plain captions"},
		Config:      Config{EmitPartials: true},
	})

	h.segs <- speechSegment(1)
	waitFor(t, "final", func() bool { return len(h.sink.snapshot()) == 1 })

	ev := h.sink.snapshot()[0]
	if ev.Type != subtitle.TypeFinal || ev.Language != "en" || ev.Text != "plain captions" {
		t.Errorf("event = %+v, want en final without a preceding partial", ev)
	}
}

func TestRun_FillerTranscriptDropped(t *testing.T) {
	h := newHarness(t, Params{
		Transcriber: &fakeSTT{text: "Thank you."},
		Translator:  &fakeTranslator{},
	})

	h.segs <- speechSegment(1)
	time.Sleep(100 * time.Millisecond)

	if evs := h.sink.snapshot(); len(evs) != 0 {
		t.Errorf("events = %+v, want none for a filler transcript", evs)
	}
}

func TestRun_EmptyTranscriptIsSilent(t *testing.T) {
	h := newHarness(t, Params{
		Transcriber: &fakeSTT{err: &stt.Error{Kind: stt.KindEmptyOutput}},
		Translator:  &fakeTranslator{},
	})

	h.segs <- speechSegment(1)
	time.Sleep(100 * time.Millisecond)

	if evs := h.sink.snapshot(); len(evs) != 0 {
		t.Errorf("events = %+v, want none for empty transcription", evs)
	}
}

func TestRun_ModeDisabledFlushSegmentDiscarded(t *testing.T) {
	h := newHarness(t, Params{
		Transcriber: &fakeSTT{text: "fenced audio"},
		Translator:  &fakeTranslator{},
	})

	seg := speechSegment(1)
	seg.Reason = segment.ReasonModeDisabled
	h.segs <- seg
	time.Sleep(100 * time.Millisecond)

	if evs := h.sink.snapshot(); len(evs) != 0 {
		t.Errorf("events = %+v, want none for a mode-disabled flush segment", evs)
	}
}

func TestRun_ShortFragmentMergesWithNext(t *testing.T) {
	stt1 := &fakeSTT{text: "So"}
	h := newHarness(t, Params{
		Transcriber: stt1,
		Translator:  &fakeTranslator{},
		Merger:      hygiene.NewMerger(3, time.Minute),
	})

	h.segs <- speechSegment(1)
	time.Sleep(50 * time.Millisecond)
	if evs := h.sink.snapshot(); len(evs) != 0 {
		t.Fatalf("events = %+v, want fragment held", evs)
	}

	stt1.setText("let's begin the demo")
	h.segs <- speechSegment(2)
	waitFor(t, "merged final", func() bool { return len(h.sink.snapshot()) == 1 })

	ev := h.sink.snapshot()[0]
	if !strings.Contains(ev.Text, "So let's begin the demo") {
		t.Errorf("final text = %q, want merged fragment", ev.Text)
	}
}

func TestRun_HeldFragmentFlushedOnDeadline(t *testing.T) {
	h := newHarness(t, Params{
		Transcriber: &fakeSTT{text: "Okay"},
		Translator:  &fakeTranslator{},
		Merger:      hygiene.NewMerger(3, 80*time.Millisecond),
	})

	h.segs <- speechSegment(1)
	waitFor(t, "deadline flush", func() bool { return len(h.sink.snapshot()) == 1 })

	ev := h.sink.snapshot()[0]
	if ev.Type != subtitle.TypeFinal || ev.Text != "[pt] Okay" {
		t.Errorf("event = %+v, want flushed fragment as final", ev)
	}
}

func TestRun_HeldFragmentDiscardedAcrossDisable(t *testing.T) {
	stt1 := &fakeSTT{text: "Stale"}
	h := newHarness(t, Params{
		Transcriber: stt1,
		Translator:  &fakeTranslator{},
		Merger:      hygiene.NewMerger(3, time.Minute),
	})

	h.segs <- speechSegment(1) // held
	time.Sleep(50 * time.Millisecond)
	h.modes.Toggle() // off, clear
	h.modes.Toggle() // on

	stt1.setText("completely new sentence here")
	h.segs <- speechSegment(2)
	waitFor(t, "post-toggle final", func() bool { return len(h.sink.snapshot()) >= 2 })

	evs := h.sink.snapshot()
	last := evs[len(evs)-1]
	if strings.Contains(last.Text, "Stale") {
		t.Errorf("final text = %q, held fragment leaked across the clear fence", last.Text)
	}
}
