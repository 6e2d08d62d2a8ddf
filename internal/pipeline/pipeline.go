// Package pipeline drives speech segments through transcription, hygiene,
// and translation into ordered subtitle events.
//
// A single worker goroutine consumes the segment queue, so results leave in
// segment order by construction. Emission is gated by the subtitle mode: the
// gate and the clear broadcast share one mutex, and every result carries the
// mode epoch its segment started under, so once the disable-transition clear
// has gone out no result from before the transition can follow it — not even
// when the operator re-enables before the transcription returns.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lobahq/loba/internal/hygiene"
	"github.com/lobahq/loba/internal/mode"
	"github.com/lobahq/loba/internal/observe"
	"github.com/lobahq/loba/internal/segment"
	"github.com/lobahq/loba/pkg/provider/stt"
	"github.com/lobahq/loba/pkg/provider/translate"
	"github.com/lobahq/loba/pkg/subtitle"
)

// EventSink receives the ordered event stream, typically the broadcast hub.
type EventSink interface {
	Broadcast(ev subtitle.Event)
}

// Config bounds the per-segment work.
type Config struct {
	// STTTimeout caps one transcription call. Default 30s.
	STTTimeout time.Duration

	// TranslateTimeout caps one translation call. Default 10s.
	TranslateTimeout time.Duration

	// EmitPartials controls whether the source-language transcript is
	// broadcast as a partial before translation completes.
	EmitPartials bool

	// SourceLanguage tags partials and untranslated finals when no
	// translator is configured. Default "en".
	SourceLanguage string
}

func (c Config) withDefaults() Config {
	if c.STTTimeout <= 0 {
		c.STTTimeout = 30 * time.Second
	}
	if c.TranslateTimeout <= 0 {
		c.TranslateTimeout = 10 * time.Second
	}
	if c.SourceLanguage == "" {
		c.SourceLanguage = "en"
	}
	return c
}

// Params collects the orchestrator's collaborators.
type Params struct {
	Transcriber stt.Transcriber
	// Translator may be nil, in which case finals carry the source text.
	Translator translate.Translator
	Filter     *hygiene.Filter
	Merger     *hygiene.Merger
	Sink       EventSink
	Mode       *mode.Controller
	Metrics    *observe.Metrics
	Log        *slog.Logger
	Config     Config
}

// Orchestrator is the pipeline worker. Run owns segment processing; EmitClear
// is called from the mode controller's disable hook on a different goroutine.
type Orchestrator struct {
	transcriber stt.Transcriber
	translator  translate.Translator
	filter      *hygiene.Filter
	merger      *hygiene.Merger
	sink        EventSink
	modes       *mode.Controller
	metrics     *observe.Metrics
	log         *slog.Logger
	cfg         Config

	// emitMu serialises every broadcast against the mode gate. EmitClear
	// holds it while broadcasting the fence; emit re-checks the mode epoch
	// under it, so nothing transcribed before a disable can slip out after
	// the clear.
	emitMu sync.Mutex

	// Worker-goroutine state, no locking needed.
	lastEpoch      uint64
	lastSegmentID  uint64
	lastMicrophone string
	lastClosedAt   time.Time
}

// New creates an Orchestrator. Params.Transcriber, Sink, and Mode are
// required; Filter and Merger default to permissive instances.
func New(p Params) *Orchestrator {
	if p.Log == nil {
		p.Log = slog.Default()
	}
	if p.Metrics == nil {
		p.Metrics = observe.DefaultMetrics()
	}
	if p.Filter == nil {
		p.Filter = hygiene.NewFilter(nil, 0)
	}
	if p.Merger == nil {
		p.Merger = hygiene.NewMerger(1, 0)
	}
	return &Orchestrator{
		transcriber: p.Transcriber,
		translator:  p.Translator,
		filter:      p.Filter,
		merger:      p.Merger,
		sink:        p.Sink,
		modes:       p.Mode,
		metrics:     p.Metrics,
		log:         p.Log,
		cfg:         p.Config.withDefaults(),
		lastEpoch:   p.Mode.State().Epoch,
	}
}

// Run consumes segments until ctx is cancelled or segs closes. It must be
// called exactly once.
func (o *Orchestrator) Run(ctx context.Context, segs <-chan segment.Segment) error {
	for {
		var flushC <-chan time.Time
		var flushTimer *time.Timer
		if dl, ok := o.merger.Deadline(); ok {
			flushTimer = time.NewTimer(time.Until(dl))
			flushC = flushTimer.C
		}

		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			return ctx.Err()

		case seg, ok := <-segs:
			if flushTimer != nil {
				flushTimer.Stop()
			}
			if !ok {
				return nil
			}
			o.handle(ctx, seg)

		case <-flushC:
			// A held fragment waited long enough for company.
			o.syncEpoch()
			if text, ok := o.merger.Flush(); ok {
				o.emitTranscript(ctx, text, o.lastSegmentID, o.lastMicrophone, o.lastClosedAt, o.lastEpoch)
			}
		}
	}
}

// EmitClear broadcasts one clear event, bypassing the mode gate. It is wired
// as the disable-transition hook and runs while the mode controller holds its
// transition lock; taking emitMu here fences any emit already in flight.
func (o *Orchestrator) EmitClear() {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	o.sink.Broadcast(subtitle.Clear())
	o.metrics.RecordEvent(context.Background(), string(subtitle.TypeClear))
	o.log.Info("broadcast clear on subtitle disable")
}

func (o *Orchestrator) handle(ctx context.Context, seg segment.Segment) {
	o.syncEpoch()
	o.metrics.RecordSegment(ctx, string(seg.Reason))

	switch seg.Reason {
	case segment.ReasonModeDisabled, segment.ReasonShutdown:
		// Finalized for accounting only; the audio is behind a fence.
		o.metrics.RecordSegmentDrop(ctx, string(seg.Reason))
		return
	}
	st := o.modes.State()
	if !st.Enabled {
		o.metrics.RecordSegmentDrop(ctx, "mode_disabled")
		return
	}
	// The epoch pins this segment to the mode state it started under; any
	// transition while transcription is in flight invalidates the result.
	epoch := st.Epoch

	closedAt := time.Now()
	sttCtx, cancel := context.WithTimeout(ctx, o.cfg.STTTimeout)
	res, err := o.transcriber.Transcribe(sttCtx, seg.PCM, seg.SampleRate)
	cancel()
	o.metrics.STTDuration.Record(ctx, time.Since(closedAt).Seconds())
	if err != nil {
		kind := stt.KindOf(err)
		o.metrics.RecordProviderError(ctx, "stt", string(kind))
		if kind == stt.KindEmptyOutput {
			o.log.Debug("segment produced no transcript", "segment_id", seg.ID)
		} else {
			o.log.Warn("transcription failed", "segment_id", seg.ID,
				"kind", kind, "error", err)
		}
		return
	}

	text, keep := o.filter.Clean(res.Text)
	if !keep {
		o.metrics.FillerDrops.Add(ctx, 1)
		o.log.Debug("transcript dropped by hygiene filter",
			"segment_id", seg.ID, "text", res.Text)
		return
	}

	o.lastSegmentID = seg.ID
	o.lastMicrophone = seg.Microphone
	o.lastClosedAt = closedAt

	merged, ready := o.merger.Add(text)
	if !ready {
		return
	}
	o.emitTranscript(ctx, merged, seg.ID, seg.Microphone, closedAt, epoch)
}

// emitTranscript broadcasts the partial (when configured) and the translated
// final for one transcript. epoch is the mode epoch the work started under.
func (o *Orchestrator) emitTranscript(ctx context.Context, text string, segID uint64, mic string, closedAt time.Time, epoch uint64) {
	srcLang := o.cfg.SourceLanguage
	if o.translator != nil {
		srcLang, _ = o.translator.Languages()
	}

	if o.cfg.EmitPartials && o.translator != nil {
		o.emit(ctx, subtitle.Partial(text, srcLang, mic, segID), epoch)
	}

	finalText, finalLang := text, srcLang
	if o.translator != nil {
		tctx, cancel := context.WithTimeout(ctx, o.cfg.TranslateTimeout)
		tstart := time.Now()
		res, err := o.translator.Translate(tctx, text)
		cancel()
		o.metrics.TranslateDuration.Record(ctx, time.Since(tstart).Seconds())
		if err != nil {
			// An untranslated caption beats no caption; emit the
			// source text tagged with its real language.
			o.metrics.RecordProviderError(ctx, "translate", string(translate.KindOf(err)))
			o.log.Warn("translation failed, emitting source text",
				"segment_id", segID, "error", err)
		} else {
			finalText, finalLang = res.TranslatedText, res.TargetLang
		}
	}

	if o.emit(ctx, subtitle.Final(finalText, finalLang, mic, segID), epoch) && !closedAt.IsZero() {
		o.metrics.PipelineDuration.Record(ctx, time.Since(closedAt).Seconds())
	}
}

// emit broadcasts ev unless the mode transitioned since the work started: a
// stale epoch means a disable fence went out mid-flight, and the result must
// stay behind it even if subtitles are already enabled again. The check
// happens under emitMu, after any concurrent EmitClear completed.
func (o *Orchestrator) emit(ctx context.Context, ev subtitle.Event, epoch uint64) bool {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	st := o.modes.State()
	if !st.Enabled || st.Epoch != epoch {
		o.log.Debug("suppressing event behind clear fence",
			"type", ev.Type, "segment_id", ev.SegmentID)
		return false
	}
	o.sink.Broadcast(ev)
	o.metrics.RecordEvent(ctx, string(ev.Type))
	return true
}

// syncEpoch discards any held merger fragment when a mode transition happened
// since the last segment: text from before the fence must not resurface.
func (o *Orchestrator) syncEpoch() {
	st := o.modes.State()
	if st.Epoch != o.lastEpoch {
		o.lastEpoch = st.Epoch
		if _, held := o.merger.Flush(); held {
			o.log.Debug("discarded held fragment across mode transition")
		}
	}
}
