package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/murmura-ai/murmura/pkg/logging"
	"github.com/murmura-ai/murmura/pkg/metrics"
	"github.com/murmura-ai/murmura/pkg/observers"
	"github.com/murmura-ai/murmura/pkg/pipeline"
	"github.com/murmura-ai/murmura/pkg/playback"
	"github.com/murmura-ai/murmura/pkg/redact"
	"github.com/murmura-ai/murmura/pkg/segment"
	"github.com/murmura-ai/murmura/pkg/synth"
)

// Engine assembles the full pipeline: segmenter, dispatcher, playback
// queue and controller, with the observer chain and logging wired the
// same way for every embedding application.
type Engine struct {
	cfg        Config
	logger     *slog.Logger
	controller *pipeline.Controller
	queue      *playback.Queue
	output     playback.Output
	ownsOutput bool
	synth      synth.Synthesizer
	registry   *synth.CancelRegistry
	asyncObs   *metrics.AsyncObserver
	timeline   *observers.TimelineObserver

	// stream transport only
	streamContentType string
}

// EngineOptions carries the config plus optional replacements for the
// pieces that touch hardware or the network, mainly for tests and
// embedders with their own audio path.
type EngineOptions struct {
	Config      Config
	Output      playback.Output
	Synthesizer synth.Synthesizer
	Observers   []metrics.Observer
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	logger.Info("engine_init",
		"environment", cfg.Environment,
		"synth_transport", cfg.Synth.Transport,
		"engine", cfg.Synth.Engine,
		"voice", cfg.Synth.Voice,
	)

	e := &Engine{cfg: cfg, logger: logger, registry: synth.NewCancelRegistry()}

	if err := e.applyEngineOverrides(); err != nil {
		return nil, err
	}

	obsList := []metrics.Observer{
		observers.NewLatencyObserver(logger),
		observers.NewLoggerObserver(logger),
	}
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if cfg.Observability.RetentionDays > 0 {
			_, _ = observers.PurgeArtifacts(dir, time.Duration(cfg.Observability.RetentionDays)*24*time.Hour)
		}
		e.timeline = observers.NewTimelineObserver(dir)
		obsList = append(obsList, e.timeline)
	}
	obsList = append(obsList, opts.Observers...)
	var chain metrics.Observer = observers.NewMultiObserver(obsList...)
	if rate := cfg.Observability.SampleAppends; rate > 0 && rate < 1 {
		// Append events fire per chunk and swamp the timeline at
		// full volume; everything else passes through unsampled.
		chain = appendSampler{
			base:    chain,
			sampled: metrics.NewSamplingObserver(chain, rate),
		}
	}
	e.asyncObs = metrics.NewAsyncObserver(chain, 2048)

	if opts.Output != nil {
		e.output = opts.Output
	} else {
		out, err := playback.NewOtoOutput(playback.OutputConfig{
			SampleRate: cfg.Playback.SampleRate,
			Channels:   cfg.Playback.Channels,
		})
		if err != nil {
			e.asyncObs.Close()
			return nil, fmt.Errorf("open audio output: %w", err)
		}
		e.output = out
		e.ownsOutput = true
	}

	e.queue = playback.NewQueue(e.output, e.asyncObs, logger)

	if opts.Synthesizer != nil {
		e.synth = opts.Synthesizer
	} else {
		e.synth = e.buildSynthesizer()
	}

	e.controller = pipeline.NewController(pipeline.Config{
		Segment: segment.Config{
			MinLen:         cfg.Segment.MinLen,
			SilenceTimeout: time.Duration(cfg.Segment.SilenceTimeoutMS) * time.Millisecond,
			MaxHistory:     cfg.Segment.MaxHistory,
		},
		Voice:        cfg.Synth.Voice,
		Engine:       cfg.Synth.Engine,
		HighCapacity: cfg.Pipeline.HighCapacity,
		LowCapacity:  cfg.Pipeline.LowCapacity,
	}, e.synth, e.queue, e.asyncObs, logger)
	e.controller.Start()

	return e, nil
}

// applyEngineOverrides folds per-engine settings from the config file
// into the base synthesis parameters.
func (e *Engine) applyEngineOverrides() error {
	es, err := e.cfg.EngineOverrides(e.cfg.Synth.Engine)
	if err != nil {
		return err
	}
	if es.Voice != "" {
		e.cfg.Synth.Voice = es.Voice
	}
	if es.Rate > 0 {
		e.cfg.Synth.Rate = es.Rate
	}
	if es.Pitch > 0 {
		e.cfg.Synth.Pitch = es.Pitch
	}
	if es.ContentType != "" && strings.EqualFold(e.cfg.Synth.Transport, "stream") {
		e.streamContentType = es.ContentType
	}
	return nil
}

func (e *Engine) buildSynthesizer() synth.Synthesizer {
	cfg := e.cfg.Synth
	if strings.EqualFold(cfg.Transport, "stream") {
		sc := synth.NewStreamClient(synth.StreamConfig{
			URL:         cfg.StreamURL,
			APIKey:      cfg.APIKey,
			Voice:       cfg.Voice,
			Engine:      cfg.Engine,
			ContentType: e.streamContentType,
		}, e.registry)
		sc.SetLogger(e.logger)
		return sc
	}

	d := synth.NewDispatcher(synth.Config{
		BaseURL:          cfg.BaseURL,
		DefaultVoice:     cfg.Voice,
		DefaultEngine:    cfg.Engine,
		DefaultRate:      cfg.Rate,
		DefaultPitch:     cfg.Pitch,
		MaxRetries:       cfg.MaxRetries,
		RetryBackoff:     time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.BreakerCooldownMS) * time.Millisecond,
	}, e.registry)
	d.SetObserver(e.asyncObs)
	d.SetLogger(e.logger)
	return d
}

// appendSampler thins playback append events to the configured rate
// while passing every other event through.
type appendSampler struct {
	base    metrics.Observer
	sampled metrics.Observer
}

func (o appendSampler) RecordEvent(ev metrics.MetricsEvent) {
	if ev.Name == metrics.EventPlaybackAppend {
		o.sampled.RecordEvent(ev)
		return
	}
	o.base.RecordEvent(ev)
}

// FeedToken forwards one token from the text generator.
func (e *Engine) FeedToken(token string) { e.controller.FeedToken(token) }

// Flush marks the end of the current reply's token stream.
func (e *Engine) Flush() { e.controller.Flush() }

// Interrupt is the barge-in entry point for speech detectors and
// explicit stop commands.
func (e *Engine) Interrupt() { e.controller.Interrupt() }

// QueueLen exposes the playback backlog for display.
func (e *Engine) QueueLen() int { return e.controller.QueueLen() }

// Voices lists the voices the synthesis endpoint offers for an
// engine. Only the HTTP transport supports the side query.
func (e *Engine) Voices(ctx context.Context, engine string) ([]synth.Voice, error) {
	lister, ok := e.synth.(interface {
		ListVoices(ctx context.Context, engine string) ([]synth.Voice, error)
	})
	if !ok {
		return nil, fmt.Errorf("synthesizer %s does not list voices", e.synth.Name())
	}
	return lister.ListVoices(ctx, engine)
}

// Drain flushes buffered text and waits for queued audio to finish,
// bounded by timeout. Used on graceful shutdown.
func (e *Engine) Drain(timeout time.Duration) error {
	e.controller.Flush()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.controller.InFlight() == 0 && e.queue.Len() == 0 {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("drain timed out after %s", timeout)
}

// Close tears the pipeline down: cancels synthesis, stops playback
// and flushes observers.
func (e *Engine) Close() {
	e.controller.Interrupt()
	e.controller.Close()
	e.queue.Close()
	if e.ownsOutput {
		_ = e.output.Close()
	}
	if e.timeline != nil {
		_ = e.timeline.Close()
	}
	e.asyncObs.Close()
}
