package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/murmura-ai/murmura/pkg/errorsx"
	"github.com/murmura-ai/murmura/pkg/logging"
	"github.com/murmura-ai/murmura/pkg/metrics"
	"github.com/murmura-ai/murmura/pkg/redact"
	"github.com/murmura-ai/murmura/pkg/resilience"
)

type Config struct {
	BaseURL       string
	DefaultVoice  string
	DefaultEngine string
	DefaultRate   float64
	DefaultPitch  float64

	// Transient-failure handling.
	MaxRetries       int
	RetryBackoff     time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Dispatcher issues synthesis calls against an HTTP endpoint. Multiple calls
// may be outstanding at once; completions settle in any order.
type Dispatcher struct {
	cfg      Config
	client   *http.Client
	registry *CancelRegistry
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryPolicy
	obs      metrics.Observer
	logger   *slog.Logger
}

type synthesizeBody struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice"`
	Engine string  `json:"engine"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
}

type voicesPayload struct {
	Voices map[string][]Voice `json:"voices"`
}

// NewDispatcher builds a dispatcher around the given cancel registry. The
// registry is owned by the caller so several dispatchers (or none) can share
// one interrupt domain.
func NewDispatcher(cfg Config, registry *CancelRegistry) *Dispatcher {
	if registry == nil {
		registry = NewCancelRegistry()
	}
	if cfg.DefaultRate == 0 {
		cfg.DefaultRate = 1.0
	}
	if cfg.DefaultPitch == 0 {
		cfg.DefaultPitch = 1.0
	}
	return &Dispatcher{
		cfg:      cfg,
		client:   &http.Client{},
		registry: registry,
		breaker:  resilience.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		retry:    resilience.NewRetryPolicy(cfg.MaxRetries, cfg.RetryBackoff),
		obs:      metrics.NoopObserver{},
		logger:   logging.NewComponentLogger(slog.Default(), "synth_dispatcher"),
	}
}

func (d *Dispatcher) Name() string { return "http_synth" }

func (d *Dispatcher) SetObserver(obs metrics.Observer) {
	if obs != nil {
		d.obs = obs
	}
}

func (d *Dispatcher) SetLogger(logger *slog.Logger) {
	if logger != nil {
		d.logger = logging.NewComponentLogger(logger, "synth_dispatcher")
	}
}

// SetHTTPClient overrides the transport, mainly for tests.
func (d *Dispatcher) SetHTTPClient(c *http.Client) {
	if c != nil {
		d.client = c
	}
}

// Synthesize posts one sentence and returns its audio stream. A cancelled
// call returns (nil, nil). The returned Body stays registered for
// cancellation until it is closed, so Stop during playback poisons the
// stream rather than leaking it.
func (d *Dispatcher) Synthesize(ctx context.Context, req Request) (*AudioResponse, error) {
	if !d.breaker.Allow() {
		d.record(metrics.EventBreakerDenied, req, 0)
		return nil, errorsx.Errorf(errorsx.ReasonSynthCircuitOpen, "synthesis circuit open")
	}

	d.applyDefaults(&req)
	payload, err := json.Marshal(synthesizeBody{
		Text:   req.Text,
		Voice:  req.Voice,
		Engine: req.Engine,
		Rate:   req.Rate,
		Pitch:  req.Pitch,
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthRequest)
	}

	cctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	d.registry.Register(id, cancel)

	d.logger.Debug("synth request",
		slog.Uint64("seq", req.Seq),
		slog.String("engine", req.Engine),
		slog.String("voice", req.Voice),
		slog.String("text", redact.Clip(redact.Text(req.Text), 120)))

	start := time.Now()
	var resp *http.Response
	err = d.retry.DoCtx(cctx, func() error {
		httpReq, reqErr := http.NewRequestWithContext(cctx, http.MethodPost,
			d.cfg.BaseURL+"/tts/synthesize", bytes.NewReader(payload))
		if reqErr != nil {
			return reqErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, reqErr = d.client.Do(httpReq)
		return reqErr
	})
	if err != nil {
		// Deregister invokes the stored cancel, so capture whether the
		// call was already cancelled first.
		cancelled := cctx.Err() != nil
		d.registry.Deregister(id)
		if cancelled {
			d.record(metrics.EventSynthCancelled, req, time.Since(start))
			return nil, nil
		}
		d.record(metrics.EventSynthFailed, req, time.Since(start))
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthRequest)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		d.registry.Deregister(id)
		d.record(metrics.EventSynthFailed, req, time.Since(start))
		if resp.StatusCode == http.StatusTooManyRequests {
			rl := resilience.RateLimitError{Provider: d.Name(), Message: resp.Status}
			d.breaker.OnError(rl)
			d.record(metrics.EventRateLimit, req, 0)
			return nil, errorsx.Wrap(rl, errorsx.ReasonSynthRateLimit)
		}
		return nil, errorsx.Errorf(errorsx.ReasonSynthStatus, "synthesize: unexpected status %s", resp.Status)
	}

	d.breaker.OnSuccess()
	d.record(metrics.EventSynthLatencyMS, req, time.Since(start))

	body := &releaseCloser{
		rc:      resp.Body,
		release: func() { d.registry.Deregister(id) },
	}
	return &AudioResponse{
		Seq:         req.Seq,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Stop cancels every currently registered synthesis call. Non-blocking;
// cancelled calls settle through their own return paths.
func (d *Dispatcher) Stop() {
	n := d.registry.CancelAll()
	if n > 0 {
		d.logger.Info("synthesis cancelled", slog.Int("inflight", n))
	}
}

// ListVoices fetches the voices available for an engine.
func (d *Dispatcher) ListVoices(ctx context.Context, engine string) ([]Voice, error) {
	u := d.cfg.BaseURL + "/tts/voices"
	if engine != "" {
		u += "?engine=" + url.QueryEscape(engine)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonVoicesList)
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonVoicesList)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errorsx.Errorf(errorsx.ReasonVoicesList, "voices: unexpected status %s", resp.Status)
	}
	var payload voicesPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonVoicesDecode)
	}
	var voices []Voice
	for locale, group := range payload.Voices {
		for _, v := range group {
			if v.Locale == "" {
				v.Locale = locale
			}
			voices = append(voices, v)
		}
	}
	return voices, nil
}

// InFlight reports currently registered calls. Observation only.
func (d *Dispatcher) InFlight() int { return d.registry.Len() }

func (d *Dispatcher) applyDefaults(req *Request) {
	if req.Voice == "" {
		req.Voice = d.cfg.DefaultVoice
	}
	if req.Engine == "" {
		req.Engine = d.cfg.DefaultEngine
	}
	if req.Rate == 0 {
		req.Rate = d.cfg.DefaultRate
	}
	if req.Pitch == 0 {
		req.Pitch = d.cfg.DefaultPitch
	}
}

func (d *Dispatcher) record(name string, req Request, elapsed time.Duration) {
	d.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(elapsed.Milliseconds()),
		Tags: map[string]string{
			metrics.TagComponent: "synth",
			metrics.TagSeq:       strconv.FormatUint(req.Seq, 10),
			metrics.TagEngine:    req.Engine,
			metrics.TagVoice:     req.Voice,
		},
	})
}

// releaseCloser deregisters the request's cancel entry when the audio body
// is done, whether it was fully read or abandoned. Reads and Close may race
// when playback is stopped mid-stream, so the release is a sync.Once.
type releaseCloser struct {
	rc      io.ReadCloser
	release func()
	once    sync.Once
}

func (c *releaseCloser) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if errors.Is(err, io.EOF) {
		c.settle()
	}
	return n, err
}

func (c *releaseCloser) Close() error {
	err := c.rc.Close()
	c.settle()
	return err
}

func (c *releaseCloser) settle() {
	c.once.Do(c.release)
}

var _ Synthesizer = (*Dispatcher)(nil)
