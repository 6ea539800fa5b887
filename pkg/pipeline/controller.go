package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/murmura-ai/murmura/pkg/logging"
	"github.com/murmura-ai/murmura/pkg/metrics"
	"github.com/murmura-ai/murmura/pkg/playback"
	"github.com/murmura-ai/murmura/pkg/priority"
	"github.com/murmura-ai/murmura/pkg/redact"
	"github.com/murmura-ai/murmura/pkg/segment"
	"github.com/murmura-ai/murmura/pkg/synth"
)

// Config tunes the controller. Zero values fall back to defaults.
type Config struct {
	Segment segment.Config
	// Voice and Engine are passed through on every synthesis request;
	// empty values use the dispatcher's defaults.
	Voice  string
	Engine string
	// Capacities of the control and sentence lanes.
	HighCapacity int
	LowCapacity  int
}

// interruptSignal preempts queued sentences on the control lane.
type interruptSignal struct{}

// Controller wires the segmenter, the synthesis dispatcher and the
// playback queue together and owns the barge-in path. Emitted
// sentences travel through a two-lane queue to a dispatch loop;
// completed audio is released to playback strictly in sentence order
// through a reorder buffer, whatever order synthesis settles in.
type Controller struct {
	cfg     Config
	seg     *segment.Segmenter
	synth   synth.Synthesizer
	queue   *playback.Queue
	pq      *priority.Queue
	reorder *reorderBuffer
	obs     metrics.Observer
	logger  *slog.Logger

	// epoch advances on every interrupt; sentences popped under an
	// older epoch are dropped instead of dispatched.
	epoch     atomic.Uint64
	utterance atomic.Value // string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController builds the pipeline around an existing queue and
// synthesizer. The caller keeps ownership of both; Close does not
// close them.
func NewController(cfg Config, s synth.Synthesizer, q *playback.Queue, obs metrics.Observer, logger *slog.Logger) *Controller {
	if cfg.HighCapacity <= 0 {
		cfg.HighCapacity = 8
	}
	if cfg.LowCapacity <= 0 {
		cfg.LowCapacity = 64
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}

	c := &Controller{
		cfg:    cfg,
		synth:  s,
		queue:  q,
		pq:     priority.New(cfg.HighCapacity, cfg.LowCapacity),
		obs:    obs,
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}
	c.utterance.Store(uuid.NewString())
	c.reorder = newReorderBuffer(func(item playback.Item) {
		q.Enqueue(item)
	})
	c.seg = segment.New(cfg.Segment, c.onSentence)
	c.seg.SetSilenceHook(func(u segment.Unit) {
		c.record(metrics.EventSilenceFlush, u.Seq, nil)
	})
	return c
}

// Start launches the dispatch loop.
func (c *Controller) Start() {
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.dispatchLoop()
}

// Close stops the dispatch loop and waits for in-flight synthesis
// goroutines to settle. The playback queue and synthesizer are left
// to their owner.
func (c *Controller) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// FeedToken forwards one generated token to the segmenter. Sentence
// emission and dispatch happen synchronously underneath when a
// boundary is hit.
func (c *Controller) FeedToken(token string) {
	c.seg.FeedToken(token)
}

// Flush force-emits any buffered remainder, used when the token
// stream ends. The next token starts a new utterance.
func (c *Controller) Flush() {
	c.seg.Flush()
	c.utterance.Store(uuid.NewString())
}

// Interrupt is the barge-in path: cancel outstanding synthesis, stop
// and clear playback, discard buffered text and queued sentences. All
// of it completes before Interrupt returns.
func (c *Controller) Interrupt() {
	epoch := c.epoch.Add(1)
	c.pq.TryPushHigh(interruptSignal{})
	dropped := c.pq.DrainLow()
	c.synth.Stop()
	// The reorder buffer resets before the queue is cleared so a late
	// completion cannot deliver into the freshly cleared queue.
	c.reorder.Reset()
	c.queue.Clear()
	c.seg.Reset()
	c.utterance.Store(uuid.NewString())

	c.record(metrics.EventInterrupt, 0, map[string]string{"dropped": strconv.Itoa(dropped)})
	c.logger.Info("barge-in", "epoch", epoch, "dropped_sentences", dropped)
}

// QueueLen exposes the playback queue length for display. It is not
// a synchronization primitive.
func (c *Controller) QueueLen() int {
	return c.queue.Len()
}

// InFlight reports emitted sentences whose audio has not been
// released to playback yet, including those still queued for
// dispatch.
func (c *Controller) InFlight() int {
	return c.reorder.Pending()
}

func (c *Controller) onSentence(u segment.Unit) {
	c.record(metrics.EventSentenceEmitted, u.Seq, nil)
	c.logger.Debug("sentence emitted", "seq", u.Seq, "text", redact.Clip(redact.Text(u.Text), 80))
	// Registered before queueing, so the sentence counts as in flight
	// from the moment it is emitted and an interrupt's Reset covers
	// sentences still sitting in the lane.
	c.reorder.Expect(u.Seq)
	if !c.pq.TryPushLow(u) {
		c.logger.Warn("sentence lane full, dropping", "seq", u.Seq)
		c.reorder.Complete(u.Seq, nil)
	}
}

func (c *Controller) dispatchLoop() {
	defer c.wg.Done()
	for {
		v, ok := c.pq.Pop(c.ctx)
		if !ok {
			return
		}
		switch m := v.(type) {
		case interruptSignal:
			// Teardown already ran synchronously in Interrupt; the
			// signal only preempts sentences queued behind it.
			c.logger.Debug("interrupt signal drained")
		case segment.Unit:
			c.dispatch(m, c.epoch.Load())
		default:
			_ = m
		}
	}
}

// dispatch fires synthesis for one sentence without waiting for
// earlier ones to resolve. The reorder buffer restores sentence order
// on the way to playback. A sentence popped under a stale epoch was
// already cleared from the reorder buffer by the interrupt; if its
// synthesis races the interrupt anyway, Complete finds the sequence
// unregistered and discards the audio.
func (c *Controller) dispatch(u segment.Unit, epoch uint64) {
	if epoch != c.epoch.Load() {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		start := time.Now()
		resp, err := c.synth.Synthesize(c.ctx, synth.Request{
			Seq:    u.Seq,
			Text:   u.Text,
			Voice:  c.cfg.Voice,
			Engine: c.cfg.Engine,
		})
		switch {
		case err != nil:
			// The sentence simply produces no audio; the pipeline
			// moves on.
			c.logger.Warn("synthesis failed, skipping sentence", "seq", u.Seq, "error", err)
			c.reorder.Complete(u.Seq, nil)
		case resp == nil:
			// Cancelled, expected during barge-in.
			c.reorder.Complete(u.Seq, nil)
		default:
			c.logger.Debug("synthesis settled", "seq", u.Seq, "content_type", resp.ContentType, "elapsed_ms", time.Since(start).Milliseconds())
			c.reorder.Complete(u.Seq, &playback.Item{
				Seq:         resp.Seq,
				ContentType: resp.ContentType,
				Body:        resp.Body,
			})
		}
	}()
}

func (c *Controller) record(name string, seq uint64, extra map[string]string) {
	tags := map[string]string{
		metrics.TagComponent:   "pipeline",
		metrics.TagUtteranceID: c.utterance.Load().(string),
	}
	if seq > 0 {
		tags[metrics.TagSeq] = strconv.FormatUint(seq, 10)
	}
	for k, v := range extra {
		tags[k] = v
	}
	c.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: tags})
}
