package playback

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/murmura-ai/murmura/pkg/errorsx"
)

// OutputConfig describes the PCM format the device is opened with.
// Every item played through the output must already be in this format.
type OutputConfig struct {
	SampleRate int // 44100 or 48000
	Channels   int // 1 mono, 2 stereo
}

// DefaultOutputConfig returns CD-rate mono, the common format for
// synthesized speech.
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{SampleRate: 44100, Channels: 1}
}

// OtoOutput is the production Output backed by an oto v3 context.
// The context is created once; each item gets its own oto.Player.
type OtoOutput struct {
	ctx *oto.Context
	cfg OutputConfig
}

// NewOtoOutput opens the platform audio device. It blocks until the
// device is ready.
func NewOtoOutput(cfg OutputConfig) (*OtoOutput, error) {
	if cfg.SampleRate != 44100 && cfg.SampleRate != 48000 {
		return nil, errorsx.Errorf(errorsx.ReasonPlaybackOutput, "sample rate must be 44100 or 48000, got %d", cfg.SampleRate)
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, errorsx.Errorf(errorsx.ReasonPlaybackOutput, "channels must be 1 or 2, got %d", cfg.Channels)
	}

	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("create oto context: %w", err), errorsx.ReasonPlaybackOutput)
	}
	<-ready

	return &OtoOutput{ctx: ctx, cfg: cfg}, nil
}

// Format reports the PCM format the device was opened with.
func (o *OtoOutput) Format() OutputConfig { return o.cfg }

func (o *OtoOutput) NewHandle(r io.Reader) (Handle, error) {
	p := o.ctx.NewPlayer(r)
	if p == nil {
		return nil, errorsx.Errorf(errorsx.ReasonPlaybackOutput, "oto player creation failed")
	}
	return &otoHandle{player: p}, nil
}

// Close releases the output. oto v3 contexts have no close method;
// dropping the reference is the supported teardown.
func (o *OtoOutput) Close() error {
	o.ctx = nil
	return nil
}

type otoHandle struct {
	mu     sync.Mutex
	player *oto.Player
	closed bool
}

func (h *otoHandle) Play() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.player != nil {
		h.player.Play()
	}
}

func (h *otoHandle) IsPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.player == nil {
		return false
	}
	// The player keeps reporting playing for a beat after the source
	// drains while the device buffer empties.
	return h.player.IsPlaying()
}

func (h *otoHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.player.Pause()
	err := h.player.Close()
	h.player = nil
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("close oto player: %w", err), errorsx.ReasonPlaybackOutput)
	}
	return nil
}

// drainPoll is how often the session checks IsPlaying while draining.
const drainPoll = 10 * time.Millisecond
