package playback

import "io"

// Handle is one live stream on an audio output device. The device
// pulls PCM from the reader the handle was opened with; playback ends
// when the reader is drained.
type Handle interface {
	// Play starts or resumes consumption.
	Play()
	// IsPlaying reports whether the handle is still producing audio.
	// It turns false once the source reader is drained and the device
	// buffer has played out.
	IsPlaying() bool
	// Close stops output immediately and releases device resources.
	Close() error
}

// Output opens playback handles over PCM byte streams. The production
// implementation wraps an oto context; tests use MockOutput. Format
// reports the device's fixed PCM format, which decoded audio must be
// converted to before it is handed over.
type Output interface {
	NewHandle(r io.Reader) (Handle, error)
	Format() OutputConfig
	Close() error
}
