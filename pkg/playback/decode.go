package playback

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/murmura-ai/murmura/pkg/errorsx"
)

type strategy int

const (
	// strategyIncremental streams chunks into the output as they
	// arrive, starting playback before the full body has downloaded.
	strategyIncremental strategy = iota
	// strategyBuffered reads and decodes the whole body first, then
	// hands the complete PCM to the output. Used for framed formats
	// that do not append reliably, and for anything unrecognized.
	strategyBuffered
)

func (s strategy) String() string {
	if s == strategyIncremental {
		return "incremental"
	}
	return "buffered"
}

// wavHeaderLen is the canonical RIFF/fmt/data header size. Streaming
// WAV from a synthesis endpoint carries PCM after this prefix.
const wavHeaderLen = 44

// pickStrategy maps a response content type to a playback strategy.
// WAV and raw PCM can be appended incrementally; MP3 frames and
// unknown formats are fully buffered first.
func pickStrategy(contentType string) strategy {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strategyBuffered
	}
	switch strings.ToLower(mt) {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return strategyIncremental
	case "audio/pcm", "audio/l16", "audio/x-raw":
		return strategyIncremental
	default:
		return strategyBuffered
	}
}

// isWAV reports whether the content type names a RIFF/WAV stream,
// which carries a fixed header before its PCM payload.
func isWAV(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch strings.ToLower(mt) {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return true
	}
	return false
}

// decodeBuffered drains r and returns 16-bit little-endian PCM in the
// device format dst.
func decodeBuffered(contentType string, r io.Reader, dst OutputConfig) ([]byte, error) {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch strings.ToLower(mt) {
	case "audio/mpeg", "audio/mp3", "audio/mpeg3":
		return decodeMP3(r, dst)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("buffer audio body: %w", err), errorsx.ReasonPlaybackDecode)
	}
	if bytes.HasPrefix(data, []byte("RIFF")) {
		return decodeWAV(data, dst)
	}
	// Unrecognized but not framed, assume raw PCM already in the
	// device format.
	return data, nil
}

// decodeMP3 decodes a full MP3 stream via go-mp3. The decoder always
// yields 16-bit stereo at the stream's native sample rate, so the
// result is converted to the device format.
func decodeMP3(r io.Reader, dst OutputConfig) ([]byte, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("open mp3 decoder: %w", err), errorsx.ReasonPlaybackDecode)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("decode mp3: %w", err), errorsx.ReasonPlaybackDecode)
	}
	src := OutputConfig{SampleRate: int(dec.SampleRate()), Channels: 2}
	return convertPCM(pcm, src, dst), nil
}

// decodeWAV extracts PCM samples from a complete RIFF buffer using
// go-audio. Samples are re-encoded as 16-bit little endian regardless
// of the container's declared bit depth, then converted to the device
// format.
func decodeWAV(data []byte, dst OutputConfig) ([]byte, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errorsx.Errorf(errorsx.ReasonPlaybackDecode, "invalid wav container")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("decode wav: %w", err), errorsx.ReasonPlaybackDecode)
	}
	src := OutputConfig{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
	return convertPCM(pcmBytes(buf), src, dst), nil
}

// convertPCM rewrites 16-bit little-endian PCM from the decoded source
// format into the device format. Channels are mixed down to mono
// before any rate change and fanned back out after; rate changes use
// linear interpolation.
func convertPCM(pcm []byte, src, dst OutputConfig) []byte {
	if src.SampleRate == dst.SampleRate && src.Channels == dst.Channels {
		return pcm
	}
	if src.Channels <= 0 || src.SampleRate <= 0 {
		return pcm
	}
	frames := len(pcm) / (2 * src.Channels)
	if frames == 0 {
		return nil
	}

	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		off := i * 2 * src.Channels
		acc := 0
		for c := 0; c < src.Channels; c++ {
			acc += int(int16(binary.LittleEndian.Uint16(pcm[off+2*c:])))
		}
		mono[i] = int16(acc / src.Channels)
	}

	if src.SampleRate != dst.SampleRate {
		outFrames := int(int64(frames) * int64(dst.SampleRate) / int64(src.SampleRate))
		if outFrames == 0 {
			outFrames = 1
		}
		resampled := make([]int16, outFrames)
		step := float64(src.SampleRate) / float64(dst.SampleRate)
		for i := range resampled {
			pos := float64(i) * step
			j := int(pos)
			if j >= frames-1 {
				resampled[i] = mono[frames-1]
				continue
			}
			frac := pos - float64(j)
			a, b := float64(mono[j]), float64(mono[j+1])
			resampled[i] = int16(a + (b-a)*frac)
		}
		mono = resampled
	}

	out := make([]byte, len(mono)*2*dst.Channels)
	for i, sample := range mono {
		for c := 0; c < dst.Channels; c++ {
			binary.LittleEndian.PutUint16(out[(i*dst.Channels+c)*2:], uint16(sample))
		}
	}
	return out
}

// pcmBytes flattens an audio.IntBuffer into 16-bit little-endian
// sample bytes.
func pcmBytes(buf *audio.IntBuffer) []byte {
	out := make([]byte, 0, len(buf.Data)*2)
	var scratch [2]byte
	for _, sample := range buf.Data {
		binary.LittleEndian.PutUint16(scratch[:], uint16(int16(sample)))
		out = append(out, scratch[0], scratch[1])
	}
	return out
}
