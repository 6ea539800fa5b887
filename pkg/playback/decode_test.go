package playback

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestPickStrategy(t *testing.T) {
	cases := []struct {
		contentType string
		want        strategy
	}{
		{"audio/wav", strategyIncremental},
		{"audio/x-wav; charset=binary", strategyIncremental},
		{"audio/pcm", strategyIncremental},
		{"audio/l16;rate=16000", strategyIncremental},
		{"audio/mpeg", strategyBuffered},
		{"audio/ogg", strategyBuffered},
		{"application/octet-stream", strategyBuffered},
		{"not a content type", strategyBuffered},
		{"", strategyBuffered},
	}
	for _, c := range cases {
		if got := pickStrategy(c.contentType); got != c.want {
			t.Errorf("pickStrategy(%q) = %v, want %v", c.contentType, got, c.want)
		}
	}
}

func TestDecodeBufferedRawPassthrough(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0x04}
	pcm, err := decodeBuffered("application/octet-stream", bytes.NewReader(raw), DefaultOutputConfig())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(pcm, raw) {
		t.Fatalf("expected passthrough, got %x", pcm)
	}
}

func TestDecodeBufferedWAV(t *testing.T) {
	samples := []int{100, -200, 300, -400, 32000, -32000}
	data := encodeTestWAV(t, samples)

	pcm, err := decodeBuffered("application/octet-stream", bytes.NewReader(data), DefaultOutputConfig())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm) != len(samples)*2 {
		t.Fatalf("expected %d pcm bytes, got %d", len(samples)*2, len(pcm))
	}
	for i, want := range samples {
		got := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if got != int16(want) {
			t.Fatalf("sample %d: got %d, want %d", i, got, want)
		}
	}
}

func TestDecodeBufferedInvalidWAV(t *testing.T) {
	junk := append([]byte("RIFF"), bytes.Repeat([]byte{0xFF}, 16)...)
	if _, err := decodeBuffered("application/octet-stream", bytes.NewReader(junk), DefaultOutputConfig()); err == nil {
		t.Fatalf("expected decode error for truncated RIFF")
	}
}

func TestConvertPCMDownmixesStereo(t *testing.T) {
	src := OutputConfig{SampleRate: 44100, Channels: 2}
	dst := OutputConfig{SampleRate: 44100, Channels: 1}
	pcm := pcmFromSamples(100, 300, -200, -400)

	got := samplesFromPCM(convertPCM(pcm, src, dst))
	want := []int16{200, -300}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestConvertPCMResamples(t *testing.T) {
	src := OutputConfig{SampleRate: 22050, Channels: 1}
	dst := OutputConfig{SampleRate: 44100, Channels: 1}
	pcm := pcmFromSamples(0, 100)

	got := samplesFromPCM(convertPCM(pcm, src, dst))
	want := []int16{0, 50, 100, 100}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestConvertPCMSameFormatPassthrough(t *testing.T) {
	cfg := OutputConfig{SampleRate: 44100, Channels: 1}
	pcm := pcmFromSamples(1, 2, 3)
	if got := convertPCM(pcm, cfg, cfg); !bytes.Equal(got, pcm) {
		t.Fatalf("expected passthrough for matching formats")
	}
}

func pcmFromSamples(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func samplesFromPCM(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func TestIsWAV(t *testing.T) {
	if !isWAV("audio/wav") || !isWAV("audio/wave; rate=44100") {
		t.Fatalf("expected wav content types to be recognized")
	}
	if isWAV("audio/pcm") || isWAV("audio/mpeg") {
		t.Fatalf("non-wav content types must not be treated as wav")
	}
}

// encodeTestWAV writes samples through the go-audio encoder, which
// needs a seekable file.
func encodeTestWAV(t *testing.T, samples []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create temp wav: %v", err)
	}
	enc := wav.NewEncoder(f, 44100, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 44100},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read temp wav: %v", err)
	}
	return data
}
