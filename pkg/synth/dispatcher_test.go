package synth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/murmura-ai/murmura/pkg/errorsx"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		DefaultVoice:  "nova",
		DefaultEngine: "standard",
		MaxRetries:    1,
		RetryBackoff:  time.Millisecond,
	}
}

func TestSynthesizeReturnsStream(t *testing.T) {
	var gotBody synthesizeBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/synthesize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFxxxx"))
	}))
	defer srv.Close()

	d := NewDispatcher(testConfig(srv.URL), NewCancelRegistry())
	resp, err := d.Synthesize(context.Background(), Request{Seq: 7, Text: "Hello, world."})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if resp == nil {
		t.Fatalf("expected response, got nil")
	}
	if resp.Seq != 7 || resp.ContentType != "audio/wav" {
		t.Fatalf("unexpected response meta: %+v", resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "RIFFxxxx" {
		t.Fatalf("unexpected body %q", data)
	}
	_ = resp.Body.Close()
	if d.InFlight() != 0 {
		t.Fatalf("expected registry drained after close, got %d", d.InFlight())
	}
	if gotBody.Voice != "nova" || gotBody.Engine != "standard" {
		t.Fatalf("expected defaults applied, got %+v", gotBody)
	}
	if gotBody.Rate != 1.0 || gotBody.Pitch != 1.0 {
		t.Fatalf("expected default prosody, got %+v", gotBody)
	}
}

func TestStopCancelsRegisteredRequests(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	d := NewDispatcher(testConfig(srv.URL), NewCancelRegistry())
	type result struct {
		resp *AudioResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := d.Synthesize(context.Background(), Request{Seq: 1, Text: "Slow one."})
		done <- result{resp, err}
	}()

	waitFor(t, func() bool { return d.InFlight() == 1 })
	d.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("cancellation must not be an error, got %v", res.err)
		}
		if res.resp != nil {
			t.Fatalf("cancelled request must resolve to nil response")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled request never settled")
	}
	if d.InFlight() != 0 {
		t.Fatalf("expected empty registry after stop")
	}
}

func TestRequestAfterStopUnaffected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3data"))
	}))
	defer srv.Close()

	d := NewDispatcher(testConfig(srv.URL), NewCancelRegistry())
	d.Stop()
	resp, err := d.Synthesize(context.Background(), Request{Seq: 2, Text: "After stop."})
	if err != nil || resp == nil {
		t.Fatalf("request after stop must run: resp=%v err=%v", resp, err)
	}
	_ = resp.Body.Close()
}

func TestTransportErrorIsReasoned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	d := NewDispatcher(testConfig(srv.URL), NewCancelRegistry())
	resp, err := d.Synthesize(context.Background(), Request{Seq: 3, Text: "Unlucky."})
	if resp != nil {
		t.Fatalf("expected nil response on failure")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSynthRequest) {
		t.Fatalf("expected synth_request reason, got %v (%s)", err, errorsx.Reason(err))
	}
	if d.InFlight() != 0 {
		t.Fatalf("expected registry drained after failure")
	}
}

func TestRateLimitOpensBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.BreakerThreshold = 2
	cfg.BreakerCooldown = time.Minute
	d := NewDispatcher(cfg, NewCancelRegistry())

	for i := 0; i < 2; i++ {
		_, err := d.Synthesize(context.Background(), Request{Seq: uint64(i), Text: "x"})
		if !errorsx.HasReason(err, errorsx.ReasonSynthRateLimit) {
			t.Fatalf("expected rate limit reason, got %v", err)
		}
	}
	_, err := d.Synthesize(context.Background(), Request{Seq: 9, Text: "denied"})
	if !errorsx.HasReason(err, errorsx.ReasonSynthCircuitOpen) {
		t.Fatalf("expected circuit open reason, got %v", err)
	}
}

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/voices" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("engine"); got != "neural" {
			t.Errorf("expected engine=neural, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(voicesPayload{Voices: map[string][]Voice{
			"en-US": {{ID: "nova", Name: "Nova", Engine: "neural"}},
			"id-ID": {{ID: "sari", Name: "Sari", Engine: "neural", Locale: "id-ID"}},
		}})
	}))
	defer srv.Close()

	d := NewDispatcher(testConfig(srv.URL), NewCancelRegistry())
	voices, err := d.ListVoices(context.Background(), "neural")
	if err != nil {
		t.Fatalf("list voices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(voices))
	}
	for _, v := range voices {
		if v.Locale == "" {
			t.Fatalf("expected locale filled from group key, got %+v", v)
		}
	}
}

func TestReleaseCloserSettlesOnce(t *testing.T) {
	var released atomic.Int32
	pr, pw := io.Pipe()
	rc := &releaseCloser{rc: pr, release: func() { released.Add(1) }}

	// A reader still pulling from the body while Close lands, the shape
	// playback's Stop produces mid-stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 16)
		for {
			if _, err := rc.Read(buf); err != nil {
				return
			}
		}
	}()

	_, _ = pw.Write([]byte("audio"))
	_ = rc.Close()
	_ = pw.Close()
	<-done
	_ = rc.Close()

	if got := released.Load(); got != 1 {
		t.Fatalf("release ran %d times, want exactly 1", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never met")
}
