package synth

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/murmura-ai/murmura/pkg/errorsx"
	"github.com/murmura-ai/murmura/pkg/logging"
	"github.com/murmura-ai/murmura/pkg/resilience"
)

// StreamConfig configures the websocket stream-input client.
type StreamConfig struct {
	URL         string // ws:// or wss:// stream-input endpoint
	APIKey      string
	Voice       string
	Engine      string
	ContentType string // assumed when the server hello does not declare one
}

// StreamClient synthesizes over a stream-input websocket: one socket per
// sentence, audio chunks arriving as base64 frames. It satisfies the same
// contract as the HTTP dispatcher so engines exposing only a socket API can
// back the pipeline unchanged.
type StreamClient struct {
	cfg      StreamConfig
	registry *CancelRegistry
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

type streamMessage struct {
	Audio       string `json:"audio,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Done        bool   `json:"done,omitempty"`
	Error       string `json:"error,omitempty"`
}

func NewStreamClient(cfg StreamConfig, registry *CancelRegistry) *StreamClient {
	if registry == nil {
		registry = NewCancelRegistry()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "audio/wav"
	}
	return &StreamClient{
		cfg:      cfg,
		registry: registry,
		dialer:   &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
		logger:   logging.NewComponentLogger(slog.Default(), "synth_stream"),
	}
}

func (s *StreamClient) Name() string { return "stream_synth" }

func (s *StreamClient) Synthesize(ctx context.Context, req Request) (*AudioResponse, error) {
	cctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	s.registry.Register(id, cancel)

	conn, resp, err := s.dialer.DialContext(cctx, s.buildURL(req), s.header())
	if err != nil {
		// Deregister invokes the stored cancel, so capture whether the
		// call was already cancelled first.
		cancelled := cctx.Err() != nil
		s.registry.Deregister(id)
		if cancelled {
			return nil, nil
		}
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			rl := resilience.RateLimitError{Provider: s.Name(), Message: resp.Status}
			return nil, errorsx.Wrap(rl, errorsx.ReasonSynthRateLimit)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonStreamConnect)
	}

	text := strings.TrimSpace(req.Text)
	if err := conn.WriteJSON(map[string]any{"text": text, "flush": true}); err != nil {
		_ = conn.Close()
		cancelled := cctx.Err() != nil
		s.registry.Deregister(id)
		if cancelled {
			return nil, nil
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonStreamSend)
	}

	// Close the socket as soon as cancellation lands so the reader unblocks.
	go func() {
		<-cctx.Done()
		_ = conn.Close()
	}()

	pr, pw := io.Pipe()
	contentType := s.cfg.ContentType
	go s.pump(conn, pw)

	return &AudioResponse{
		Seq:         req.Seq,
		ContentType: contentType,
		Body: &releaseCloser{
			rc:      pr,
			release: func() { s.registry.Deregister(id) },
		},
	}, nil
}

// SetLogger replaces the default component logger.
func (s *StreamClient) SetLogger(logger *slog.Logger) {
	s.logger = logging.NewComponentLogger(logger, "synth_stream")
}

// Stop cancels every in-flight stream registered before the call.
func (s *StreamClient) Stop() {
	n := s.registry.CancelAll()
	if n > 0 {
		s.logger.Info("streams cancelled", slog.Int("inflight", n))
	}
}

func (s *StreamClient) pump(conn *websocket.Conn, pw *io.PipeWriter) {
	defer conn.Close()
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if msg.Error != "" {
			_ = pw.CloseWithError(errorsx.Errorf(errorsx.ReasonStreamSend, "stream: %s", msg.Error))
			return
		}
		if msg.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				_ = pw.CloseWithError(errorsx.Wrap(err, errorsx.ReasonStreamSend))
				return
			}
			if _, err := pw.Write(raw); err != nil {
				return
			}
		}
		if msg.Done {
			_ = pw.Close()
			return
		}
	}
}

func (s *StreamClient) buildURL(req Request) string {
	q := url.Values{}
	if v := firstNonEmpty(req.Voice, s.cfg.Voice); v != "" {
		q.Set("voice", v)
	}
	if e := firstNonEmpty(req.Engine, s.cfg.Engine); e != "" {
		q.Set("engine", e)
	}
	if len(q) == 0 {
		return s.cfg.URL
	}
	return s.cfg.URL + "?" + q.Encode()
}

func (s *StreamClient) header() http.Header {
	if s.cfg.APIKey == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + s.cfg.APIKey}}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Synthesizer = (*StreamClient)(nil)
