package synth

import (
	"context"
	"io"
)

// Request is one sentence handed to a synthesis backend.
type Request struct {
	Seq    uint64
	Text   string
	Voice  string
	Engine string
	Rate   float64
	Pitch  float64
}

// AudioResponse is the settled result of a synthesis request. Body streams
// the audio bytes; ContentType is the server-declared format. Closing Body
// releases the request's cancellation registration.
type AudioResponse struct {
	Seq         uint64
	ContentType string
	Body        io.ReadCloser
}

// Voice describes one voice offered by an engine.
type Voice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Locale string `json:"locale"`
	Engine string `json:"engine"`
}

// Synthesizer turns sentences into audio byte streams. A nil response with
// a nil error means the request was cancelled; cancellation is an expected
// outcome, never an error.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (*AudioResponse, error)
	Stop()
}
