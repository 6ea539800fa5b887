package playback

import "io"

// Item is one synthesized audio result waiting to be played. Body is
// consumed exactly once, either streamed into the output or fully
// buffered first depending on ContentType.
type Item struct {
	Seq         uint64
	ContentType string
	Body        io.ReadCloser
}

// State tracks the lifecycle of a single playback session.
type State int32

const (
	// StatePending: session created, no audio appended yet.
	StatePending State = iota
	// StateAppending: a chunk append is in progress. Only one append
	// may be in flight at a time.
	StateAppending
	// StateDraining: the byte source is exhausted, the output is
	// playing out whatever remains buffered.
	StateDraining
	// StateEnded: playback finished and resources were released.
	StateEnded
	// StateErrored: playback failed; treated as completion by the queue.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAppending:
		return "appending"
	case StateDraining:
		return "draining"
	case StateEnded:
		return "ended"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}
