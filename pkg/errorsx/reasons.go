package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSynthRequest     ReasonCode = "synth_request"
	ReasonSynthStatus      ReasonCode = "synth_status"
	ReasonSynthRetry       ReasonCode = "synth_retry"
	ReasonSynthRateLimit   ReasonCode = "synth_rate_limit"
	ReasonSynthCircuitOpen ReasonCode = "synth_circuit_open"

	ReasonVoicesList   ReasonCode = "voices_list"
	ReasonVoicesDecode ReasonCode = "voices_decode"

	ReasonStreamConnect ReasonCode = "stream_connect"
	ReasonStreamSend    ReasonCode = "stream_send"

	ReasonPlaybackOutput ReasonCode = "playback_output"
	ReasonPlaybackDecode ReasonCode = "playback_decode"
	ReasonPlaybackAppend ReasonCode = "playback_append"
)
