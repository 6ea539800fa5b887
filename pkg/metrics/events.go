package metrics

// Event names recorded by the pipeline.
const (
	EventSentenceEmitted = "sentence_emitted"
	EventSilenceFlush    = "silence_flush"

	EventSynthLatencyMS = "synth_latency_ms"
	EventSynthCancelled = "synth_cancelled"
	EventSynthFailed    = "synth_failed"
	EventFirstAudio     = "first_audio"

	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"

	EventPlaybackStart  = "playback_start"
	EventPlaybackDone   = "playback_done"
	EventPlaybackError  = "playback_error"
	EventPlaybackAppend = "playback_append"

	EventInterrupt = "interrupt"
)

// Common tag keys.
const (
	TagUtteranceID = "utterance_id"
	TagSeq         = "seq"
	TagComponent   = "component"
	TagEngine      = "engine"
	TagVoice       = "voice"
	TagContentType = "content_type"
	TagReason      = "reason_code"
)
