// Package realtime defines the Provider interface for realtime
// speech-to-speech backends.
//
// A realtime provider wraps a vendor voice API that accepts raw audio input
// and returns synthesized audio plus transcripts over a single stateful
// session. The central abstraction is SessionHandle: audio goes up via
// SendAudio, and everything the vendor emits comes back as an ordered stream
// of [Event] values on a single channel, so a session-handling goroutine can
// consume arrivals in order instead of juggling nested callbacks.
//
// All implementations must be safe for concurrent use.
package realtime

import "context"

// EventType identifies the kind of an upstream session event.
type EventType string

const (
	// EventConversationUpdated signals that the conversation state changed,
	// for example a new item was created or an in-progress item was updated.
	EventConversationUpdated EventType = "conversation.updated"

	// EventSpeechInProgress signals that the model has started producing an
	// utterance. Audio for it is not yet complete.
	EventSpeechInProgress EventType = "speech.in_progress"

	// EventSpeechCompleted signals a finished utterance. Audio holds the full
	// PCM16 payload for the utterance and Transcript the generated text.
	EventSpeechCompleted EventType = "speech.completed"

	// EventError carries a vendor-reported error. The session is unusable
	// afterwards; Err holds the cause.
	EventError EventType = "error"
)

// Role values used on speech and conversation events.
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Status values used on speech events.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Event is one upstream occurrence delivered on the session's event channel.
type Event struct {
	Type EventType

	// Role is the speaker the event belongs to ("assistant" or "user").
	// Set on speech and conversation events.
	Role string

	// Status qualifies speech events ("in_progress" or "completed").
	Status string

	// Audio is the little-endian PCM16 payload of a completed utterance.
	// Nil for events that carry no audio.
	Audio []byte

	// Transcript is the text of the utterance, when the vendor provides one.
	Transcript string

	// Err is set on EventError events.
	Err error
}

// Options is the configuration for a new realtime session.
type Options struct {
	// Instructions is the system-level prompt sent to the model.
	Instructions string

	// Voice selects the synthesized voice (vendor-specific identifier).
	Voice string

	// Language hints the spoken language for input transcription (BCP-47).
	Language string

	// TranscriptionModel selects the model used to transcribe caller audio.
	// Empty disables input transcription.
	TranscriptionModel string

	// InputSampleRate is the sample rate of the PCM16 audio the caller will
	// send, in Hz. Vendors that only accept a fixed rate may ignore it.
	InputSampleRate int
}

// SessionHandle represents an open realtime session.
//
// Methods must return quickly; event delivery is channel-based so the relay's
// session goroutine never blocks a vendor receive loop. Callers must call
// Close when done; Close is idempotent.
type SessionHandle interface {
	// SendAudio delivers a raw PCM16 chunk to the vendor for processing.
	// Returns an error if the session is closed or the write fails.
	SendAudio(chunk []byte) error

	// SendText injects a text message into the conversation.
	SendText(text string) error

	// CreateResponse asks the model to produce a response from the audio and
	// text accumulated so far. Vendors with server-side turn detection also
	// create responses on their own; calling this is still safe.
	CreateResponse() error

	// Events returns the ordered stream of upstream events. The channel is
	// closed when the session ends; check Err afterwards to distinguish a
	// clean close from a failure.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly. Only meaningful after the Events channel is closed.
	Err() error

	// Close terminates the session and releases the vendor connection.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime speech backend.
//
// Implementations must be safe for concurrent use; the relay opens one
// session per client connection.
type Provider interface {
	// Connect establishes a new session with the given options. The returned
	// handle is ready to accept audio immediately. The caller owns the handle
	// and is responsible for calling Close.
	Connect(ctx context.Context, opts Options) (SessionHandle, error)
}
