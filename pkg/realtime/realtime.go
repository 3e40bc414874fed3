// Package realtime defines the interface to the remote bidirectional
// streaming service that powers live voice and streaming transcription.
//
// A [Dialer] opens a [Channel]: a long-lived duplex connection that accepts
// outbound PCM16 audio frames and delivers synthesized audio, capture-side
// transcripts, and lifecycle errors back to the caller. The channel's
// configuration is immutable for its lifetime — changing the voice or
// modality requires dialing a fresh channel.
//
// Delivery guarantees: audio payloads and transcripts are delivered in
// arrival order, at most once each. The Audio channel closing is the
// channel-closed event; [Channel.Err] distinguishes a clean remote close
// from a transport failure.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"fmt"
	"time"
)

// Modality selects what the remote service streams back.
type Modality string

const (
	// ModalityAudio requests synthesized speech frames.
	ModalityAudio Modality = "audio"

	// ModalityText requests text only (streaming transcription mode).
	ModalityText Modality = "text"
)

// IsValid reports whether m is a recognised modality.
func (m Modality) IsValid() bool {
	return m == ModalityAudio || m == ModalityText
}

// Config is the immutable configuration a [Channel] is dialed with.
type Config struct {
	// Voice selects the synthesized voice from the dialer's fixed named set.
	// Empty selects the service default.
	Voice string

	// SystemPrompt is the system-level instruction text for the session.
	SystemPrompt string

	// Language is a BCP 47 tag hint for recognition and synthesis.
	Language string

	// ResponseModality selects audio or text responses.
	ResponseModality Modality

	// TranscriptionEnabled requests capture-side transcripts of user speech.
	TranscriptionEnabled bool
}

// Speaker identifies the origin of a [Transcript] entry.
type Speaker string

const (
	// SpeakerUser marks recognised user speech.
	SpeakerUser Speaker = "user"

	// SpeakerModel marks the text form of the model's response.
	SpeakerModel Speaker = "model"
)

// Transcript is one text entry delivered on [Channel.Transcripts].
type Transcript struct {
	// Speaker is the origin of the text.
	Speaker Speaker

	// Text is the transcript content.
	Text string

	// Timestamp is when the entry was received.
	Timestamp time.Time
}

// TransportError reports a channel that failed to open, rejected its
// configuration, or closed mid-stream with a non-normal code. Transport
// errors are fatal to the session and are never retried automatically.
type TransportError struct {
	// Code is the protocol-level close or rejection code, when known.
	Code int

	// Reason is the human-readable cause.
	Reason string

	// Err is the underlying transport error, if any.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("realtime: transport error (code %d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("realtime: transport error: %s", e.Reason)
}

// Unwrap returns the underlying transport error.
func (e *TransportError) Unwrap() error { return e.Err }

// Channel is an open duplex connection to the remote streaming service.
//
// The channel is the hot path of the duplex audio engine — Send must return
// quickly and inbound delivery is channel-based so the transport's receive
// loop is never blocked by a slow consumer for long. Neither pipeline that
// borrows a send or receive capability may close the channel; the owning
// session calls Close.
//
// Callers must call Close when the channel is no longer needed.
type Channel interface {
	// Send delivers one PCM16 audio payload to the service. It is
	// fire-and-forget from the caller's perspective: there is no delivery
	// acknowledgement and no backpressure. Payloads are transmitted in call
	// order. Returns an error if the channel is closed or the transport
	// rejects the write.
	Send(pcm []byte) error

	// Audio returns a read-only channel emitting synthesized PCM16 payloads
	// in arrival order. It is closed when the remote channel ends, cleanly
	// or not; check [Channel.Err] afterwards to tell the two apart.
	Audio() <-chan []byte

	// Transcripts returns a read-only channel emitting [Transcript] entries.
	// Closed together with Audio. Empty stream when transcription was not
	// enabled in the dial config.
	Transcripts() <-chan Transcript

	// OnError registers a callback for non-fatal error events surfaced by
	// the service mid-stream. Only one callback may be registered at a time;
	// subsequent calls replace it. The callback runs on the channel's
	// receive goroutine and must not block.
	OnError(fn func(error))

	// Err returns the [TransportError] (or other cause) that terminated the
	// channel, or nil while it is open or after a clean close.
	Err() error

	// Close terminates the channel and releases the connection. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Dialer opens channels against one remote streaming backend.
//
// Implementations must be safe for concurrent use.
type Dialer interface {
	// Dial establishes a new channel with the given configuration. The
	// returned Channel is ready to accept audio. Returns a [TransportError]
	// when the service is unreachable or rejects the configuration, or
	// ctx's error when the attempt is cancelled.
	Dial(ctx context.Context, cfg Config) (Channel, error)

	// Voices returns the fixed named set of synthesized voices this backend
	// offers. The set is constant for the dialer's lifetime.
	Voices() []string
}
