// Package device defines the interfaces and error taxonomy for platform
// audio device acquisition.
//
// The two primary abstractions are:
//
//   - [Input] — the capture side: a microphone stream pulled in fixed-size
//     float32 sample blocks.
//   - [Output] — the playback side: a speaker stream with a monotonic device
//     clock and an absolute-time scheduling primitive.
//
// A [Provider] acquires both. Each acquired device has exactly one owner for
// its lifetime: the capture pipeline owns the Input, the playback scheduler
// owns the Output, and nothing else reads or writes device state directly.
// Ownership is reclaimed by calling Close, which is idempotent on every
// implementation.
//
// This package lives under pkg/ because external code (alternative audio
// host adapters) is expected to implement these interfaces.
package device

import (
	"fmt"
	"time"
)

// Reason is a stable machine-readable cause attached to a [DeviceError].
type Reason string

const (
	// ReasonPermissionDenied means the platform refused access to the device.
	ReasonPermissionDenied Reason = "permission-denied"

	// ReasonNotFound means no matching device exists on the host.
	ReasonNotFound Reason = "not-found"

	// ReasonBusy means the device is exclusively held by another stream.
	ReasonBusy Reason = "busy"

	// ReasonUnknown covers every other host failure.
	ReasonUnknown Reason = "unknown"
)

// DeviceError reports a failed device operation. Device errors during
// acquisition are fatal to the session connect attempt and are surfaced
// verbatim to the caller; they are never retried automatically.
type DeviceError struct {
	// Op is the operation that failed (e.g. "acquire-input", "read").
	Op string

	// Reason is the stable cause code.
	Reason Reason

	// Err is the underlying host error, if any.
	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device: %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("device: %s: %s", e.Op, e.Reason)
}

// Unwrap returns the underlying host error.
func (e *DeviceError) Unwrap() error { return e.Err }

// Input is an acquired capture device. Implementations deliver audio as
// fixed-size blocks of float32 samples in [-1, 1].
//
// ReadBlock and Close may be called from different goroutines; all other
// methods are safe for concurrent use.
type Input interface {
	// SampleRate returns the rate in Hz the device was opened at.
	SampleRate() int

	// ReadBlock blocks until one full sample block has been captured and
	// returns it. The returned slice is owned by the caller. After Close,
	// ReadBlock returns a [DeviceError].
	ReadBlock() ([]float32, error)

	// Close stops the stream and releases the device. Idempotent.
	Close() error
}

// Output is an acquired playback device exposing an absolute-time
// scheduling primitive against a monotonic device clock.
//
// PlayAt must be called from a single goroutine at a time (the playback
// scheduler's single-writer rule); Now and Close are safe for concurrent use.
type Output interface {
	// SampleRate returns the rate in Hz the device was opened at.
	SampleRate() int

	// Now returns the device clock: time elapsed on the playback timeline
	// since the device was acquired. Monotonically non-decreasing.
	Now() time.Duration

	// PlayAt schedules pcm (little-endian int16 mono at the device rate) to
	// begin playing at the given device-clock time. Scheduling in the past
	// is not permitted; callers pass a start >= Now. Successive calls with
	// adjoining intervals play gaplessly.
	PlayAt(pcm []byte, at time.Duration) error

	// Close stops all sound immediately, discards scheduled audio, and
	// releases the device. Idempotent.
	Close() error
}

// Provider acquires audio devices from the platform audio subsystem.
//
// Acquisition may block while the host negotiates device access and fails
// with a [DeviceError] when the device is missing, busy, or forbidden.
type Provider interface {
	// AcquireInput opens the default capture device at the given sample rate,
	// delivering blocks of blockSize samples.
	AcquireInput(sampleRate, blockSize int) (Input, error)

	// AcquireOutput opens the default playback device at the given sample rate.
	AcquireOutput(sampleRate int) (Output, error)
}
