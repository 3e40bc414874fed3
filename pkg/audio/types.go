package audio

import "time"

// Standard sample rates of the duplex stream. Captured microphone audio is
// sent to the remote service at [CaptureRate]; synthesized audio comes back
// at [PlaybackRate]. Both directions are mono PCM16.
const (
	// CaptureRate is the sample rate in Hz of outbound (microphone) audio.
	CaptureRate = 16000

	// PlaybackRate is the sample rate in Hz of inbound (synthesized) audio.
	PlaybackRate = 24000
)

// AudioFrame is an immutable block of audio samples flowing through the
// pipeline — captured from the input device, encoded for transport, or
// decoded from a remote payload and scheduled for playback. A frame is
// consumed exactly once by its destination and never mutated after creation.
type AudioFrame struct {
	// Data is little-endian signed 16-bit PCM.
	Data []byte

	// SampleRate in Hz (16000 outbound, 24000 inbound).
	SampleRate int

	// Channels is always 1 for the duplex stream.
	Channels int

	// Timestamp marks when this frame was created, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of PCM samples per channel in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return len(f.Data) / 2
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the playback duration of the frame at its sample rate.
// Frames with an invalid sample rate report zero duration.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
