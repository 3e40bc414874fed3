// Package audio provides the frame type and the stateless PCM codec used on
// both sides of the duplex stream: float32 sample blocks from the capture
// device are encoded to little-endian PCM16 for transport, and inbound PCM16
// payloads are decoded back to float32 for analysis.
//
// All functions in this package are pure and safe for concurrent use.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// FramingError reports a malformed audio payload: an empty sample block or a
// PCM16 buffer whose length is not a multiple of the sample size. Framing
// errors are logic defects — callers log them and drop the offending frame
// rather than tearing down the session.
type FramingError struct {
	// Op names the codec operation that rejected the payload.
	Op string

	// Len is the offending payload length (samples or bytes, per Op).
	Len int
}

// Error implements the error interface.
func (e *FramingError) Error() string {
	return fmt.Sprintf("audio: %s: malformed payload of length %d", e.Op, e.Len)
}

// EncodePCM16 converts a block of float32 samples in [-1, 1] to little-endian
// signed 16-bit PCM. Each sample is scaled by 32768 and clamped to the int16
// range, the exact inverse of [DecodePCM16], so decode-then-encode reproduces
// a payload byte for byte. An empty block is a [FramingError].
func EncodePCM16(samples []float32) ([]byte, error) {
	if len(samples) == 0 {
		return nil, &FramingError{Op: "encode", Len: 0}
	}
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out, nil
}

// DecodePCM16 converts little-endian signed 16-bit PCM to float32 samples by
// dividing each value by 32768. An odd-length payload is a [FramingError].
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return nil, &FramingError{Op: "decode", Len: len(pcm)}
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / 32768.0
	}
	return out, nil
}

// RMS returns the root-mean-square loudness of a sample block, clamped into
// [0, 1]. An empty block reports zero.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms > 1 {
		return 1
	}
	return rms
}

// ToTransportText encodes a binary payload into the transport-safe text form
// used by the remote channel protocols (standard base64).
func ToTransportText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// FromTransportText decodes the transport text form produced by
// [ToTransportText]. Round-trip identity holds for every byte payload.
func FromTransportText(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: transport text decode: %w", err)
	}
	return b, nil
}
