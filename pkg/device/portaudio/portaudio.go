// Package portaudio implements the device interfaces on top of the PortAudio
// host API via github.com/gordonklaus/portaudio.
//
// A [Host] wraps PortAudio initialisation and acts as the [device.Provider].
// Inputs capture float32 blocks directly from the default input stream;
// outputs realise the absolute-time [device.Output.PlayAt] primitive with a
// sample-counting device clock: scheduling ahead of the clock writes the
// intervening gap as silence, so back-to-back schedules play gaplessly and
// the clock never runs backwards.
package portaudio

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/voxwire/voxwire/pkg/device"
)

// Compile-time assertions that the adapter satisfies the device interfaces.
var (
	_ device.Provider = (*Host)(nil)
	_ device.Input    = (*input)(nil)
	_ device.Output   = (*output)(nil)
)

// outputBufferFrames is the PortAudio write-buffer size for playback streams.
// Smaller buffers lower scheduling latency at the cost of more host writes.
const outputBufferFrames = 1024

// Host is a [device.Provider] backed by the PortAudio host API. Create one
// with [New] and release it with [Host.Close] after all acquired devices
// have been closed.
type Host struct {
	closeOnce sync.Once
	closed    atomic.Bool
}

// New initialises the PortAudio host API and returns a [Host].
func New() (*Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, classify("initialize", err)
	}
	return &Host{}, nil
}

// AcquireInput opens the default capture device. The stream starts
// immediately so that the device stays hot for the session's lifetime.
func (h *Host) AcquireInput(sampleRate, blockSize int) (device.Input, error) {
	if sampleRate <= 0 || blockSize <= 0 {
		return nil, &device.DeviceError{Op: "acquire-input", Reason: device.ReasonUnknown,
			Err: fmt.Errorf("invalid rate %d or block size %d", sampleRate, blockSize)}
	}

	in := &input{
		sampleRate: sampleRate,
		buf:        make([]float32, blockSize),
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), blockSize, in.buf)
	if err != nil {
		return nil, classify("acquire-input", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, classify("acquire-input", err)
	}
	in.stream = stream
	return in, nil
}

// AcquireOutput opens the default playback device.
func (h *Host) AcquireOutput(sampleRate int) (device.Output, error) {
	if sampleRate <= 0 {
		return nil, &device.DeviceError{Op: "acquire-output", Reason: device.ReasonUnknown,
			Err: fmt.Errorf("invalid rate %d", sampleRate)}
	}

	out := &output{
		sampleRate: sampleRate,
		buf:        make([]int16, outputBufferFrames),
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), outputBufferFrames, out.buf)
	if err != nil {
		return nil, classify("acquire-output", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, classify("acquire-output", err)
	}
	out.stream = stream
	return out, nil
}

// Check reports whether the host API is still initialised. Used as a
// readiness probe.
func (h *Host) Check() error {
	if h.closed.Load() {
		return fmt.Errorf("portaudio: host terminated")
	}
	return nil
}

// Close terminates the PortAudio host API. Idempotent. Acquired devices must
// be closed first.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		portaudio.Terminate()
	})
	return nil
}

// classify maps a PortAudio host error onto the stable [device.Reason]
// codes. PortAudio reports causes as message text, so the mapping matches on
// the well-known phrases of the C library.
func classify(op string, err error) *device.DeviceError {
	reason := device.ReasonUnknown
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no default") || strings.Contains(msg, "invalid device") ||
		strings.Contains(msg, "no device"):
		reason = device.ReasonNotFound
	case strings.Contains(msg, "unavailable") || strings.Contains(msg, "in use"):
		reason = device.ReasonBusy
	case strings.Contains(msg, "denied") || strings.Contains(msg, "permission"):
		reason = device.ReasonPermissionDenied
	}
	return &device.DeviceError{Op: op, Reason: reason, Err: err}
}

// ── input ─────────────────────────────────────────────────────────────────────

type input struct {
	stream     *portaudio.Stream
	sampleRate int
	buf        []float32

	mu     sync.Mutex
	closed bool
}

func (in *input) SampleRate() int { return in.sampleRate }

// ReadBlock blocks until the stream has filled one block and returns a copy
// of it.
func (in *input) ReadBlock() ([]float32, error) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil, &device.DeviceError{Op: "read", Reason: device.ReasonUnknown,
			Err: fmt.Errorf("input closed")}
	}
	in.mu.Unlock()

	if err := in.stream.Read(); err != nil {
		return nil, classify("read", err)
	}
	block := make([]float32, len(in.buf))
	copy(block, in.buf)
	return block, nil
}

// Close stops and releases the capture stream. Idempotent.
func (in *input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true
	_ = in.stream.Stop()
	return in.stream.Close()
}

// ── output ────────────────────────────────────────────────────────────────────

type output struct {
	stream     *portaudio.Stream
	sampleRate int
	buf        []int16

	// head counts samples appended to the playback timeline (flushed to the
	// host or staged in pending). The device clock is derived from it, so
	// Now is exactly the start position of the next appended sample.
	head atomic.Int64

	mu      sync.Mutex
	pending []int16 // staged samples shorter than one host buffer
	closed  bool
}

func (o *output) SampleRate() int { return o.sampleRate }

// Now returns the playback timeline position: the device-clock time at
// which the next appended sample will begin.
func (o *output) Now() time.Duration {
	return time.Duration(o.head.Load()) * time.Second / time.Duration(o.sampleRate)
}

// PlayAt appends pcm so that it begins at the requested device-clock time.
// A start beyond the current clock is realised by appending the gap as
// silence; a start at the clock appends directly, giving gapless playback
// for adjoining schedules.
func (o *output) PlayAt(pcm []byte, at time.Duration) error {
	if len(pcm)%2 != 0 {
		return &device.DeviceError{Op: "play", Reason: device.ReasonUnknown,
			Err: fmt.Errorf("odd PCM length %d", len(pcm))}
	}

	if gap := at - o.Now(); gap > 0 {
		silence := int(gap * time.Duration(o.sampleRate) / time.Second)
		if err := o.appendSamples(make([]int16, silence)); err != nil {
			return err
		}
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return o.appendSamples(samples)
}

// appendSamples stages samples on the playback timeline and flushes every
// full host buffer. The tail shorter than one buffer stays pending until the
// next append, so consecutive appends stay contiguous with no padding in
// between. Host writes block until the hardware has consumed the buffer,
// which is what paces playback.
func (o *output) appendSamples(samples []int16) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return &device.DeviceError{Op: "play", Reason: device.ReasonUnknown,
			Err: fmt.Errorf("output closed")}
	}

	o.head.Add(int64(len(samples)))
	o.pending = append(o.pending, samples...)

	for len(o.pending) >= len(o.buf) {
		copy(o.buf, o.pending[:len(o.buf)])
		if err := o.stream.Write(); err != nil {
			return classify("play", err)
		}
		o.pending = o.pending[len(o.buf):]
	}
	return nil
}

// Close stops playback immediately and releases the stream. Idempotent.
func (o *output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	_ = o.stream.Abort()
	return o.stream.Close()
}
