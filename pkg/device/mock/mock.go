// Package mock provides in-memory mock implementations of the
// [device.Provider], [device.Input], and [device.Output] interfaces for use
// in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values. The mock
// output's device clock is advanced manually with [Output.SetNow], making
// playback-scheduling behaviour fully deterministic.
//
// Typical usage:
//
//	out := &mock.Output{Rate: 24000}
//	in := &mock.Input{Rate: 16000, Blocks: [][]float32{block}}
//	provider := &mock.Provider{InputResult: in, OutputResult: out}
package mock

import (
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/device"
)

// Compile-time interface assertions.
var (
	_ device.Provider = (*Provider)(nil)
	_ device.Input    = (*Input)(nil)
	_ device.Output   = (*Output)(nil)
)

// ─── Provider ─────────────────────────────────────────────────────────────────

// Provider is a mock implementation of [device.Provider].
// Set the exported Result/Err fields before use; inspect the Call* fields after.
type Provider struct {
	mu sync.Mutex

	// InputResult is returned by [Provider.AcquireInput] when InputErr is nil.
	InputResult *Input

	// InputErr is returned by [Provider.AcquireInput].
	InputErr error

	// OutputResult is returned by [Provider.AcquireOutput] when OutputErr is nil.
	OutputResult *Output

	// OutputErr is returned by [Provider.AcquireOutput].
	OutputErr error

	// AcquireDelay, when non-zero, is slept before each acquisition returns.
	// Used to exercise disconnect-during-Connecting races.
	AcquireDelay time.Duration

	// CallCountAcquireInput records how many times AcquireInput was called.
	CallCountAcquireInput int

	// CallCountAcquireOutput records how many times AcquireOutput was called.
	CallCountAcquireOutput int
}

// AcquireInput implements [device.Provider].
func (p *Provider) AcquireInput(sampleRate, blockSize int) (device.Input, error) {
	p.mu.Lock()
	p.CallCountAcquireInput++
	delay := p.AcquireDelay
	in, err := p.InputResult, p.InputErr
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if in != nil && in.Rate == 0 {
		in.Rate = sampleRate
	}
	return in, nil
}

// AcquireOutput implements [device.Provider].
func (p *Provider) AcquireOutput(sampleRate int) (device.Output, error) {
	p.mu.Lock()
	p.CallCountAcquireOutput++
	delay := p.AcquireDelay
	out, err := p.OutputResult, p.OutputErr
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if out != nil && out.Rate == 0 {
		out.Rate = sampleRate
	}
	return out, nil
}

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock implementation of [device.Input]. ReadBlock serves the
// scripted Blocks in order; once they are exhausted it blocks until Close
// (mirroring a quiet microphone that never stops delivering).
type Input struct {
	// Rate is returned by SampleRate.
	Rate int

	// Blocks are served by ReadBlock in order.
	Blocks [][]float32

	// ReadErr, when set, is returned by every ReadBlock call.
	ReadErr error

	mu        sync.Mutex
	next      int
	closed    bool
	closedCh  chan struct{}
	readCount int
}

// SampleRate implements [device.Input].
func (in *Input) SampleRate() int { return in.Rate }

// ReadBlock implements [device.Input]. It returns the next scripted block,
// or blocks until Close once the script runs out.
func (in *Input) ReadBlock() ([]float32, error) {
	in.mu.Lock()
	if in.closedCh == nil {
		in.closedCh = make(chan struct{})
	}
	in.readCount++
	if in.closed {
		in.mu.Unlock()
		return nil, &device.DeviceError{Op: "read", Reason: device.ReasonUnknown}
	}
	if in.ReadErr != nil {
		err := in.ReadErr
		in.mu.Unlock()
		return nil, err
	}
	if in.next < len(in.Blocks) {
		block := in.Blocks[in.next]
		in.next++
		in.mu.Unlock()
		return block, nil
	}
	ch := in.closedCh
	in.mu.Unlock()

	<-ch
	return nil, &device.DeviceError{Op: "read", Reason: device.ReasonUnknown}
}

// ReadCount returns how many times ReadBlock was called.
func (in *Input) ReadCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.readCount
}

// Closed reports whether Close has been called.
func (in *Input) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// Close implements [device.Input]. Idempotent; unblocks pending ReadBlock.
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true
	if in.closedCh == nil {
		in.closedCh = make(chan struct{})
	}
	close(in.closedCh)
	return nil
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Scheduled records one PlayAt call on a mock [Output].
type Scheduled struct {
	// PCM is the payload passed to PlayAt.
	PCM []byte

	// Start is the device-clock time the payload was scheduled at.
	Start time.Duration
}

// Output is a mock implementation of [device.Output] with a manually
// advanced device clock and a log of every scheduled payload.
type Output struct {
	// Rate is returned by SampleRate.
	Rate int

	// PlayErr, when set, is returned by every PlayAt call.
	PlayErr error

	mu        sync.Mutex
	now       time.Duration
	scheduled []Scheduled
	closed    bool
}

// SampleRate implements [device.Output].
func (o *Output) SampleRate() int { return o.Rate }

// Now implements [device.Output]. It returns the value last set with SetNow.
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SetNow moves the mock device clock to t.
func (o *Output) SetNow(t time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t > o.now {
		o.now = t
	}
}

// PlayAt implements [device.Output]. It records the schedule without
// advancing the clock.
func (o *Output) PlayAt(pcm []byte, at time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return &device.DeviceError{Op: "play", Reason: device.ReasonUnknown}
	}
	if o.PlayErr != nil {
		return o.PlayErr
	}
	o.scheduled = append(o.scheduled, Scheduled{PCM: pcm, Start: at})
	return nil
}

// Schedule returns a snapshot of every PlayAt call so far, in order.
func (o *Output) Schedule() []Scheduled {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Scheduled, len(o.scheduled))
	copy(out, o.scheduled)
	return out
}

// Closed reports whether Close has been called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Close implements [device.Output]. Idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}
