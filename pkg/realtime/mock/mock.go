// Package mock provides in-memory mock implementations of the
// [realtime.Dialer] and [realtime.Channel] interfaces for use in unit tests.
//
// The mock channel records every Send payload and lets the test script the
// inbound side: [Channel.PushAudio] and [Channel.PushTranscript] deliver
// payloads as the remote service would, and [Channel.EndStream] simulates
// the remote end closing, cleanly or with a transport error.
//
// All mocks are safe for concurrent use.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/realtime"
)

// Compile-time interface assertions.
var (
	_ realtime.Dialer  = (*Dialer)(nil)
	_ realtime.Channel = (*Channel)(nil)
)

// ─── Dialer ───────────────────────────────────────────────────────────────────

// Dialer is a mock implementation of [realtime.Dialer].
// Set the exported Result/Err fields before use; inspect the recorded
// configs and call counts after.
type Dialer struct {
	mu sync.Mutex

	// Result is returned by Dial when Err is nil. A nil Result makes Dial
	// return a fresh [Channel] on every call, so reconnects get a clean
	// stream each time.
	Result *Channel

	// Channels holds every channel returned by Dial, in order.
	Channels []*Channel

	// Err is returned by Dial.
	Err error

	// VoicesResult is returned by Voices. Defaults to a single "mock" voice.
	VoicesResult []string

	// CallCountDial records how many times Dial was called.
	CallCountDial int

	// DialedConfigs holds every config passed to Dial, in order.
	DialedConfigs []realtime.Config
}

// Dial implements [realtime.Dialer].
func (d *Dialer) Dial(_ context.Context, cfg realtime.Config) (realtime.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.CallCountDial++
	d.DialedConfigs = append(d.DialedConfigs, cfg)
	if d.Err != nil {
		return nil, d.Err
	}
	ch := d.Result
	if ch == nil {
		ch = NewChannel()
	}
	d.Channels = append(d.Channels, ch)
	return ch, nil
}

// LastChannel returns the most recently dialed channel, or nil.
func (d *Dialer) LastChannel() *Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Channels) == 0 {
		return nil
	}
	return d.Channels[len(d.Channels)-1]
}

// Voices implements [realtime.Dialer].
func (d *Dialer) Voices() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.VoicesResult == nil {
		return []string{"mock"}
	}
	return d.VoicesResult
}

// ─── Channel ──────────────────────────────────────────────────────────────────

// Channel is a mock implementation of [realtime.Channel].
type Channel struct {
	// SendErr, when set, is returned by every Send call.
	SendErr error

	mu           sync.Mutex
	sent         [][]byte
	errVal       error
	errorHandler func(error)
	closed       bool
	ended        bool

	audioCh     chan []byte
	transcripts chan realtime.Transcript
	closeOnce   sync.Once
}

// NewChannel creates an open mock channel with buffered inbound streams.
func NewChannel() *Channel {
	return &Channel{
		audioCh:     make(chan []byte, 64),
		transcripts: make(chan realtime.Transcript, 16),
	}
}

// Send implements [realtime.Channel]. It records the payload.
func (c *Channel) Send(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	if c.closed {
		return &realtime.TransportError{Reason: "channel closed"}
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.sent = append(c.sent, buf)
	return nil
}

// Sent returns a snapshot of every payload passed to Send, in order.
func (c *Channel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// PushAudio delivers one inbound audio payload, as the remote service would.
func (c *Channel) PushAudio(pcm []byte) {
	c.audioCh <- pcm
}

// PushTranscript delivers one inbound transcript entry.
func (c *Channel) PushTranscript(speaker realtime.Speaker, text string) {
	c.transcripts <- realtime.Transcript{Speaker: speaker, Text: text, Timestamp: time.Now()}
}

// EmitError invokes the registered OnError callback with err, simulating a
// non-fatal mid-stream error event.
func (c *Channel) EmitError(err error) {
	c.mu.Lock()
	handler := c.errorHandler
	c.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// EndStream simulates the remote end closing the channel. A nil cause is a
// clean close; a non-nil cause is recorded and surfaced via Err. Idempotent.
func (c *Channel) EndStream(cause error) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	if cause != nil && c.errVal == nil {
		c.errVal = cause
	}
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.audioCh)
		close(c.transcripts)
	})
}

// Audio implements [realtime.Channel].
func (c *Channel) Audio() <-chan []byte { return c.audioCh }

// Transcripts implements [realtime.Channel].
func (c *Channel) Transcripts() <-chan realtime.Transcript { return c.transcripts }

// OnError implements [realtime.Channel].
func (c *Channel) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorHandler = fn
}

// Err implements [realtime.Channel].
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close implements [realtime.Channel]. Idempotent; it also ends the inbound
// streams so consumers observe the channel ending.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.ended = true
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.audioCh)
		close(c.transcripts)
	})
	return nil
}
