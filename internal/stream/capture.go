package stream

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/device"
)

// SendFunc delivers one encoded capture frame to the remote service. The
// session wires this to its channel's Send; a returned error is fatal to the
// capture run.
type SendFunc func(frame audio.AudioFrame) error

// Capture pulls fixed-size sample blocks from an acquired input device,
// measures their loudness, encodes them to PCM16, and hands them to a
// [SendFunc].
//
// Capture owns its [device.Input] exclusively from Start until Stop; Stop
// closes the device. While muted the device keeps running hot but blocks are
// discarded before encoding and the loudness meter reads zero, so unmuting
// resumes instantly with no reacquisition.
type Capture struct {
	in      device.Input
	send    SendFunc
	meter   *Meter
	onFatal func(error)

	muted atomic.Bool

	stopOnce  sync.Once
	fatalOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewCapture creates a capture pipeline over an acquired input device.
// onFatal is invoked at most once, from a fresh goroutine, when the device
// fails mid-stream or send returns an error; it may call [Capture.Stop].
func NewCapture(in device.Input, send SendFunc, meter *Meter, onFatal func(error)) *Capture {
	return &Capture{
		in:      in,
		send:    send,
		meter:   meter,
		onFatal: onFatal,
		done:    make(chan struct{}),
	}
}

// Start launches the capture loop. Call exactly once.
func (c *Capture) Start() {
	c.wg.Add(1)
	go c.loop()
}

// SetMuted toggles the mute gate. Takes effect on the next block boundary.
func (c *Capture) SetMuted(muted bool) {
	c.muted.Store(muted)
	if muted {
		c.meter.Reset()
	}
}

// Muted reports the current mute gate state.
func (c *Capture) Muted() bool { return c.muted.Load() }

// Stop halts the loop, closes the input device, and waits for the loop
// goroutine to exit. Idempotent and safe to call concurrently.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		// Closing the device unblocks a pending ReadBlock.
		if err := c.in.Close(); err != nil {
			slog.Warn("closing capture device", "error", err)
		}
	})
	c.wg.Wait()
}

func (c *Capture) loop() {
	defer c.wg.Done()

	start := time.Now()
	for {
		select {
		case <-c.done:
			return
		default:
		}

		block, err := c.in.ReadBlock()
		if err != nil {
			select {
			case <-c.done:
				// Stop closed the device; the read error is expected.
				return
			default:
			}
			c.fatal(err)
			return
		}

		if c.muted.Load() {
			// Device stays hot; the block never reaches the encoder.
			continue
		}

		c.meter.Observe(audio.RMS(block))

		pcm, err := audio.EncodePCM16(block)
		if err != nil {
			// Malformed blocks are dropped here and never reach the session.
			var fe *audio.FramingError
			if errors.As(err, &fe) {
				slog.Warn("dropping malformed capture block", "error", err)
				continue
			}
			c.fatal(err)
			return
		}

		frame := audio.AudioFrame{
			Data:       pcm,
			SampleRate: c.in.SampleRate(),
			Channels:   1,
			Timestamp:  time.Since(start),
		}
		if err := c.send(frame); err != nil {
			c.fatal(err)
			return
		}
	}
}

// fatal reports a terminal capture error exactly once. The callback runs on
// its own goroutine so it can call Stop without deadlocking against the loop.
func (c *Capture) fatal(err error) {
	c.fatalOnce.Do(func() {
		if c.onFatal != nil {
			go c.onFatal(err)
		}
	})
}
