package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/device"
)

// SchedulerOption is a functional option for configuring a [Scheduler].
type SchedulerOption func(*Scheduler)

// WithGapHandler registers a callback invoked whenever the playback cursor is
// reset forward after a silence gap in the inbound stream. The callback
// receives the gap length and runs on the scheduling goroutine.
func WithGapHandler(fn func(gap time.Duration)) SchedulerOption {
	return func(s *Scheduler) { s.onGap = fn }
}

// WithDropHandler registers a callback invoked whenever a malformed inbound
// frame is discarded at the codec boundary.
func WithDropHandler(fn func()) SchedulerOption {
	return func(s *Scheduler) { s.onDrop = fn }
}

// tapEntry records the loudness of one scheduled frame so [Scheduler.Level]
// can report what is audible right now rather than what arrived last.
type tapEntry struct {
	start time.Duration
	end   time.Duration
	rms   float64
}

// Scheduler plays inbound PCM16 frames gaplessly on an acquired output
// device.
//
// It keeps a single cursor on the device clock marking where the next frame
// begins. While frames arrive faster than real time the cursor runs ahead of
// the clock and frames are queued back to back with no silence in between.
// When the stream pauses and the cursor falls behind the clock, the next
// frame snaps the cursor forward to the current clock reading and starts a
// new contiguous run. No frame is ever scheduled in the past.
//
// Scheduler owns its [device.Output] exclusively; Close releases it. Schedule
// must be called from a single goroutine (the session's consume loop); Level,
// Cursor, and Close are safe to call concurrently with it.
type Scheduler struct {
	out    device.Output
	onGap  func(time.Duration)
	onDrop func()

	mu      sync.Mutex
	cursor  time.Duration
	started bool
	closed  bool
	tap     []tapEntry
}

// NewScheduler creates a playback scheduler over an acquired output device.
func NewScheduler(out device.Output, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{out: out}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule queues one inbound frame for playback at the cursor. Frames whose
// payload is not whole int16 samples are logged and dropped; they never
// surface to the caller. A device failure is returned and is fatal to the
// playback run.
func (s *Scheduler) Schedule(frame audio.AudioFrame) error {
	// Validate framing on the payload as it arrived; resampling would mask an
	// odd-length buffer by truncating it to whole samples.
	samples, err := audio.DecodePCM16(frame.Data)
	if err != nil {
		var fe *audio.FramingError
		if errors.As(err, &fe) {
			slog.Warn("dropping malformed playback frame", "error", err, "len", len(frame.Data))
			if s.onDrop != nil {
				s.onDrop()
			}
			return nil
		}
		return err
	}

	pcm := frame.Data
	rate := frame.SampleRate
	if rate != s.out.SampleRate() {
		pcm = audio.ResampleMono16(pcm, rate, s.out.SampleRate())
		rate = s.out.SampleRate()
	}
	if len(pcm) == 0 {
		return nil
	}
	d := time.Duration(len(pcm)/2) * time.Second / time.Duration(rate)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("stream: scheduler closed")
	}

	now := s.out.Now()
	if s.cursor < now {
		gap := now - s.cursor
		s.cursor = now
		if s.started && s.onGap != nil {
			s.onGap(gap)
		}
	}
	start := s.cursor

	if err := s.out.PlayAt(pcm, start); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("stream: scheduling playback: %w", err)
	}
	s.cursor = start + d
	s.started = true
	s.pruneTapLocked(now)
	s.tap = append(s.tap, tapEntry{start: start, end: start + d, rms: audio.RMS(samples)})
	s.mu.Unlock()
	return nil
}

// Cursor returns the device-clock time where the next frame would begin.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Level returns the loudness of the frame audible at the device clock right
// now, or 0 during silence.
func (s *Scheduler) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	now := s.out.Now()
	s.pruneTapLocked(now)
	for _, e := range s.tap {
		if e.start <= now && now < e.end {
			return e.rms
		}
	}
	return 0
}

// pruneTapLocked drops tap entries that finished playing before now.
func (s *Scheduler) pruneTapLocked(now time.Duration) {
	i := 0
	for i < len(s.tap) && s.tap[i].end <= now {
		i++
	}
	if i > 0 {
		s.tap = s.tap[i:]
	}
}

// Close stops playback immediately, discards queued audio, and releases the
// output device. Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.tap = nil
	s.mu.Unlock()

	return s.out.Close()
}
