// Package stream implements the duplex audio streaming engine: the capture
// pipeline, the gapless playback scheduler, the loudness meters, and the
// session state machine that owns them all.
//
// A [Session] is the unit of conversation. Connecting acquires both audio
// devices, dials the remote channel, and starts the two pipelines; any
// failure along the way, and any transport failure later, tears the whole
// thing down again. Pipelines never outlive their session, and a session
// that has returned to [StateIdle] can be connected again.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/device"
	"github.com/voxwire/voxwire/pkg/realtime"
)

// State is the lifecycle state of a [Session].
type State int

const (
	// StateIdle means no devices are held and no channel is open.
	StateIdle State = iota

	// StateConnecting means devices are being acquired and the channel dialed.
	StateConnecting

	// StateConnected means both pipelines are running.
	StateConnected

	// StateClosing means an orderly teardown is in progress.
	StateClosing

	// StateFailed means teardown was triggered by an error; the session
	// passes through it on the way back to idle. The cause is retained in
	// [Session.LastErr].
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Capabilities selects which halves of the duplex engine a session runs.
// Live voice uses both; streaming transcription runs capture plus transcripts
// with no playback device at all.
type Capabilities struct {
	// Playback attaches an output device and the playback scheduler, and
	// requests audio responses from the remote service.
	Playback bool

	// Transcripts requests text transcripts and surfaces them on
	// [Session.Transcripts].
	Transcripts bool
}

// Config carries the per-conversation parameters of a [Session].
type Config struct {
	// Voice selects the synthesized voice. Changing it requires a reconnect;
	// see [Session.SetVoice].
	Voice string

	// SystemPrompt is the system-level instruction text for the conversation.
	SystemPrompt string

	// Language is a BCP 47 tag hint for recognition and synthesis.
	Language string

	// Capabilities selects which pipelines run. Zero value runs capture only.
	Capabilities Capabilities

	// CaptureRate is the input device rate in Hz. Default 16000.
	CaptureRate int

	// PlaybackRate is the output device rate in Hz. Default 24000.
	PlaybackRate int

	// BlockSize is the capture block size in samples. Default 4096.
	BlockSize int
}

// DefaultBlockSize is the capture block size used when none is configured.
// At 16 kHz one block is 256 ms of audio.
const DefaultBlockSize = 4096

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithMetrics overrides the metrics instance, primarily for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithStateListener registers a callback invoked on every state transition.
// It runs synchronously on the transitioning goroutine and must not block.
func WithStateListener(fn func(State)) Option {
	return func(s *Session) { s.onState = fn }
}

// Session is the streaming session state machine. It owns the capture
// pipeline, the playback scheduler, and the remote channel for exactly one
// conversation at a time, and is safe for concurrent use.
type Session struct {
	id      string
	devices device.Provider
	dialer  realtime.Dialer
	metrics *observe.Metrics
	onState func(State)

	captureMeter *Meter
	transcripts  chan realtime.Transcript

	mu      sync.Mutex
	cfg     Config
	state   State
	gen     int // bumped on every teardown so stale goroutines stand down
	muted   bool
	lastErr error
	capture *Capture
	sched   *Scheduler
	channel realtime.Channel
}

// New creates an idle session. The same session can be connected and
// disconnected repeatedly; config defaults are applied once here.
func New(devices device.Provider, dialer realtime.Dialer, cfg Config, opts ...Option) *Session {
	if cfg.CaptureRate == 0 {
		cfg.CaptureRate = audio.CaptureRate
	}
	if cfg.PlaybackRate == 0 {
		cfg.PlaybackRate = audio.PlaybackRate
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}

	s := &Session{
		id:           uuid.NewString(),
		devices:      devices,
		dialer:       dialer,
		cfg:          cfg,
		captureMeter: &Meter{},
		transcripts:  make(chan realtime.Transcript, 32),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastErr returns the diagnostic from the most recent failure, or nil. It is
// retained across the return to idle so a UI can display why the
// conversation ended.
func (s *Session) LastErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Transcripts returns the channel on which transcript entries arrive when
// the Transcripts capability is enabled. The channel is stable across
// reconnects and is never closed; entries are dropped when the consumer
// falls more than a buffer behind.
func (s *Session) Transcripts() <-chan realtime.Transcript { return s.transcripts }

// Voices returns the fixed voice set offered by the session's backend.
func (s *Session) Voices() []string { return s.dialer.Voices() }

// CaptureLevel returns the decayed microphone loudness in [0, 1]. Zero while
// muted or idle.
func (s *Session) CaptureLevel() float64 { return s.captureMeter.Level() }

// PlaybackLevel returns the loudness of the audio playing right now, or 0
// when nothing is playing or playback is not attached.
func (s *Session) PlaybackLevel() float64 {
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if sched == nil {
		return 0
	}
	return sched.Level()
}

// Muted reports the mute gate state.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SetMuted toggles the mute gate. It takes effect immediately, causes no
// state transition, and persists across reconnects.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	capture := s.capture
	s.mu.Unlock()

	if capture != nil {
		capture.SetMuted(muted)
	} else if muted {
		s.captureMeter.Reset()
	}
}

// SetVoice changes the synthesized voice. The channel configuration is
// immutable once dialed, so while connected this performs a full disconnect
// and reconnect with the new voice.
func (s *Session) SetVoice(ctx context.Context, voice string) error {
	s.mu.Lock()
	s.cfg.Voice = voice
	connected := s.state == StateConnected
	s.mu.Unlock()

	if !connected {
		return nil
	}
	s.Disconnect()
	return s.Connect(ctx)
}

// Connect runs the full connect sequence: acquire the input device, acquire
// the output device when playback is enabled, dial the remote channel, and
// start both pipelines. It is a no-op returning nil unless the session is
// idle. Any failure tears down whatever was already acquired and returns the
// cause; the session is idle again afterwards and Connect may be retried by
// the caller.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.lastErr = nil
	gen := s.gen
	cfg := s.cfg
	muted := s.muted
	s.mu.Unlock()
	s.notify(StateConnecting)

	slog.Info("session connecting",
		"session_id", s.id,
		"voice", cfg.Voice,
		"playback", cfg.Capabilities.Playback,
		"transcripts", cfg.Capabilities.Transcripts,
	)

	in, err := s.devices.AcquireInput(cfg.CaptureRate, cfg.BlockSize)
	if err != nil {
		return s.failConnect(gen, fmt.Errorf("acquiring input device: %w", err))
	}

	var out device.Output
	if cfg.Capabilities.Playback {
		out, err = s.devices.AcquireOutput(cfg.PlaybackRate)
		if err != nil {
			in.Close()
			return s.failConnect(gen, fmt.Errorf("acquiring output device: %w", err))
		}
	}

	modality := realtime.ModalityText
	if cfg.Capabilities.Playback {
		modality = realtime.ModalityAudio
	}
	ch, err := s.dialer.Dial(ctx, realtime.Config{
		Voice:                cfg.Voice,
		SystemPrompt:         cfg.SystemPrompt,
		Language:             cfg.Language,
		ResponseModality:     modality,
		TranscriptionEnabled: cfg.Capabilities.Transcripts,
	})
	if err != nil {
		in.Close()
		if out != nil {
			out.Close()
		}
		return s.failConnect(gen, fmt.Errorf("dialing channel: %w", err))
	}

	// Commit. A Disconnect that raced the sequence above bumped gen; in that
	// case the freshly acquired resources are released and the result
	// discarded.
	s.mu.Lock()
	if s.state != StateConnecting || s.gen != gen {
		s.mu.Unlock()
		in.Close()
		if out != nil {
			out.Close()
		}
		ch.Close()
		return nil
	}

	var sched *Scheduler
	if out != nil {
		sched = NewScheduler(out,
			WithGapHandler(s.recordGap),
			WithDropHandler(func() {
				s.metrics.FramesDropped.Add(context.Background(), 1)
			}),
		)
	}

	send := func(frame audio.AudioFrame) error {
		if err := ch.Send(frame.Data); err != nil {
			return err
		}
		s.metrics.FramesSent.Add(context.Background(), 1)
		return nil
	}
	capture := NewCapture(in, send, s.captureMeter, func(err error) {
		s.teardown(err, gen)
	})
	capture.SetMuted(muted)

	ch.OnError(func(err error) {
		slog.Warn("service error event", "session_id", s.id, "error", err)
	})

	s.capture = capture
	s.sched = sched
	s.channel = ch
	s.state = StateConnected
	s.mu.Unlock()

	capture.Start()
	go s.consume(gen, ch, sched)
	if cfg.Capabilities.Transcripts {
		go s.forwardTranscripts(ch)
	}

	s.metrics.ActiveSessions.Add(context.Background(), 1)
	s.notify(StateConnected)
	slog.Info("session connected", "session_id", s.id)
	return nil
}

// Disconnect tears the session down from any state and returns when both
// devices are released and the channel is closed. No-op when idle.
func (s *Session) Disconnect() {
	s.teardown(nil, -1)
}

// failConnect aborts a connect attempt whose devices and channel are already
// released, records the diagnostic, and returns err.
func (s *Session) failConnect(gen int, err error) error {
	s.mu.Lock()
	if s.state != StateConnecting || s.gen != gen {
		// A concurrent Disconnect already moved the session on.
		s.mu.Unlock()
		return err
	}
	s.state = StateFailed
	s.lastErr = err
	s.gen++
	s.mu.Unlock()
	s.notify(StateFailed)

	s.metrics.RecordFailure(context.Background(), errorKind(err))
	slog.Error("session connect failed", "session_id", s.id, "error", err)

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.notify(StateIdle)
	return err
}

// teardown moves the session back to idle, stopping the pipelines and
// releasing both devices in order: capture first, then playback, then the
// channel handle. gen < 0 means "whatever is current" (a user-initiated
// Disconnect); otherwise a stale gen makes the call a no-op so pipeline
// goroutines from a previous conversation cannot kill the next one.
func (s *Session) teardown(cause error, gen int) {
	s.mu.Lock()
	if gen >= 0 && gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.state == StateIdle || s.state == StateClosing || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	wasConnected := s.state == StateConnected
	next := StateClosing
	if cause != nil {
		next = StateFailed
		s.lastErr = cause
	}
	s.state = next
	s.gen++
	capture, sched, ch := s.capture, s.sched, s.channel
	s.capture, s.sched, s.channel = nil, nil, nil
	s.mu.Unlock()
	s.notify(next)

	if cause != nil {
		s.metrics.RecordFailure(context.Background(), errorKind(cause))
		slog.Error("session failed", "session_id", s.id, "error", cause)
	} else {
		slog.Info("session closing", "session_id", s.id)
	}

	if capture != nil {
		capture.Stop()
	}
	if sched != nil {
		sched.Close()
	}
	if ch != nil {
		ch.Close()
	}
	s.captureMeter.Reset()

	if wasConnected {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.notify(StateIdle)
	slog.Info("session idle", "session_id", s.id)
}

// consume is the single reader of the channel's inbound audio stream. It
// schedules frames for playback and, when the stream ends, routes the cause
// into teardown: a nil Err is a clean remote close, anything else is fatal.
func (s *Session) consume(gen int, ch realtime.Channel, sched *Scheduler) {
	failed := false
	for pcm := range ch.Audio() {
		s.metrics.FramesReceived.Add(context.Background(), 1)
		if sched == nil || failed {
			continue
		}
		frame := audio.AudioFrame{
			Data:       pcm,
			SampleRate: audio.PlaybackRate,
			Channels:   1,
		}
		if err := sched.Schedule(frame); err != nil {
			failed = true
			go s.teardown(err, gen)
		}
	}
	if !failed {
		s.teardown(ch.Err(), gen)
	}
}

// forwardTranscripts fans transcript entries out to the session's stable
// channel. A consumer that stops reading loses entries rather than stalling
// the transport's receive loop.
func (s *Session) forwardTranscripts(ch realtime.Channel) {
	for entry := range ch.Transcripts() {
		select {
		case s.transcripts <- entry:
		default:
			slog.Debug("dropping transcript entry", "session_id", s.id, "speaker", entry.Speaker)
		}
	}
}

// recordGap is the scheduler's gap callback.
func (s *Session) recordGap(gap time.Duration) {
	ctx := context.Background()
	s.metrics.PlaybackGaps.Add(ctx, 1)
	s.metrics.GapLength.Record(ctx, gap.Seconds())
	slog.Debug("playback cursor reset", "session_id", s.id, "gap", gap)
}

// notify records the transition and invokes the state listener, if any.
func (s *Session) notify(state State) {
	s.metrics.RecordTransition(context.Background(), state.String())
	if s.onState != nil {
		s.onState(state)
	}
}

// errorKind maps an error to a stable label for the failure counter.
func errorKind(err error) string {
	var de *device.DeviceError
	if errors.As(err, &de) {
		return "device"
	}
	var te *realtime.TransportError
	if errors.As(err, &te) {
		return "transport"
	}
	return "other"
}
