// Package openai implements the realtime.Dialer interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio travels as transport-text PCM16 chunks in both directions.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/realtime"
)

// Compile-time assertions that Dialer and channel satisfy the realtime interfaces.
var (
	_ realtime.Dialer  = (*Dialer)(nil)
	_ realtime.Channel = (*channel)(nil)
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// voices is the fixed named set of Realtime API voices.
var voices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the OpenAI model used for channels.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer implements realtime.Dialer for OpenAI's Realtime API.
type Dialer struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Voices returns the voice names offered by the Realtime API.
func (d *Dialer) Voices() []string {
	out := make([]string, len(voices))
	copy(out, voices)
	return out
}

// Dial establishes a new Realtime channel with the given configuration. The
// returned channel is ready to accept audio once the session.update message
// has been written.
func (d *Dialer) Dial(ctx context.Context, cfg realtime.Config) (realtime.Channel, error) {
	wsURL := fmt.Sprintf("%s?model=%s", d.baseURL, d.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + d.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, &realtime.TransportError{Reason: "dial failed", Err: err}
	}

	chCtx, chCancel := context.WithCancel(context.Background())
	ch := &channel{
		conn:        conn,
		audioCh:     make(chan []byte, 64),
		transcripts: make(chan realtime.Transcript, 16),
		ctx:         chCtx,
		cancel:      chCancel,
	}

	if err := ch.sendSessionUpdate(cfg); err != nil {
		chCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, &realtime.TransportError{Reason: "session update failed", Err: err}
	}

	go ch.receiveLoop()

	return ch, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities        []string           `json:"modalities,omitempty"`
	Voice             string             `json:"voice,omitempty"`
	Instructions      string             `json:"instructions,omitempty"`
	InputAudioFormat  string             `json:"input_audio_format"`
	OutputAudioFormat string             `json:"output_audio_format"`
	InputTranscription *transcriptionCfg `json:"input_audio_transcription,omitempty"`
}

type transcriptionCfg struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // transport text (base64) PCM16
}

// serverErrorDetail is the nested error object in a Realtime error event.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── channel ───────────────────────────────────────────────────────────────────

type channel struct {
	conn         *websocket.Conn
	audioCh      chan []byte
	transcripts  chan realtime.Transcript
	errorHandler func(error)

	mu     sync.Mutex
	errVal error
	closed bool

	// currentText accumulates response.audio_transcript.delta events until
	// response.audio_transcript.done is received.
	currentText string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate sends a session.update event configuring voice,
// instructions, modalities, transcription, and audio formats from cfg.
func (c *channel) sendSessionUpdate(cfg realtime.Config) error {
	params := sessionParams{
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	switch cfg.ResponseModality {
	case realtime.ModalityText:
		params.Modalities = []string{"text"}
	default:
		params.Modalities = []string{"audio", "text"}
	}
	if cfg.Voice != "" {
		params.Voice = cfg.Voice
	}
	params.Instructions = cfg.SystemPrompt
	if cfg.Language != "" {
		if params.Instructions != "" {
			params.Instructions += "\n"
		}
		params.Instructions += "Respond in language: " + cfg.Language
	}
	if cfg.TranscriptionEnabled {
		params.InputTranscription = &transcriptionCfg{Model: "whisper-1"}
	}
	return c.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *channel) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns audioCh and transcripts: it closes both when it exits.
func (c *channel) receiveLoop() {
	defer c.closeChannels()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure {
				return
			} else if status != -1 {
				c.setErr(&realtime.TransportError{
					Code:   int(status),
					Reason: "remote closed abnormally",
					Err:    err,
				})
				return
			}
			c.setErr(&realtime.TransportError{Reason: "read failed", Err: err})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		c.handleServerEvent(&evt)
	}
}

func (c *channel) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := audio.FromTransportText(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		select {
		case c.audioCh <- pcm:
		case <-c.ctx.Done():
		}

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		c.mu.Lock()
		c.currentText += evt.Delta
		c.mu.Unlock()

	case "response.audio_transcript.done":
		c.mu.Lock()
		text := c.currentText
		c.currentText = ""
		c.mu.Unlock()

		if text == "" {
			return
		}
		c.deliverTranscript(realtime.SpeakerModel, text)

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		c.deliverTranscript(realtime.SpeakerUser, evt.Transcript)

	case "error":
		c.handleErrorEvent(evt)
	}
}

func (c *channel) deliverTranscript(speaker realtime.Speaker, text string) {
	entry := realtime.Transcript{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
	}
	select {
	case c.transcripts <- entry:
	case <-c.ctx.Done():
	}
}

func (c *channel) handleErrorEvent(evt *serverEvent) {
	c.mu.Lock()
	handler := c.errorHandler
	c.mu.Unlock()

	if handler == nil {
		return
	}

	msg := "unknown error"
	if evt.Error != nil && evt.Error.Message != "" {
		msg = evt.Error.Message
	}
	handler(fmt.Errorf("openai: %s", msg))
}

func (c *channel) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

func (c *channel) closeChannels() {
	c.closeOnce.Do(func() {
		close(c.audioCh)
		close(c.transcripts)
	})
}

// ── Channel methods ───────────────────────────────────────────────────────────

// Send delivers one raw PCM16 payload to the model.
func (c *channel) Send(pcm []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("openai: channel closed")
	}
	c.mu.Unlock()

	return c.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: audio.ToTransportText(pcm),
	})
}

// Audio returns the channel on which the model's synthesized audio arrives.
func (c *channel) Audio() <-chan []byte { return c.audioCh }

// Transcripts returns the channel on which transcript entries arrive.
func (c *channel) Transcripts() <-chan realtime.Transcript { return c.transcripts }

// OnError registers a callback for non-fatal error events from the service.
func (c *channel) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorHandler = fn
}

// Err returns the first non-nil error that terminated the channel.
func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close terminates the channel and releases the connection. Idempotent.
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "channel closed")
	return nil
}
