// Package gemini implements the realtime.Dialer interface for Google's
// Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Outbound microphone audio is transmitted as transport-text PCM
// chunks at 16 kHz; synthesized audio arrives as inline data at 24 kHz.
package gemini

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
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	// setupTimeout bounds the wait for the server's setupComplete ack.
	setupTimeout = 10 * time.Second

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// voices is the fixed named set of prebuilt Gemini Live voices.
var voices = []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the Gemini model used for channels.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer implements realtime.Dialer for Google's Gemini Live API.
type Dialer struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Dialer with the given API key and options.
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

// Voices returns the prebuilt voice names offered by Gemini Live.
func (d *Dialer) Voices() []string {
	out := make([]string, len(voices))
	copy(out, voices)
	return out
}

// Dial establishes a new Gemini Live channel with the given configuration.
// It sends the BidiGenerateContent setup message and waits for the server's
// setupComplete ack, so a returned channel has survived the handshake and
// configuration review.
func (d *Dialer) Dial(ctx context.Context, cfg realtime.Config) (realtime.Channel, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		d.baseURL, d.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
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
		done:        make(chan struct{}),
		ctx:         chCtx,
		cancel:      chCancel,
	}

	if err := ch.sendSetup(d.model, cfg); err != nil {
		chCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, &realtime.TransportError{Reason: "setup write failed", Err: err}
	}

	if err := ch.awaitSetupComplete(ctx); err != nil {
		chCancel()
		conn.Close(websocket.StatusPolicyViolation, "setup rejected")
		return nil, err
	}

	go ch.receiveLoop()
	go ch.keepaliveLoop()

	return ch, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model               string             `json:"model"`
	GenerationConfig    generationConfig   `json:"generationConfig"`
	SystemInstruction   *systemInstruction `json:"systemInstruction,omitempty"`
	InputTranscription  *json.RawMessage   `json:"inputAudioTranscription,omitempty"`
	OutputTranscription *json.RawMessage   `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // transport text (base64)
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // transport text (base64)
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── channel ───────────────────────────────────────────────────────────────────

type channel struct {
	conn         *websocket.Conn
	audioCh      chan []byte
	transcripts  chan realtime.Transcript
	errorHandler func(error)

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message built from cfg.
func (c *channel) sendSetup(model string, cfg realtime.Config) error {
	modality := "AUDIO"
	if cfg.ResponseModality == realtime.ModalityText {
		modality = "TEXT"
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{modality},
			},
		},
	}

	var instructions []part
	if cfg.SystemPrompt != "" {
		instructions = append(instructions, part{Text: cfg.SystemPrompt})
	}
	if cfg.Language != "" {
		instructions = append(instructions, part{Text: "Respond in language: " + cfg.Language})
	}
	if len(instructions) > 0 {
		msg.Setup.SystemInstruction = &systemInstruction{Parts: instructions}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	if cfg.TranscriptionEnabled {
		empty := json.RawMessage(`{}`)
		msg.Setup.InputTranscription = &empty
		msg.Setup.OutputTranscription = &empty
	}

	return c.writeJSON(msg)
}

// awaitSetupComplete reads server messages until the setupComplete ack
// arrives. An error message instead means the service rejected the
// configuration; that surfaces as a [realtime.TransportError].
func (c *channel) awaitSetupComplete(ctx context.Context) error {
	readCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	for {
		_, data, err := c.conn.Read(readCtx)
		if err != nil {
			return &realtime.TransportError{Reason: "handshake read failed", Err: err}
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return &realtime.TransportError{
				Code:   msg.Error.Code,
				Reason: fmt.Sprintf("configuration rejected: %s", msg.Error.Message),
			}
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *channel) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns audioCh and transcripts: it closes both when it exits.
func (c *channel) receiveLoop() {
	defer c.closeChannels()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			// Local close: exit cleanly.
			if c.ctx.Err() != nil {
				return
			}
			// Remote close: a normal status is a clean end of stream,
			// anything else is a transport failure.
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

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		c.handleServerMessage(&msg)
	}
}

func (c *channel) handleServerMessage(msg *serverMessage) {
	if msg.Error != nil {
		c.handleError(msg.Error)
	}
	if msg.ServerContent != nil {
		c.handleServerContent(msg.ServerContent)
	}
}

func (c *channel) handleError(ge *geminiError) {
	c.mu.Lock()
	handler := c.errorHandler
	c.mu.Unlock()

	if handler == nil {
		return
	}

	msg := "unknown error"
	if ge.Message != "" {
		msg = ge.Message
	}
	handler(fmt.Errorf("gemini: %s", msg))
}

func (c *channel) handleServerContent(sc *serverContent) {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				pcm, err := audio.FromTransportText(p.InlineData.Data)
				if err != nil || len(pcm) == 0 {
					continue
				}
				select {
				case c.audioCh <- pcm:
				case <-c.ctx.Done():
					return
				}
			}
			if p.Text != "" {
				c.deliverTranscript(realtime.SpeakerModel, p.Text)
			}
		}
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		c.deliverTranscript(realtime.SpeakerUser, sc.InputTranscription.Text)
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		c.deliverTranscript(realtime.SpeakerModel, sc.OutputTranscription.Text)
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

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (c *channel) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			_ = c.conn.Ping(pingCtx)
			cancel()
		}
	}
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

// Send delivers one raw PCM16 payload (16 kHz, s16le, mono) to the model.
func (c *channel) Send(pcm []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("gemini: channel closed")
	}
	c.mu.Unlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: "audio/pcm;rate=16000", Data: audio.ToTransportText(pcm)},
			},
		},
	}
	return c.writeJSON(msg)
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

	c.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(c.done) // signals keepaliveLoop via done channel
	c.conn.Close(websocket.StatusNormalClosure, "channel closed")
	return nil
}
