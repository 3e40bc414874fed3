package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxwire/voxwire/pkg/realtime"
	"github.com/voxwire/voxwire/pkg/realtime/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler function receives
// the accepted *websocket.Conn. The server is automatically closed when the
// test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// newDialer creates a Dialer pointing at the given test server.
func newDialer(srv *httptest.Server) *gemini.Dialer {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
}

// setupMsg mirrors the wire shape of the setup message for assertions.
type setupMsg struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
			SpeechConfig       *struct {
				VoiceConfig struct {
					PrebuiltVoiceConfig struct {
						VoiceName string `json:"voiceName"`
					} `json:"prebuiltVoiceConfig"`
				} `json:"voiceConfig"`
			} `json:"speechConfig"`
		} `json:"generationConfig"`
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
		InputTranscription  map[string]any `json:"inputAudioTranscription"`
		OutputTranscription map[string]any `json:"outputAudioTranscription"`
	} `json:"setup"`
}

// ── Dial ──────────────────────────────────────────────────────────────────────

func TestDialSendsSetup(t *testing.T) {
	t.Parallel()

	received := make(chan setupMsg, 1)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := newDialer(srv)
	ch, err := d.Dial(context.Background(), realtime.Config{
		Voice:                "Kore",
		SystemPrompt:         "You are a helpful assistant.",
		Language:             "en-US",
		ResponseModality:     realtime.ModalityAudio,
		TranscriptionEnabled: true,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	select {
	case msg := <-received:
		if !strings.HasPrefix(msg.Setup.Model, "models/") {
			t.Errorf("model %q should start with 'models/'", msg.Setup.Model)
		}
		if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
			t.Errorf("responseModalities = %v; want [AUDIO]", got)
		}
		sc := msg.Setup.GenerationConfig.SpeechConfig
		if sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
			t.Errorf("speechConfig voice = %+v; want Kore", sc)
		}
		si := msg.Setup.SystemInstruction
		if si == nil || len(si.Parts) != 2 {
			t.Fatalf("systemInstruction = %+v; want prompt and language parts", si)
		}
		if si.Parts[0].Text != "You are a helpful assistant." {
			t.Errorf("instruction part = %q", si.Parts[0].Text)
		}
		if !strings.Contains(si.Parts[1].Text, "en-US") {
			t.Errorf("language part = %q; want it to mention en-US", si.Parts[1].Text)
		}
		if msg.Setup.InputTranscription == nil || msg.Setup.OutputTranscription == nil {
			t.Error("transcription not requested despite TranscriptionEnabled")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestDialTextModality(t *testing.T) {
	t.Parallel()

	received := make(chan setupMsg, 1)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	ch, err := newDialer(srv).Dial(context.Background(), realtime.Config{
		ResponseModality: realtime.ModalityText,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	select {
	case msg := <-received:
		if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "TEXT" {
			t.Errorf("responseModalities = %v; want [TEXT]", got)
		}
		if msg.Setup.InputTranscription != nil {
			t.Error("transcription requested without TranscriptionEnabled")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestDialIncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	query := make(chan string, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		query <- r.URL.RawQuery
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := gemini.New("secret-key", gemini.WithBaseURL(wsURL(srv)))
	ch, err := d.Dial(context.Background(), realtime.Config{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	select {
	case q := <-query:
		if !strings.Contains(q, "key=secret-key") {
			t.Errorf("URL query %q should contain key=secret-key", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestDialRejectedConfiguration(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 400, "message": "unknown voice"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	_, err := newDialer(srv).Dial(context.Background(), realtime.Config{Voice: "Nobody"})
	var te *realtime.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Dial error = %v; want a TransportError", err)
	}
	if te.Code != 400 || !strings.Contains(te.Reason, "unknown voice") {
		t.Errorf("TransportError = %+v; want code 400 with the rejection message", te)
	}
}

func TestDialCancelledContext(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newDialer(srv).Dial(ctx, realtime.Config{}); err == nil {
		t.Fatal("Dial with cancelled context should return an error")
	}
}

// ── Send ──────────────────────────────────────────────────────────────────────

func TestSendEncodesAudio(t *testing.T) {
	t.Parallel()

	type realtimeInput struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	audioMsg := make(chan realtimeInput, 1)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var msg realtimeInput
		readJSON(t, conn, &msg)
		audioMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	ch, err := newDialer(srv).Dial(context.Background(), realtime.Config{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	wantPCM := []byte{0x01, 0x02, 0x03, 0x04}
	if err := ch.Send(wantPCM); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-audioMsg:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) == 0 {
			t.Fatal("no media chunks in realtimeInput")
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q; want audio/pcm;rate=16000", chunks[0].MIMEType)
		}
		got, err := base64.StdEncoding.DecodeString(chunks[0].Data)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("decoded audio = %v; want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio message")
	}
}

func TestSendAfterCloseReturnsError(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	ch, err := newDialer(srv).Dial(context.Background(), realtime.Config{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := ch.Send([]byte{1, 2, 3, 4}); err == nil {
		t.Fatal("Send after Close should return an error")
	}
}

// ── Inbound streams ───────────────────────────────────────────────────────────

func TestAudioDeliversInlineData(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	encoded := base64.StdEncoding.EncodeToString(wantPCM)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     encoded,
						}},
					},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	ch, err := newDialer(srv).Dial(context.Background(), realtime.Config{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	select {
	case chunk, ok := <-ch.Audio():
		if !ok {
			t.Fatal("Audio channel closed unexpectedly")
		}
		if string(chunk) != string(wantPCM) {
			t.Errorf("audio chunk = %v; want %v", chunk, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio chunk")
	}
}

func TestTranscriptsSpeakers(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "turn the lights on"},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{{"text": "Lights are on."}},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	ch, err := newDialer(srv).Dial(context.Background(), realtime.Config{TranscriptionEnabled: true})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	want := []realtime.Transcript{
		{Speaker: realtime.SpeakerUser, Text: "turn the lights on"},
		{Speaker: realtime.SpeakerModel, Text: "Lights are on."},
	}
	for _, w := range want {
		select {
		case entry, ok := <-ch.Transcripts():
			if !ok {
				t.Fatal("Transcripts channel closed unexpectedly")
			}
			if entry.Speaker != w.Speaker || entry.Text != w.Text {
				t.Errorf("transcript = %v/%q; want %v/%q", entry.Speaker, entry.Text, w.Speaker, w.Text)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timeout waiting for transcript")
		}
	}
}

// ── Stream end ────────────────────────────────────────────────────────────────

func TestRemoteNormalCloseEndsStreamCleanly(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		// Handler returns; the deferred normal close ends the stream.
	})

	ch, err := newDialer(srv).Dial(context.Background(), realtime.Config{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	select {
	case _, open := <-ch.Audio():
		if open {
			t.Fatal("expected the audio channel to be closed")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for the stream to end")
	}
	if err := ch.Err(); err != nil {
		t.Errorf("Err() = %v after a normal close; want nil", err)
	}
}

func TestRemoteAbnormalCloseSetsErr(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		conn.Close(websocket.StatusInternalError, "backend exploded")
	})

	ch, err := newDialer(srv).Dial(context.Background(), realtime.Config{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	select {
	case _, open := <-ch.Audio():
		if open {
			t.Fatal("expected the audio channel to be closed")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for the stream to end")
	}

	var te *realtime.TransportError
	if !errors.As(ch.Err(), &te) {
		t.Fatalf("Err() = %v; want a TransportError", ch.Err())
	}
	if te.Code != int(websocket.StatusInternalError) {
		t.Errorf("TransportError code = %d; want %d", te.Code, websocket.StatusInternalError)
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	ch, err := newDialer(srv).Dial(context.Background(), realtime.Config{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}

	select {
	case _, open := <-ch.Audio():
		if open {
			t.Error("Audio channel should be closed after Close()")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for Audio channel to close")
	}
}

// ── Voices ────────────────────────────────────────────────────────────────────

func TestVoicesFixedSet(t *testing.T) {
	t.Parallel()

	d := gemini.New("key")
	got := d.Voices()
	if len(got) == 0 {
		t.Fatal("Voices() is empty")
	}
	// Mutating the returned slice must not affect the dialer's set.
	got[0] = "Mangled"
	if d.Voices()[0] == "Mangled" {
		t.Error("Voices() returns the internal slice")
	}
}
