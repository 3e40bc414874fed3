// Command voxwire is a realtime duplex voice client: it streams microphone
// audio to a speech-to-speech backend and plays the synthesized replies
// gaplessly, with optional live transcripts on stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/health"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/stream"
	paudio "github.com/voxwire/voxwire/pkg/device/portaudio"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	voice := flag.String("voice", "", "override the configured voice")
	listVoices := flag.Bool("list-voices", false, "print the backend's voice names and exit")
	muted := flag.Bool("muted", false, "start with the microphone muted")
	flag.Parse()

	// .env is a development convenience; real environments set variables
	// directly.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxwire: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxwire: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Slog(),
	}))
	slog.SetDefault(logger)

	slog.Info("voxwire starting",
		"version", version,
		"config", *configPath,
		"backend", cfg.Backend.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Backend dialer ────────────────────────────────────────────────────────
	dialer, err := config.NewDialer(cfg.Backend)
	if err != nil {
		slog.Error("failed to create backend dialer", "err", err)
		return 1
	}

	if *listVoices {
		for _, v := range dialer.Voices() {
			fmt.Println(v)
		}
		return 0
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics provider ──────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxwire",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Audio host ────────────────────────────────────────────────────────────
	host, err := paudio.New()
	if err != nil {
		slog.Error("failed to initialise the audio host", "err", err)
		return 1
	}
	defer host.Close()

	// ── Session ───────────────────────────────────────────────────────────────
	sessionVoice := cfg.Session.Voice
	if *voice != "" {
		sessionVoice = *voice
	}

	session := stream.New(host, dialer, stream.Config{
		Voice:        sessionVoice,
		SystemPrompt: cfg.Session.SystemPrompt,
		Language:     cfg.Session.Language,
		Capabilities: stream.Capabilities{
			Playback:    cfg.Session.Playback,
			Transcripts: cfg.Session.Transcripts,
		},
		CaptureRate:  cfg.Audio.CaptureRate,
		PlaybackRate: cfg.Audio.PlaybackRate,
		BlockSize:    cfg.Audio.BlockSize,
	}, stream.WithStateListener(func(st stream.State) {
		slog.Info("session state", "state", st.String())
	}))
	session.SetMuted(*muted)

	g, gctx := errgroup.WithContext(ctx)

	// ── Observability server ──────────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		srv := newHTTPServer(cfg.Server.ListenAddr, host, session)
		g.Go(func() error {
			slog.Info("observability server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("observability server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	// ── Transcript printer ────────────────────────────────────────────────────
	if cfg.Session.Transcripts {
		g.Go(func() error {
			for {
				select {
				case entry := <-session.Transcripts():
					fmt.Printf("[%s] %s\n", entry.Speaker, entry.Text)
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

	// ── Conversation ──────────────────────────────────────────────────────────
	g.Go(func() error {
		if err := session.Connect(gctx); err != nil {
			return fmt.Errorf("connecting session: %w", err)
		}
		slog.Info("session ready — press Ctrl+C to stop")
		<-gctx.Done()
		session.Disconnect()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newHTTPServer builds the health + metrics endpoint. Readiness fails when
// the audio host has terminated or the session retains a failure diagnostic.
func newHTTPServer(addr string, host *paudio.Host, session *stream.Session) *http.Server {
	h := health.New(
		health.CheckFunc("audio-host", func(context.Context) error {
			return host.Check()
		}),
		health.CheckFunc("session", func(context.Context) error {
			return session.LastErr()
		}),
	)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
