// Command liveline runs one live voice session against a remote
// conversational agent: microphone in, synthesized speech out, transcripts
// committed per turn.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/liveline-audio/liveline/internal/config"
	"github.com/liveline-audio/liveline/internal/controller"
	"github.com/liveline-audio/liveline/internal/health"
	"github.com/liveline-audio/liveline/internal/observe"
	"github.com/liveline-audio/liveline/internal/transcript"
	"github.com/liveline-audio/liveline/internal/transcript/store"
	"github.com/liveline-audio/liveline/internal/transport"
	"github.com/liveline-audio/liveline/pkg/audio/device/native"
)

// errSessionEnded signals a clean remote close through the run group.
var errSessionEnded = errors.New("liveline: session ended")

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "liveline.yaml", "path to the YAML configuration file")
	sessionID := flag.String("session", "", "session id for logs and the turn log (default: generated)")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it live.
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Load configuration ────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(level, config.Diff(old, new))
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "liveline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "liveline: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	id := *sessionID
	if id == "" {
		id = fmt.Sprintf("session-%d", time.Now().Unix())
	}

	slog.Info("liveline starting",
		"config", *configPath,
		"session_id", id,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "liveline"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Turn log (optional) ───────────────────────────────────────────────────
	var turnStore *store.Store
	if cfg.Transcript.PostgresDSN != "" {
		turnStore, err = store.New(ctx, cfg.Transcript.PostgresDSN)
		if err != nil {
			slog.Error("failed to open turn store", "err", err)
			return 1
		}
		defer turnStore.Close()
		slog.Info("turn store connected")

		// Resuming a known session id replays its recent history first.
		window := cfg.Transcript.HistoryWindow
		if window <= 0 {
			window = time.Hour
		}
		prior, err := turnStore.Recent(ctx, id, window)
		if err != nil {
			slog.Warn("failed to load prior turns", "err", err)
		}
		for _, entry := range prior {
			if entry.Text != "" {
				fmt.Printf("[%s] %s\n", entry.Role, entry.Text)
			}
		}
		if len(prior) > 0 {
			slog.Info("resumed session history", "turns", len(prior))
		}
	}

	// The controller's turn sink must not block, so committed turns are
	// handed to a persist goroutine through a buffered channel.
	turns := make(chan transcript.Turn, 64)
	turnSink := func(turn transcript.Turn) {
		select {
		case turns <- turn:
		default:
			slog.Warn("turn queue full, dropping turn", "role", turn.Role)
		}
	}

	// ── Devices, transport, controller ────────────────────────────────────────
	platform, err := native.NewPlatform()
	if err != nil {
		slog.Error("failed to initialise audio devices", "err", err)
		return 1
	}
	defer platform.Close()

	var dialOpts []transport.Option
	if cfg.Agent.Model != "" {
		dialOpts = append(dialOpts, transport.WithModel(cfg.Agent.Model))
	}
	if cfg.Agent.BaseURL != "" {
		dialOpts = append(dialOpts, transport.WithBaseURL(cfg.Agent.BaseURL))
	}
	dialer := transport.NewDialer(cfg.Agent.APIKey, dialOpts...)

	ctrl := controller.New(platform, controller.TransportOpener(dialer), controller.Config{
		SessionID: id,
		Session: transport.Config{
			CaptureRate:         cfg.Session.CaptureRate,
			PlaybackRate:        cfg.Session.PlaybackRate,
			Channels:            cfg.Session.Channels,
			Voice:               cfg.Session.Voice,
			Instructions:        cfg.Session.Instructions,
			InputTranscription:  cfg.Session.InputTranscription,
			OutputTranscription: cfg.Session.OutputTranscription,
			HandshakeTimeout:    cfg.Agent.HandshakeTimeout,
		},
	}, controller.WithMetrics(metrics), controller.WithTurnSink(turnSink))

	// ── Run group ─────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runSession(gctx, ctrl)
	})

	g.Go(func() error {
		persistTurns(gctx, turns, turnStore, id)
		return nil
	})

	if cfg.Server.ListenAddr != "" {
		srv := newObservabilityServer(cfg.Server.ListenAddr, ctrl, turnStore, metrics)
		g.Go(func() error {
			slog.Info("observability server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("liveline: observability server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("session starting — press Ctrl+C to hang up")

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, errSessionEnded), errors.Is(err, context.Canceled):
		slog.Info("goodbye")
		return 0
	default:
		slog.Error("run error", "err", err)
		return 1
	}
}

// runSession starts the controller and blocks until the session ends or ctx
// is cancelled. A session that dies on its own ends the whole process; there
// is no automatic redial.
func runSession(ctx context.Context, ctrl *controller.Controller) error {
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		ctrl.Stop()
		return ctx.Err()
	case <-ctrl.Done():
		if err := ctrl.Err(); err != nil {
			return err
		}
		return errSessionEnded
	}
}

// persistTurns prints every committed turn and, when a store is configured,
// appends it to the turn log. It drains remaining queued turns on shutdown.
func persistTurns(ctx context.Context, turns <-chan transcript.Turn, st *store.Store, sessionID string) {
	write := func(turn transcript.Turn) {
		if turn.Text != "" {
			fmt.Printf("[%s] %s\n", turn.Role, turn.Text)
		}
		if st == nil {
			return
		}
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.WriteTurn(writeCtx, sessionID, turn); err != nil {
			slog.Warn("failed to persist turn", "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case turn := <-turns:
					write(turn)
				default:
					return
				}
			}
		case turn := <-turns:
			write(turn)
		}
	}
}

// newObservabilityServer builds the HTTP server exposing health probes and
// the Prometheus scrape endpoint.
func newObservabilityServer(addr string, ctrl *controller.Controller, st *store.Store, metrics *observe.Metrics) *http.Server {
	checkers := []health.Checker{
		{
			Name: "session",
			Check: func(context.Context) error {
				if state := ctrl.State(); state != controller.StateActive {
					return fmt.Errorf("controller is %s", state)
				}
				return nil
			},
		},
	}
	if st != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: st.Ping})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:         addr,
		Handler:      observe.Middleware(metrics)(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// applyReload applies the hot-reloadable parts of a config change. Anything
// else only takes effect on the next session.
func applyReload(level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AgentChanged || d.SessionChanged || d.TranscriptChanged {
		slog.Warn("agent, session, or transcript settings changed; restart to apply")
	}
}

// slogLevel maps a config log level onto its slog equivalent.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
