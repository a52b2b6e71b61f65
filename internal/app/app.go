// Package app wires the voxnote subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Record and Handler drive them, and Shutdown tears everything
// down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithCapture, WithModelLoader). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/voxnote/internal/api"
	"github.com/MrWong99/voxnote/internal/config"
	"github.com/MrWong99/voxnote/internal/health"
	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/recording"
	"github.com/MrWong99/voxnote/internal/store"
	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/audio/mic"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
	"github.com/MrWong99/voxnote/pkg/provider/stt/whisper"
)

// defaultStopTimeout bounds how long Record waits for queued utterances
// after the recording ends.
const defaultStopTimeout = 2 * time.Minute

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store   store.Store
	capture audio.Capture
	load    recording.ModelLoader
	session *recording.Session

	stopTimeout time.Duration

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of creating a FileStore from
// config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCapture injects an audio source instead of opening the microphone.
// The App takes ownership and closes it on Shutdown.
func WithCapture(c audio.Capture) Option {
	return func(a *App) { a.capture = c }
}

// WithModelLoader replaces the whisper model loader.
func WithModelLoader(l recording.ModelLoader) Option {
	return func(a *App) { a.load = l }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithStopTimeout bounds the wait for the pipeline when Record ends.
func WithStopTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.stopTimeout = d
		}
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together and initialises the
// recording session. A missing or broken speech model is not fatal: the App
// starts in the unavailable state and reports it through State and /readyz.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, stopTimeout: defaultStopTimeout}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Session store ─────────────────────────────────────────────────
	if a.store == nil {
		fs, err := store.NewFileStore(cfg.Storage.Root, store.WithMetrics(a.metrics))
		if err != nil {
			return nil, fmt.Errorf("app: init store: %w", err)
		}
		a.store = fs
	}

	// ── 2. Capture ───────────────────────────────────────────────────────
	if a.capture == nil {
		c, err := mic.New(
			mic.WithDevice(cfg.Audio.Device),
			mic.WithSampleRate(cfg.Audio.SampleRate),
			mic.WithFrameSize(cfg.Audio.FrameSize),
			mic.WithMetrics(a.metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("app: init capture: %w", err)
		}
		a.capture = c
	}
	a.closers = append(a.closers, a.capture.Close)

	// ── 3. Model loader ──────────────────────────────────────────────────
	if a.load == nil {
		a.load = WhisperLoader(cfg.Model.Path)
	}

	// ── 4. Recording session ─────────────────────────────────────────────
	trOpts := []stt.Option{stt.WithLanguage(cfg.Model.Language)}
	if cfg.Model.Threads > 0 {
		trOpts = append(trOpts, stt.WithThreads(cfg.Model.Threads))
	}
	a.session = recording.New(a.capture, a.store, a.load,
		recording.WithSegmenterConfig(cfg.Segmenter.Segment()),
		recording.WithBuckets(cfg.Audio.Buckets),
		recording.WithTranscriberOptions(trOpts...),
		recording.WithMetrics(a.metrics),
	)
	if err := a.session.Initialize(ctx); err != nil {
		if !errors.Is(err, recording.ErrUnavailable) {
			_ = a.capture.Close()
			return nil, fmt.Errorf("app: init recording: %w", err)
		}
		slog.Warn("starting without transcription", "model", cfg.Model.Path, "err", err)
	}

	return a, nil
}

// WhisperLoader returns a ModelLoader that loads the whisper.cpp model at
// path.
func WhisperLoader(path string) recording.ModelLoader {
	return func(context.Context) (stt.Recognizer, error) {
		m, err := whisper.Load(path)
		if err != nil {
			return nil, err
		}
		slog.Info("speech model loaded", "path", path)
		return m, nil
	}
}

// Session returns the recording session.
func (a *App) Session() *recording.Session { return a.session }

// Store returns the session store.
func (a *App) Store() store.Store { return a.store }

// ─── Running ─────────────────────────────────────────────────────────────────

// Record starts recording and calls emit for every accepted utterance, in
// order, until ctx is cancelled or until is closed. It then stops the
// recording and waits for the pipeline before returning. A nil until never
// fires.
func (a *App) Record(ctx context.Context, until <-chan struct{}, emit func(recording.Utterance)) error {
	updates, cancel := a.session.Updates()
	defer cancel()

	if err := a.session.Start(ctx); err != nil {
		return err
	}

	seen := len(a.session.State().Utterances)
	drain := func() {
		us := a.session.State().Utterances
		if len(us) < seen {
			// The session was switched underneath us.
			seen = 0
		}
		for _, u := range us[seen:] {
			emit(u)
		}
		seen = len(us)
	}

	for running := true; running; {
		select {
		case <-updates:
			drain()
		case <-until:
			running = false
		case <-ctx.Done():
			running = false
		}
	}

	stopCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), a.stopTimeout)
	defer stop()
	err := a.session.Stop(stopCtx)
	drain()
	if errors.Is(err, recording.ErrNotRecording) {
		// Stopped through another surface.
		return nil
	}
	return err
}

// Handler returns the HTTP surface: health probes and the recording API,
// wrapped in the metrics middleware. /metrics is mounted by the caller,
// which owns the Prometheus registry.
func (a *App) Handler(mux *http.ServeMux) http.Handler {
	health.New(a.Checkers()...).Register(mux)
	api.NewHandler(a.session, a.store).RegisterRoutes(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Checkers returns the readiness checks for this App.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{
		health.Flag("model", func() bool { return !a.session.State().Unavailable }, "speech model not loaded"),
	}
	if fs, ok := a.store.(*store.FileStore); ok {
		checks = append(checks, health.DirWritable("storage", fs.Root()))
	}
	return checks
}

// ApplyConfig applies the parts of a reloaded config that can change while
// running and logs the rest.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.SegmenterChanged {
		a.session.SetSegmenterConfig(d.NewSegmenter.Segment())
		slog.Info("segmenter thresholds updated; applied on next start",
			"silence_threshold", d.NewSegmenter.SilenceThreshold,
			"required_silence_frames", d.NewSegmenter.RequiredSilenceFrames,
			"min_utterance_duration", d.NewSegmenter.MinUtteranceDuration,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "settings", d.RestartRequired)
	}
	a.cfg = new
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops recording, waits for queued utterances within ctx, and
// releases the model and the capture device.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.session.Close(ctx); err != nil {
			slog.Warn("recording close error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
