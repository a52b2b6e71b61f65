// Command voxnote records voice notes and transcribes them locally.
//
// Usage:
//
//	voxnote [-config file] record
//	voxnote [-config file] transcribe -wav file [-realtime]
//	voxnote [-config file] sessions
//	voxnote [-config file] delete <id>
//	voxnote [-config file] devices
//	voxnote [-config file] serve
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxnote/internal/app"
	"github.com/MrWong99/voxnote/internal/config"
	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/recording"
	"github.com/MrWong99/voxnote/internal/store"
	"github.com/MrWong99/voxnote/pkg/audio/mic"
	"github.com/MrWong99/voxnote/pkg/audio/wavfile"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("voxnote", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration file (built-in defaults when empty)")
	fs.Usage = func() { usage(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(fs.Output())
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voxnote: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "record":
		err = cmdRecord(ctx, cfg)
	case "transcribe":
		err = cmdTranscribe(ctx, cfg, rest)
	case "sessions":
		err = cmdSessions(ctx, cfg, os.Stdout)
	case "delete":
		err = cmdDelete(ctx, cfg, rest)
	case "devices":
		err = cmdDevices(cfg, os.Stdout)
	case "serve":
		err = cmdServe(ctx, cfg, *configPath, level)
	default:
		fmt.Fprintf(os.Stderr, "voxnote: unknown command %q\n", cmd)
		usage(os.Stderr)
		return 2
	}
	if err != nil {
		if errors.Is(err, errUsage) {
			return 2
		}
		slog.Error("command failed", "command", cmd, "err", err)
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: voxnote [-config file] <command> [args]

commands:
  record                       record from the microphone until interrupted
  transcribe -wav file         transcribe a WAV file into a new session
  sessions                     list stored sessions, newest first
  delete <id>                  delete a stored session
  devices                      list capture devices, marking the configured one
  serve                        run the HTTP API and state websocket
`)
}

// ── Commands ──────────────────────────────────────────────────────────────────

func cmdRecord(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown(a)

	fmt.Fprintf(os.Stderr, "recording into session %s, press Ctrl+C to stop\n", a.Session().State().SessionID)
	if err := a.Record(ctx, nil, printUtterance); err != nil {
		return err
	}
	printSummary(a.Session().State())
	return nil
}

func cmdTranscribe(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	path := fs.String("wav", "", "WAV file to transcribe")
	realtime := fs.Bool("realtime", false, "replay at the file's own pace instead of as fast as possible")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "voxnote transcribe: -wav is required")
		return errUsage
	}

	opts := []wavfile.Option{wavfile.WithFrameSize(cfg.Audio.FrameSize)}
	if *realtime {
		opts = append(opts, wavfile.WithRealtime())
	}
	wav, err := wavfile.Open(*path, opts...)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, app.WithCapture(wav))
	if err != nil {
		_ = wav.Close()
		return err
	}
	defer shutdown(a)

	if err := a.Record(ctx, wav.Done(), printUtterance); err != nil {
		return err
	}
	printSummary(a.Session().State())
	return nil
}

func cmdSessions(ctx context.Context, cfg *config.Config, w io.Writer) error {
	st, err := store.NewFileStore(cfg.Storage.Root)
	if err != nil {
		return err
	}
	metas, err := st.LoadAll(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tCHUNKS\tTRANSCRIPT")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", m.ID, m.StartTime.Local().Format(time.DateTime), len(m.Chunks), preview(m.TranscribedText, 40))
	}
	return tw.Flush()
}

func cmdDevices(cfg *config.Config, w io.Writer) error {
	c, err := mic.New()
	if err != nil {
		return err
	}
	defer c.Close()
	names, err := c.Devices()
	if err != nil {
		return err
	}
	printDevices(w, names, cfg.Audio.Device)
	return nil
}

// printDevices writes one device per line. The device a capture configured
// with selected would open is marked with "*"; with no selection that is the
// system default, which is not marked.
func printDevices(w io.Writer, names []string, selected string) {
	if len(names) == 0 {
		fmt.Fprintln(w, "no capture devices found")
		return
	}
	want := strings.ToLower(selected)
	marked := selected == ""
	for _, name := range names {
		mark := " "
		if !marked && strings.Contains(strings.ToLower(name), want) {
			mark, marked = "*", true
		}
		fmt.Fprintf(w, "%s %s\n", mark, name)
	}
	if !marked {
		fmt.Fprintf(w, "configured device %q not found\n", selected)
	}
}

func cmdDelete(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: voxnote delete <id>")
		return errUsage
	}
	st, err := store.NewFileStore(cfg.Storage.Root)
	if err != nil {
		return err
	}
	if err := st.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func cmdServe(ctx context.Context, cfg *config.Config, configPath string, level *slog.LevelVar) error {
	// ── Observability ─────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{Registerer: reg})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = otelShutdown(sctx)
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Application ───────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, app.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer shutdown(a)

	// ── Config hot reload ─────────────────────────────────────────────────────
	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(old, new *config.Config) {
			level.Set(new.LogLevel.SlogLevel())
			a.ApplyConfig(old, new)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, a.Session().State())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func shutdown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}

func printUtterance(u recording.Utterance) {
	fmt.Printf("[%d] (%.1fs) %s\n", u.Index, u.Duration.Seconds(), u.Text)
}

func printSummary(st recording.State) {
	fmt.Fprintf(os.Stderr, "session %s: %d utterances\n", st.SessionID, len(st.Utterances))
}

func printStartupSummary(cfg *config.Config, st recording.State) {
	model := cfg.Model.Path
	if st.Unavailable {
		model += " (unavailable)"
	}
	fmt.Println("voxnote startup summary")
	fmt.Printf("  model      : %s\n", model)
	fmt.Printf("  language   : %s\n", cfg.Model.Language)
	fmt.Printf("  storage    : %s\n", cfg.Storage.Root)
	fmt.Printf("  session    : %s\n", st.SessionID)
	fmt.Printf("  listen addr: %s\n", cfg.Server.ListenAddr)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
